package core

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hydchain/config"
	"hydchain/core/events"
	"hydchain/core/types"
	"hydchain/crypto"
	nativecommon "hydchain/native/common"
	"hydchain/native/fault"
	"hydchain/native/ledger"
	"hydchain/native/oracle"
	"hydchain/native/params"
	"hydchain/native/psm"
	"hydchain/native/treasury"
	"hydchain/observability"
	"hydchain/state"
	"hydchain/storage"
)

var (
	// ErrNotGovernance rejects governance operations from unprivileged callers.
	ErrNotGovernance = errors.New("node: caller lacks governance role")
	// ErrNotPauser rejects pause toggles from callers without either the
	// pauser or governance role.
	ErrNotPauser = errors.New("node: caller lacks pauser role")
	// ErrGenesisApplied rejects a second genesis application against a
	// populated state database.
	ErrGenesisApplied = errors.New("node: genesis already applied")
)

var genesisAppliedKey = []byte("node/genesis-applied")

// deviationLatchKey stores the assets whose oracle pause latch is set, so a
// restart keeps blocking deposits until governance clears the latch.
var deviationLatchKey = []byte("oracle/deviation-latched")

// eventJournalCap bounds the in-memory event journal; older entries roll off.
const eventJournalCap = 4096

// Config carries the node construction knobs the genesis document and runtime
// config decide: the reference stable symbol and the oracle freshness and
// deviation thresholds.
type Config struct {
	StableSymbol string
	MaxQuoteAge  time.Duration
	AlertBps     uint64
	PauseBps     uint64
}

func (c *Config) normalize() {
	if c.StableSymbol == "" {
		c.StableSymbol = "USDR"
	}
	if c.MaxQuoteAge <= 0 {
		c.MaxQuoteAge = 5 * time.Minute
	}
	if c.AlertBps == 0 {
		c.AlertBps = 300
	}
	if c.PauseBps == 0 {
		c.PauseBps = 500
	}
}

// Node is the central controller: it owns the state manager, the engines, the
// oracle aggregator, and the governance parameter store, and serializes every
// public operation behind a single mutex so no caller ever observes a partial
// state transition.
type Node struct {
	stateMu sync.Mutex
	db      storage.Database
	state   *state.Manager
	clock   func() time.Time

	ledger   *ledger.Engine
	psm      *psm.Engine
	vault    *treasury.Engine
	receipts *psm.ReceiptLedger
	oracle   *oracle.Aggregator
	params   *params.Store
	pauses   *nativecommon.PauseSet

	// bootstrapFeed carries genesis manual prices until live feeds take over.
	bootstrapFeed *oracle.ManualFeed

	stableSymbol string
	genesisAddr  crypto.Address
	accrualAddr  crypto.Address
	lastAccrual  time.Time
	swapQuota    nativecommon.Quota

	// Construction-time oracle thresholds; persisted governance settings
	// override them field by field, zero meaning "keep the default".
	maxQuoteAge time.Duration
	alertBps    uint64
	pauseBps    uint64

	// latchMu orders deviation latch snapshots, which arrive on the poller
	// goroutine and therefore run outside stateMu.
	latchMu sync.Mutex

	journalMu sync.Mutex
	journal   []types.Event
	eventSink func(types.Event)

	psmTracer   trace.Tracer
	vaultTracer trace.Tracer
}

// NewNode wires the engines over the supplied database and reloads any
// persisted governance parameters.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	cfg.normalize()

	manager := state.NewManager(db)
	pauses := nativecommon.NewPauseSet()

	ledgerEngine := ledger.NewEngine()
	ledgerEngine.SetState(manager)
	ledgerEngine.SetPauses(pauses)

	psmAddr := crypto.ModuleAddress("psm")
	psmEngine := psm.NewEngine(psmAddr, cfg.StableSymbol)
	psmEngine.SetState(manager)
	psmEngine.SetLedger(ledgerEngine)
	psmEngine.SetPauses(pauses)

	vaultAddr := crypto.ModuleAddress("treasury")
	feeAddr := crypto.ModuleAddress("treasury/fees")
	vaultEngine := treasury.NewEngine(vaultAddr, feeAddr, treasury.DefaultParams())
	vaultEngine.SetState(manager)
	vaultEngine.SetLedger(ledgerEngine)
	vaultEngine.SetPauses(pauses)

	aggregator := oracle.NewAggregator(cfg.MaxQuoteAge, cfg.AlertBps, cfg.PauseBps)
	vaultEngine.SetOracle(aggregator)
	bootstrap := oracle.NewManualFeed("genesis")
	aggregator.Register(bootstrap)

	genesisAddr := crypto.ModuleAddress("genesis")
	accrualAddr := crypto.ModuleAddress("accrual")
	ledgerEngine.SetMinter(psmAddr)
	ledgerEngine.SetMinter(vaultAddr)
	ledgerEngine.SetMinter(genesisAddr)
	ledgerEngine.SetAccruer(accrualAddr)

	node := &Node{
		db:            db,
		state:         manager,
		clock:         time.Now,
		ledger:        ledgerEngine,
		psm:           psmEngine,
		vault:         vaultEngine,
		receipts:      psm.NewReceiptLedger(manager),
		oracle:        aggregator,
		params:        params.NewStore(manager),
		pauses:        pauses,
		bootstrapFeed: bootstrap,
		stableSymbol:  cfg.StableSymbol,
		genesisAddr:   genesisAddr,
		accrualAddr:   accrualAddr,
		maxQuoteAge:   cfg.MaxQuoteAge,
		alertBps:      cfg.AlertBps,
		pauseBps:      cfg.PauseBps,
		psmTracer:     otel.Tracer("hyd/psm"),
		vaultTracer:   otel.Tracer("hyd/treasury"),
	}
	node.lastAccrual = node.clock()
	aggregator.SetAlertFunc(node.handleDeviation)

	if err := node.reloadParams(); err != nil {
		return nil, err
	}
	return node, nil
}

// reloadParams hydrates the engines from the persisted governance parameter
// store so a restart resumes with the configuration the operators last set.
func (n *Node) reloadParams() error {
	pauses, err := n.params.Pauses()
	if err != nil {
		return err
	}
	n.pauses.Replace(pauses)

	if settings, ok, err := n.params.PSM(); err != nil {
		return err
	} else if ok {
		n.psm.SetQuota(settings.Quota)
		n.swapQuota = settings.Quota
	}

	if vaultParams, ok, err := n.params.Treasury(); err != nil {
		return err
	} else if ok {
		if err := n.vault.SetParams(vaultParams); err != nil {
			return err
		}
	}

	if settings, ok, err := n.params.Oracle(); err != nil {
		return err
	} else if ok {
		n.applyOracleSettings(settings)
	}

	var latched []string
	if ok, err := n.state.KVGet(deviationLatchKey, &latched); err != nil {
		return err
	} else if ok {
		for _, asset := range latched {
			n.oracle.RestorePauseLatch(asset)
		}
	}
	return nil
}

// applyOracleSettings pushes persisted oracle settings into the aggregator.
// Zero fields keep the construction defaults so a genesis document can set
// just the freshness window without disabling the deviation tracker.
func (n *Node) applyOracleSettings(settings params.OracleSettings) {
	maxAge := n.maxQuoteAge
	if settings.MaxQuoteAgeSeconds > 0 {
		maxAge = time.Duration(settings.MaxQuoteAgeSeconds) * time.Second
	}
	alertBps := n.alertBps
	if settings.AlertBps > 0 {
		alertBps = settings.AlertBps
	}
	pauseBps := n.pauseBps
	if settings.PauseBps > 0 {
		pauseBps = settings.PauseBps
	}
	n.oracle.Configure(maxAge, alertBps, pauseBps)
}

// persistDeviationLatch snapshots the latched asset set. Best effort on the
// alert path, which has no error channel; the aggregator remains the source
// of truth for the running process either way.
func (n *Node) persistDeviationLatch() error {
	n.latchMu.Lock()
	defer n.latchMu.Unlock()
	latched := n.oracle.PausedAssets()
	sort.Strings(latched)
	return n.state.KVPut(deviationLatchKey, latched)
}

// SetClock overrides the time source across the node and its engines. Test
// hook.
func (n *Node) SetClock(clock func() time.Time) {
	if n == nil || clock == nil {
		return
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.clock = clock
	n.psm.SetClock(clock)
	n.vault.SetClock(clock)
	n.oracle.SetClock(clock)
	n.bootstrapFeed.SetClock(clock)
}

// SetAuditLog attaches the append-only audit trail to the governance
// parameter store.
func (n *Node) SetAuditLog(audit *params.AuditLog) {
	if n == nil {
		return
	}
	n.params.SetAuditLog(audit)
}

// Oracle exposes the price aggregator for feed registration and the poller.
func (n *Node) Oracle() *oracle.Aggregator { return n.oracle }

// StableSymbol returns the reference stable asset symbol.
func (n *Node) StableSymbol() string { return n.stableSymbol }

func (n *Node) emit(event events.Emittable) {
	evt := event.Event()
	n.journalMu.Lock()
	n.journal = append(n.journal, *evt)
	if len(n.journal) > eventJournalCap {
		n.journal = n.journal[len(n.journal)-eventJournalCap:]
	}
	sink := n.eventSink
	n.journalMu.Unlock()
	observability.Events().RecordEvent(evt.Type)
	if sink != nil {
		sink(*evt)
	}
}

// SetEventSink installs a callback invoked with every journal entry as it is
// recorded. Bridges events to external delivery without the node knowing the
// integration; the sink must not block.
func (n *Node) SetEventSink(sink func(types.Event)) {
	if n == nil {
		return
	}
	n.journalMu.Lock()
	n.eventSink = sink
	n.journalMu.Unlock()
}

// Events returns up to limit of the most recent journal entries, oldest first.
func (n *Node) Events(limit int) []types.Event {
	n.journalMu.Lock()
	defer n.journalMu.Unlock()
	if limit <= 0 || limit > len(n.journal) {
		limit = len(n.journal)
	}
	snapshot := make([]types.Event, limit)
	copy(snapshot, n.journal[len(n.journal)-limit:])
	return snapshot
}

// handleDeviation bridges oracle deviation alerts into the event journal and
// metrics. Runs on the poller goroutine, so it only touches the journal.
func (n *Node) handleDeviation(asset string, bps uint64, paused bool) {
	observability.Oracle().RecordDeviation(asset, paused)
	if paused {
		_ = n.persistDeviationLatch()
	}
	n.emit(events.OracleDeviation{
		Asset:        asset,
		DeviationBps: bps,
		Source:       "aggregator",
		Paused:       paused,
	})
}

func (n *Node) finishSpan(span trace.Span, module, op string, start time.Time, err error) {
	observability.Engine().Observe(module, op, err, n.clock().Sub(start))
	if err != nil {
		if category, ok := fault.CategoryOf(err); ok {
			observability.Engine().RecordFault(module, string(category))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func amountFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	return value
}

// --- Share ledger surface ---

// Transfer moves HYD between two holders.
func (n *Node) Transfer(from, to crypto.Address, value *big.Int) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	shares, err := n.ledger.Transfer(from, to, value)
	if err != nil {
		return nil, err
	}
	n.emit(events.LedgerTransferred{From: from, To: to, Value: value, Shares: shares})
	return shares, nil
}

// BalanceOf derives the HYD balance at the current accrual index.
func (n *Node) BalanceOf(addr crypto.Address) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.BalanceOf(addr)
}

// SharesOf returns the raw share holding.
func (n *Node) SharesOf(addr crypto.Address) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.SharesOf(addr)
}

// TotalSupply derives the outstanding HYD supply.
func (n *Node) TotalSupply() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.TotalSupply()
}

// AccrualIndex returns the current share-to-balance index.
func (n *Node) AccrualIndex() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.AccrualIndex()
}

// Accrue grows the accrual index per the governance schedule, measuring the
// elapsed period since the previous accrual against the node clock. A missing
// schedule or an empty period is a no-op.
func (n *Node) Accrue() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	schedule, ok, err := n.params.Accrual()
	if err != nil {
		return nil, err
	}
	if !ok || schedule.RateBps == 0 {
		return nil, nil
	}
	now := n.clock()
	if !now.After(n.lastAccrual) {
		return nil, nil
	}
	elapsed := uint64(now.Sub(n.lastAccrual) / time.Second)
	if elapsed == 0 {
		return nil, nil
	}
	index, err := n.ledger.Accrue(n.accrualAddr, schedule.RateBps, elapsed)
	if err != nil {
		return nil, err
	}
	n.lastAccrual = now
	n.emit(events.LedgerAccrued{RateBps: schedule.RateBps, ElapsedSeconds: elapsed, NewIndex: index})
	return index, nil
}

// AccrualSchedule returns the governance yield schedule when one is set.
func (n *Node) AccrualSchedule() (params.Accrual, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.params.Accrual()
}

// --- Peg stability surface ---

// SwapIn pulls the reference stable from the caller, mints HYD, and records a
// receipt.
func (n *Node) SwapIn(ctx context.Context, caller crypto.Address, stableAmount *big.Int) (*psm.Receipt, error) {
	start := n.clock()
	_, span := n.psmTracer.Start(ctx, "psm.swap_in",
		trace.WithAttributes(attribute.String("account", caller.String())))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	result, err := n.psm.SwapIn(caller, stableAmount)
	if err != nil {
		n.finishSpan(span, "psm", "swap_in", start, err)
		return nil, err
	}
	receipt, err := n.receipts.Record(result)
	if err != nil {
		n.finishSpan(span, "psm", "swap_in", start, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("receipt.id", receipt.ID))
	n.finishSpan(span, "psm", "swap_in", start, nil)

	observability.PSM().RecordSwap(psm.DirectionIn, amountFloat(result.StableAmount))
	n.recordReserveGauges()
	n.emit(events.PSMSwap{
		Direction:    result.Direction,
		Account:      result.Account,
		StableAmount: result.StableAmount,
		HydAmount:    result.HydAmount,
		Fee:          result.Fee,
		ReceiptID:    receipt.ID,
	})
	return receipt, nil
}

// SwapOut burns HYD from the caller and releases stable from the reserve.
func (n *Node) SwapOut(ctx context.Context, caller crypto.Address, hydAmount *big.Int) (*psm.Receipt, error) {
	start := n.clock()
	_, span := n.psmTracer.Start(ctx, "psm.swap_out",
		trace.WithAttributes(attribute.String("account", caller.String())))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	result, err := n.psm.SwapOut(caller, hydAmount)
	if err != nil {
		n.finishSpan(span, "psm", "swap_out", start, err)
		return nil, err
	}
	receipt, err := n.receipts.Record(result)
	if err != nil {
		n.finishSpan(span, "psm", "swap_out", start, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("receipt.id", receipt.ID))
	n.finishSpan(span, "psm", "swap_out", start, nil)

	observability.PSM().RecordSwap(psm.DirectionOut, amountFloat(result.StableAmount))
	n.recordReserveGauges()
	n.emit(events.PSMSwap{
		Direction:    result.Direction,
		Account:      result.Account,
		StableAmount: result.StableAmount,
		HydAmount:    result.HydAmount,
		Fee:          result.Fee,
		ReceiptID:    receipt.ID,
	})
	return receipt, nil
}

func (n *Node) recordReserveGauges() {
	reserve, err := n.psm.Reserve()
	if err != nil {
		return
	}
	observability.PSM().SetReserve(amountFloat(reserve.ReserveBalance), amountFloat(reserve.TotalMinted))
}

// Reserve returns a copy of the PSM reserve state.
func (n *Node) Reserve() (*psm.ReserveState, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.psm.Reserve()
}

// ExportReceiptsCSV renders a page of swap receipts with its checksum and the
// cursor of the following page.
func (n *Node) ExportReceiptsCSV(cursor string, limit int) ([]byte, string, string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.receipts.ExportCSV(cursor, limit)
}

// SetPSMFees updates both swap fees and persists the setting. Governance only.
func (n *Node) SetPSMFees(caller crypto.Address, feeInBps, feeOutBps uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.psm.SetFees(caller, feeInBps, feeOutBps); err != nil {
		return err
	}
	return n.persistPSMSettings(caller)
}

// SetPSMMintCap updates the global mint cap and persists the setting.
// Governance only; a zero cap disables minting entirely.
func (n *Node) SetPSMMintCap(caller crypto.Address, mintCap *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.psm.SetMintCap(caller, mintCap); err != nil {
		return err
	}
	return n.persistPSMSettings(caller)
}

// SetPSMQuota updates the per-address swap velocity limits. Governance only.
func (n *Node) SetPSMQuota(caller crypto.Address, quota nativecommon.Quota) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if !n.state.HasRole(state.RoleGovernance, caller) {
		return ErrNotGovernance
	}
	n.psm.SetQuota(quota)
	n.swapQuota = quota
	return n.persistPSMSettings(caller)
}

func (n *Node) persistPSMSettings(caller crypto.Address) error {
	reserve, err := n.psm.Reserve()
	if err != nil {
		return err
	}
	settings := params.PSMSettings{
		FeeInBps:     reserve.FeeInBps,
		FeeOutBps:    reserve.FeeOutBps,
		MaxMintedCap: reserve.MaxMintedCap,
		Quota:        n.swapQuota,
	}
	if err := n.params.SetPSM(caller.String(), settings); err != nil {
		return err
	}
	n.emit(events.PSMParamsUpdated{
		Caller:       caller,
		FeeInBps:     reserve.FeeInBps,
		FeeOutBps:    reserve.FeeOutBps,
		MaxMintedCap: reserve.MaxMintedCap,
	})
	return nil
}

// --- Collateral vault surface ---

// Deposit locks collateral and mints HYD against it at the asset's tier LTV.
func (n *Node) Deposit(ctx context.Context, owner crypto.Address, asset string, amount *big.Int) (*treasury.DepositResult, error) {
	start := n.clock()
	_, span := n.vaultTracer.Start(ctx, "treasury.deposit",
		trace.WithAttributes(
			attribute.String("owner", owner.String()),
			attribute.String("asset", oracle.NormalizeAsset(asset)),
		))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	result, err := n.vault.Deposit(owner, asset, amount)
	n.finishSpan(span, "treasury", "deposit", start, err)
	if err != nil {
		return nil, err
	}
	observability.Treasury().RecordDeposit()
	n.recordOpenPositions(result.Position.Asset)
	n.emit(events.TreasuryDeposited{
		PositionID: result.Position.ID,
		Owner:      owner,
		Asset:      result.Position.Asset,
		Amount:     amount,
		RWAValue:   result.RWAValue,
		Minted:     result.Minted,
	})
	return result, nil
}

// Redeem burns HYD against a position and releases the proportional
// collateral, less the redemption fee.
func (n *Node) Redeem(ctx context.Context, owner crypto.Address, asset string, hydAmount *big.Int) (*treasury.RedeemResult, error) {
	start := n.clock()
	_, span := n.vaultTracer.Start(ctx, "treasury.redeem",
		trace.WithAttributes(
			attribute.String("owner", owner.String()),
			attribute.String("asset", oracle.NormalizeAsset(asset)),
		))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	result, err := n.vault.Redeem(owner, asset, hydAmount)
	n.finishSpan(span, "treasury", "redeem", start, err)
	if err != nil {
		return nil, err
	}
	observability.Treasury().RecordRedemption()
	n.recordOpenPositions(result.Position.Asset)
	n.emit(events.TreasuryRedeemed{
		PositionID:         result.Position.ID,
		Owner:              owner,
		Asset:              result.Position.Asset,
		Burned:             result.Burned,
		CollateralReturned: result.CollateralReturned,
		Fee:                result.FeeCollateral,
		Early:              result.EarlyRedemption,
		Closed:             result.Closed,
	})
	return result, nil
}

// HealthFactor recomputes the position's health from a fresh oracle read.
func (n *Node) HealthFactor(owner crypto.Address, asset string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vault.HealthFactor(owner, asset)
}

// Liquidate repays an unhealthy position's debt from the liquidator and
// seizes the equivalent collateral plus penalty. First successful caller
// wins; the precondition re-check runs under the state mutex.
func (n *Node) Liquidate(ctx context.Context, liquidator, owner crypto.Address, asset string) (*treasury.LiquidationResult, error) {
	start := n.clock()
	_, span := n.vaultTracer.Start(ctx, "treasury.liquidate",
		trace.WithAttributes(
			attribute.String("owner", owner.String()),
			attribute.String("liquidator", liquidator.String()),
			attribute.String("asset", oracle.NormalizeAsset(asset)),
		))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	result, err := n.vault.Liquidate(liquidator, owner, asset)
	n.finishSpan(span, "treasury", "liquidate", start, err)
	if err != nil {
		return nil, err
	}
	observability.Treasury().RecordLiquidation(result.Partial, result.BadDebt.Sign() > 0)
	n.recordOpenPositions(result.Position.Asset)
	n.emit(events.TreasuryLiquidated{
		PositionID:       result.Position.ID,
		Owner:            owner,
		Liquidator:       liquidator,
		Asset:            result.Position.Asset,
		Repaid:           result.Repaid,
		SeizedCollateral: result.SeizedCollateral,
		BadDebt:          result.BadDebt,
		Partial:          result.Partial,
	})
	return result, nil
}

func (n *Node) recordOpenPositions(asset string) {
	positions, err := n.vault.Positions()
	if err != nil {
		return
	}
	count := 0
	for _, position := range positions {
		if position.Asset == asset && position.Open() {
			count++
		}
	}
	observability.Treasury().SetOpenPositions(asset, float64(count))
}

// PositionOf returns a copy of the (owner, asset) position.
func (n *Node) PositionOf(owner crypto.Address, asset string) (*treasury.Position, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vault.PositionOf(owner, asset)
}

// Positions returns copies of every recorded position.
func (n *Node) Positions() ([]*treasury.Position, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vault.Positions()
}

// Tiers returns copies of every configured collateral tier.
func (n *Node) Tiers() ([]*treasury.TierConfig, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vault.Tiers()
}

// Holder pairs an account with its share holding and derived balance for the
// export surface.
type Holder struct {
	Address crypto.Address
	Shares  *big.Int
	Balance *big.Int
}

// Holders lists every account with its current share holding and balance.
func (n *Node) Holders() ([]Holder, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	addresses, err := n.state.AccountList()
	if err != nil {
		return nil, err
	}
	holders := make([]Holder, 0, len(addresses))
	for _, addr := range addresses {
		shares, err := n.ledger.SharesOf(addr)
		if err != nil {
			return nil, err
		}
		balance, err := n.ledger.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		holders = append(holders, Holder{Address: addr, Shares: shares, Balance: balance})
	}
	return holders, nil
}

// --- Governance surface ---

// AddOrUpdateTier installs or replaces a collateral tier policy.
func (n *Node) AddOrUpdateTier(caller crypto.Address, tier *treasury.TierConfig) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.vault.AddOrUpdateTier(caller, tier); err != nil {
		return err
	}
	n.emit(events.TreasuryTierUpdated{
		Caller: caller,
		Asset:  tier.Asset,
		Tier:   tier.Tier,
		LTVBps: tier.LTVBps,
		Active: tier.Active,
	})
	return nil
}

// SetAssetActive toggles deposits for one collateral asset.
func (n *Node) SetAssetActive(caller crypto.Address, asset string, active bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.vault.SetAssetActive(caller, asset, active); err != nil {
		return err
	}
	tier, _, err := n.state.Tier(asset)
	if err != nil || tier == nil {
		return err
	}
	n.emit(events.TreasuryTierUpdated{
		Caller: caller,
		Asset:  tier.Asset,
		Tier:   tier.Tier,
		LTVBps: tier.LTVBps,
		Active: tier.Active,
	})
	return nil
}

// SetTreasuryParams replaces the vault risk parameters and persists them.
// Governance only.
func (n *Node) SetTreasuryParams(caller crypto.Address, p treasury.Params) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if !n.state.HasRole(state.RoleGovernance, caller) {
		return ErrNotGovernance
	}
	if err := n.vault.SetParams(p); err != nil {
		return err
	}
	if err := n.params.SetTreasury(caller.String(), n.vault.Params()); err != nil {
		return err
	}
	n.emit(events.ParamsUpdated{Key: params.KeyTreasury, Actor: caller.String()})
	return nil
}

// SetAccrualSchedule installs the yield schedule the accrual loop applies.
// Governance only.
func (n *Node) SetAccrualSchedule(caller crypto.Address, rateBps, intervalSeconds uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if !n.state.HasRole(state.RoleGovernance, caller) {
		return ErrNotGovernance
	}
	if err := n.params.SetAccrual(caller.String(), params.Accrual{RateBps: rateBps, IntervalSeconds: intervalSeconds}); err != nil {
		return err
	}
	n.emit(events.ParamsUpdated{Key: params.KeyAccrual, Actor: caller.String()})
	return nil
}

// SetPaused halts or resumes one module. Requires the pauser or governance
// role; the pause snapshot is persisted so restarts keep the halt in place.
func (n *Node) SetPaused(caller crypto.Address, module string, paused bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if !n.state.HasRole(state.RolePauser, caller) && !n.state.HasRole(state.RoleGovernance, caller) {
		return ErrNotPauser
	}
	n.pauses.SetPaused(module, paused)
	if err := n.params.SetPauses(caller.String(), n.pauses.Snapshot()); err != nil {
		return err
	}
	n.emit(events.ParamsUpdated{Key: params.KeyPauses, Actor: caller.String()})
	return nil
}

// ClearDeviation resets the oracle deviation latch for one asset, re-enabling
// deposits. Governance only.
func (n *Node) ClearDeviation(caller crypto.Address, asset string) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if !n.state.HasRole(state.RoleGovernance, caller) {
		return ErrNotGovernance
	}
	n.oracle.ClearDeviation(asset)
	return n.persistDeviationLatch()
}

// GrantRole adds an address to a role. Governance only, except the very first
// governance grant, which bootstraps from an empty role table.
func (n *Node) GrantRole(caller crypto.Address, role string, addr crypto.Address) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	members, err := n.state.RoleMembers(state.RoleGovernance)
	if err != nil {
		return err
	}
	if len(members) > 0 && !n.state.HasRole(state.RoleGovernance, caller) {
		return ErrNotGovernance
	}
	return n.state.SetRole(role, addr)
}

// --- Genesis ---

// ApplyGenesis seeds roles, balances, module parameters, tiers, and bootstrap
// oracle prices from the genesis document. It refuses to run twice.
func (n *Node) ApplyGenesis(genesis *config.Genesis) error {
	if genesis == nil {
		return errors.New("node: nil genesis")
	}
	if err := genesis.Validate(); err != nil {
		return err
	}

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	var applied []byte
	ok, err := n.state.KVGet(genesisAppliedKey, &applied)
	if err != nil {
		return err
	}
	if ok {
		return ErrGenesisApplied
	}

	for role, members := range genesis.Roles {
		for _, addr := range members {
			if err := n.state.SetRole(role, addr); err != nil {
				return err
			}
		}
	}

	if len(genesis.Pauses) > 0 {
		n.pauses.Replace(genesis.Pauses)
		if err := n.params.SetPauses("genesis", genesis.Pauses); err != nil {
			return err
		}
	}

	if genesis.PSM != nil {
		mintCap, err := config.ParseAmount(genesis.PSM.MaxMintedCap)
		if err != nil {
			return err
		}
		reserve := &psm.ReserveState{
			FeeInBps:     genesis.PSM.FeeInBps,
			FeeOutBps:    genesis.PSM.FeeOutBps,
			MaxMintedCap: mintCap,
		}
		reserve.Normalize()
		if err := n.state.SetPSMState(reserve); err != nil {
			return err
		}
		quota := genesis.PSM.Quota.Quota()
		n.psm.SetQuota(quota)
		n.swapQuota = quota
		settings := params.PSMSettings{
			FeeInBps:     genesis.PSM.FeeInBps,
			FeeOutBps:    genesis.PSM.FeeOutBps,
			MaxMintedCap: mintCap,
			Quota:        quota,
		}
		if err := n.params.SetPSM("genesis", settings); err != nil {
			return err
		}
	}

	if genesis.Treasury != nil {
		vaultParams, err := genesisTreasuryParams(genesis.Treasury)
		if err != nil {
			return err
		}
		if err := n.vault.SetParams(vaultParams); err != nil {
			return err
		}
		if err := n.params.SetTreasury("genesis", n.vault.Params()); err != nil {
			return err
		}
		for _, seed := range genesis.Treasury.Tiers {
			assetCap, err := config.ParseAmount(seed.PerAssetCapUSD)
			if err != nil {
				return err
			}
			tier := &treasury.TierConfig{
				Asset:           seed.Asset,
				Tier:            seed.Tier,
				LTVBps:          seed.LTVBps,
				MintDiscountBps: seed.MintDiscountBps,
				PerAssetCapUSD:  assetCap,
				Active:          seed.Active,
			}
			if err := tier.Validate(); err != nil {
				return err
			}
			if err := n.state.PutTier(tier); err != nil {
				return err
			}
		}
	}

	if genesis.Oracle != nil {
		settings := params.OracleSettings{
			MaxQuoteAgeSeconds: genesis.Oracle.MaxQuoteAgeSeconds,
			AlertBps:           genesis.Oracle.AlertBps,
			PauseBps:           genesis.Oracle.PauseBps,
		}
		if err := n.params.SetOracle("genesis", settings); err != nil {
			return err
		}
		n.applyOracleSettings(settings)
		for asset, raw := range genesis.Oracle.ManualPrices {
			price, err := oracle.ParsePrice(raw)
			if err != nil {
				return err
			}
			n.bootstrapFeed.Set(asset, price)
			if err := n.oracle.Refresh(context.Background(), asset); err != nil {
				return err
			}
		}
	}

	if genesis.Accrual != nil {
		schedule := params.Accrual{
			RateBps:         genesis.Accrual.RateBps,
			IntervalSeconds: genesis.Accrual.IntervalSeconds,
		}
		if err := n.params.SetAccrual("genesis", schedule); err != nil {
			return err
		}
	}
	n.lastAccrual = n.clock()

	for _, alloc := range genesis.Alloc {
		hyd, err := config.ParseAmount(alloc.Hyd)
		if err != nil {
			return err
		}
		if hyd.Sign() > 0 {
			shares, err := n.ledger.Mint(n.genesisAddr, alloc.Address, hyd)
			if err != nil {
				return err
			}
			n.emit(events.LedgerMinted{Module: n.genesisAddr, To: alloc.Address, Value: hyd, Shares: shares})
		}
		for symbol, raw := range alloc.Balances {
			amount, err := config.ParseAmount(raw)
			if err != nil {
				return err
			}
			if err := n.state.SetBalance(alloc.Address, symbol, amount); err != nil {
				return err
			}
		}
	}

	return n.state.KVPut(genesisAppliedKey, []byte{1})
}

// genesisTreasuryParams maps the genesis payload onto runtime vault
// parameters, leaving zero fields to Normalize.
func genesisTreasuryParams(seed *config.GenesisTreasury) (treasury.Params, error) {
	dust, err := config.ParseAmount(seed.DustDebt)
	if err != nil {
		return treasury.Params{}, err
	}
	p := treasury.Params{
		CooldownSeconds:         seed.CooldownSeconds,
		MinimumHoldSeconds:      seed.MinimumHoldSeconds,
		RedeemFeeBps:            seed.RedeemFeeBps,
		EarlyRedeemFeeBps:       seed.EarlyRedeemFeeBps,
		LiquidationThresholdBps: seed.LiquidationThresholdBps,
		LiquidationTargetBps:    seed.LiquidationTargetBps,
		LiquidationPenaltyBps:   seed.LiquidationPenaltyBps,
		LiquidatorShareBps:      seed.LiquidatorShareBps,
		ProtocolShareBps:        seed.ProtocolShareBps,
	}
	if dust.Sign() > 0 {
		p.DustDebt = dust
	}
	return p, nil
}
