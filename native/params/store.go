package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	nativecommon "hydchain/native/common"
	"hydchain/native/treasury"
)

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// PSMSettings is the governance payload for the peg stability module: swap
// fees, the global mint cap, and the per-address swap velocity quota.
type PSMSettings struct {
	FeeInBps     uint64             `json:"feeInBps"`
	FeeOutBps    uint64             `json:"feeOutBps"`
	MaxMintedCap *big.Int           `json:"maxMintedCap"`
	Quota        nativecommon.Quota `json:"quota"`
}

// OracleSettings is the governance payload for price feed handling.
type OracleSettings struct {
	MaxQuoteAgeSeconds uint64 `json:"maxQuoteAgeSeconds"`
	AlertBps           uint64 `json:"alertBps"`
	PauseBps           uint64 `json:"pauseBps"`
}

// Accrual is the governance payload for the yield schedule applied to the
// share ledger's global index.
type Accrual struct {
	RateBps         uint64 `json:"rateBps"`
	IntervalSeconds uint64 `json:"intervalSeconds"`
}

// Store provides typed accessors for governance-controlled parameters. Values
// are marshalled as JSON to align with governance proposal payloads; an
// optional audit log records every mutation.
type Store struct {
	state StoreState
	audit *AuditLog
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

// SetAuditLog attaches an append-only mutation log. Nil detaches it.
func (s *Store) SetAuditLog(audit *AuditLog) {
	if s == nil {
		return
	}
	s.audit = audit
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// set encodes, audits, and persists one parameter payload.
func (s *Store) set(key, actor string, value interface{}) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("params: encode %s: %w", key, err)
	}
	if s.audit != nil {
		previous, _, err := state.ParamStoreGet(key)
		if err != nil {
			return err
		}
		if err := s.audit.Append(key, previous, encoded, actor); err != nil {
			return fmt.Errorf("params: audit %s: %w", key, err)
		}
	}
	return state.ParamStoreSet(key, encoded)
}

// get decodes one parameter payload, reporting presence.
func (s *Store) get(key string, out interface{}) (bool, error) {
	state, err := s.withState()
	if err != nil {
		return false, err
	}
	raw, ok, err := state.ParamStoreGet(key)
	if err != nil {
		return false, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("params: decode %s: %w", key, err)
	}
	return true, nil
}

// SetPauses persists the module pause flags.
func (s *Store) SetPauses(actor string, pauses map[string]bool) error {
	return s.set(KeyPauses, actor, pauses)
}

// Pauses loads the persisted pause flags. When unset, an empty map is
// returned so every module runs.
func (s *Store) Pauses() (map[string]bool, error) {
	pauses := make(map[string]bool)
	if _, err := s.get(KeyPauses, &pauses); err != nil {
		return nil, err
	}
	return pauses, nil
}

// SetPSM persists the peg stability module settings.
func (s *Store) SetPSM(actor string, settings PSMSettings) error {
	return s.set(KeyPSM, actor, settings)
}

// PSM loads the persisted peg stability module settings.
func (s *Store) PSM() (PSMSettings, bool, error) {
	var settings PSMSettings
	ok, err := s.get(KeyPSM, &settings)
	if err != nil {
		return PSMSettings{}, false, err
	}
	if settings.MaxMintedCap == nil {
		settings.MaxMintedCap = big.NewInt(0)
	}
	return settings, ok, nil
}

// SetTreasury persists the collateral vault risk parameters after validating
// them, so a bad governance payload never reaches the engine.
func (s *Store) SetTreasury(actor string, p treasury.Params) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	return s.set(KeyTreasury, actor, p)
}

// Treasury loads the persisted vault risk parameters.
func (s *Store) Treasury() (treasury.Params, bool, error) {
	var p treasury.Params
	ok, err := s.get(KeyTreasury, &p)
	if err != nil {
		return treasury.Params{}, false, err
	}
	if ok {
		p.Normalize()
	}
	return p, ok, nil
}

// SetOracle persists the oracle freshness and deviation settings.
func (s *Store) SetOracle(actor string, settings OracleSettings) error {
	return s.set(KeyOracle, actor, settings)
}

// Oracle loads the persisted oracle settings.
func (s *Store) Oracle() (OracleSettings, bool, error) {
	var settings OracleSettings
	ok, err := s.get(KeyOracle, &settings)
	if err != nil {
		return OracleSettings{}, false, err
	}
	return settings, ok, nil
}

// SetAccrual persists the yield accrual schedule.
func (s *Store) SetAccrual(actor string, accrual Accrual) error {
	return s.set(KeyAccrual, actor, accrual)
}

// Accrual loads the persisted yield accrual schedule.
func (s *Store) Accrual() (Accrual, bool, error) {
	var accrual Accrual
	ok, err := s.get(KeyAccrual, &accrual)
	if err != nil {
		return Accrual{}, false, err
	}
	return accrual, ok, nil
}
