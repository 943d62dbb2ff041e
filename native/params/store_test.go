package params

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nativecommon "hydchain/native/common"
	"hydchain/native/treasury"
)

type memParamState struct {
	values map[string][]byte
}

func newMemParamState() *memParamState {
	return &memParamState{values: make(map[string][]byte)}
}

func (s *memParamState) ParamStoreSet(name string, value []byte) error {
	s.values[name] = append([]byte(nil), value...)
	return nil
}

func (s *memParamState) ParamStoreGet(name string) ([]byte, bool, error) {
	value, ok := s.values[name]
	return value, ok, nil
}

func TestPausesRoundTrip(t *testing.T) {
	store := NewStore(newMemParamState())

	pauses, err := store.Pauses()
	require.NoError(t, err)
	require.Empty(t, pauses)

	require.NoError(t, store.SetPauses("governor", map[string]bool{"psm": true, "treasury": false}))
	pauses, err = store.Pauses()
	require.NoError(t, err)
	require.True(t, pauses["psm"])
	require.False(t, pauses["treasury"])
}

func TestPSMSettingsRoundTrip(t *testing.T) {
	store := NewStore(newMemParamState())

	_, ok, err := store.PSM()
	require.NoError(t, err)
	require.False(t, ok)

	cap, _ := new(big.Int).SetString("250000000000000000000000000", 10)
	require.NoError(t, store.SetPSM("governor", PSMSettings{
		FeeInBps:     10,
		FeeOutBps:    20,
		MaxMintedCap: cap,
		Quota:        nativecommon.Quota{MaxRequestsPerEpoch: 30, EpochSeconds: 3600},
	}))

	settings, ok, err := store.PSM()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), settings.FeeInBps)
	require.Equal(t, uint64(20), settings.FeeOutBps)
	require.Zero(t, settings.MaxMintedCap.Cmp(cap))
	require.Equal(t, uint32(30), settings.Quota.MaxRequestsPerEpoch)
}

func TestTreasuryParamsValidated(t *testing.T) {
	store := NewStore(newMemParamState())

	// Target below threshold is rejected before anything persists.
	bad := treasury.DefaultParams()
	bad.LiquidationTargetBps = 11_000
	require.Error(t, store.SetTreasury("governor", bad))
	_, ok, err := store.Treasury()
	require.NoError(t, err)
	require.False(t, ok)

	good := treasury.DefaultParams()
	good.RedeemFeeBps = 75
	require.NoError(t, store.SetTreasury("governor", good))
	loaded, ok, err := store.Treasury()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(75), loaded.RedeemFeeBps)
	require.Equal(t, uint64(11_500), loaded.LiquidationThresholdBps)
	require.NotNil(t, loaded.DustDebt)
}

func TestOracleAndAccrualRoundTrip(t *testing.T) {
	store := NewStore(newMemParamState())

	require.NoError(t, store.SetOracle("governor", OracleSettings{MaxQuoteAgeSeconds: 300, AlertBps: 200, PauseBps: 1000}))
	oracle, ok, err := store.Oracle()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(300), oracle.MaxQuoteAgeSeconds)

	require.NoError(t, store.SetAccrual("governor", Accrual{RateBps: 250, IntervalSeconds: 86_400}))
	accrual, ok, err := store.Accrual()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(250), accrual.RateBps)
}

func TestStoreAuditsMutations(t *testing.T) {
	audit, err := OpenAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer audit.Close()
	audit.SetClock(func() time.Time { return time.Unix(1_750_000_000, 0) })

	store := NewStore(newMemParamState())
	store.SetAuditLog(audit)

	require.NoError(t, store.SetOracle("alice", OracleSettings{MaxQuoteAgeSeconds: 300}))
	require.NoError(t, store.SetOracle("bob", OracleSettings{MaxQuoteAgeSeconds: 600}))

	records, err := audit.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, KeyOracle, records[0].Key)
	require.Equal(t, "alice", records[0].Actor)
	require.Empty(t, records[0].Old)
	require.Equal(t, records[0].New, records[1].Old)
	require.NoError(t, audit.Verify())
}
