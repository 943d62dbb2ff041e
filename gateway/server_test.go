package gateway

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hydchain/config"
	"hydchain/core"
	"hydchain/crypto"
	"hydchain/integrations/webhooks"
	"hydchain/storage"
)

func gatewayAddr(tail byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = tail
	return crypto.NewAddress(crypto.HYDPrefix, buf)
}

func hydAmount(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func stableAmount(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

// newTestNode builds a node with one funded user, an active TBILL tier at
// $1.00, then performs one swap and one deposit so every export has rows.
func newTestNode(t *testing.T) (*core.Node, crypto.Address) {
	t.Helper()
	governor := gatewayAddr(0x01)
	user := gatewayAddr(0x02)

	node, err := core.NewNode(storage.NewMemDB(), core.Config{})
	require.NoError(t, err)
	now := time.Unix(1_750_000_000, 0).UTC()
	node.SetClock(func() time.Time { return now })

	genesis := &config.Genesis{
		ChainName:    "hyd-test",
		StableSymbol: "USDR",
		Roles: map[string][]crypto.Address{
			"ROLE_GOVERNANCE": {governor},
			"ROLE_PAUSER":     {governor},
		},
		Alloc: []config.GenesisAlloc{
			{
				Address: user,
				Balances: map[string]string{
					"USDR":  stableAmount(500).String(),
					"TBILL": hydAmount(1000).String(),
				},
			},
		},
		PSM: &config.GenesisPSM{
			FeeInBps:     10,
			FeeOutBps:    10,
			MaxMintedCap: hydAmount(1_000_000).String(),
		},
		Treasury: &config.GenesisTreasury{
			Tiers: []config.GenesisTier{
				{Asset: "TBILL", Tier: 1, LTVBps: 6000, Active: true},
			},
		},
		Oracle: &config.GenesisOracle{
			MaxQuoteAgeSeconds: 300,
			ManualPrices:       map[string]string{"TBILL": "1.00"},
		},
	}
	require.NoError(t, node.ApplyGenesis(genesis))

	_, err = node.SwapIn(context.Background(), user, stableAmount(100))
	require.NoError(t, err)
	_, err = node.Deposit(context.Background(), user, "TBILL", hydAmount(1000))
	require.NoError(t, err)
	return node, user
}

func newTestServer(t *testing.T, node *core.Node, dispatcher *webhooks.Dispatcher) *httptest.Server {
	t.Helper()
	server, err := NewServer(node, Config{
		NetworkName:   "hyd-test",
		ExportDir:     t.TempDir(),
		RatePerSecond: 100,
		RateBurst:     100,
		Dispatcher:    dispatcher,
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthAndStatus(t *testing.T) {
	node, _ := newTestNode(t)
	ts := newTestServer(t, node, nil)

	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var health map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "hyd-test", health["network"])

	res, err = http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var status struct {
		Network       string `json:"network"`
		StableSymbol  string `json:"stableSymbol"`
		TotalSupply   string `json:"totalSupply"`
		FeeInBps      uint64 `json:"feeInBps"`
		OpenPositions int    `json:"openPositions"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	require.Equal(t, "hyd-test", status.Network)
	require.Equal(t, "USDR", status.StableSymbol)
	require.NotEqual(t, "0", status.TotalSupply)
	require.Equal(t, uint64(10), status.FeeInBps)
	require.Equal(t, 1, status.OpenPositions)
}

func TestPositionsExportCSV(t *testing.T) {
	node, user := newTestNode(t)
	ts := newTestServer(t, node, nil)

	res, err := http.Get(ts.URL + "/v1/positions/export.csv")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, res.Header.Get("X-Checksum-Sha256"), 64)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "position_id,owner,asset"))
	require.Contains(t, string(body), "TBILL")
	require.Contains(t, string(body), user.String())
}

func TestHoldersCSV(t *testing.T) {
	node, user := newTestNode(t)
	ts := newTestServer(t, node, nil)

	res, err := http.Get(ts.URL + "/v1/holders.csv")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "address,shares,balance"))
	require.Contains(t, string(body), user.String())
}

func TestReceiptsCSVPagination(t *testing.T) {
	node, _ := newTestNode(t)
	ts := newTestServer(t, node, nil)

	res, err := http.Get(ts.URL + "/v1/psm/receipts.csv?limit=10")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, res.Header.Get("X-Next-Cursor"))
	require.Len(t, res.Header.Get("X-Checksum-Sha256"), 64)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)

	res, err = http.Get(ts.URL + "/v1/psm/receipts.csv?limit=-1")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSnapshotWritesParquetAndNotifies(t *testing.T) {
	received := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case received <- r.Header.Get("X-HYD-Event"):
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()
	dispatcher, err := webhooks.NewDispatcher(hook.URL, []byte("secret"))
	require.NoError(t, err)
	defer dispatcher.Close()

	node, _ := newTestNode(t)
	ts := newTestServer(t, node, dispatcher)

	res, err := http.Post(ts.URL+"/v1/positions/snapshot", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var job struct {
		JobID string `json:"jobId"`
		Path  string `json:"path"`
		Rows  int    `json:"rows"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&job))
	require.NotEmpty(t, job.JobID)
	require.Equal(t, 1, job.Rows)

	info, err := os.Stat(job.Path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	select {
	case event := <-received:
		require.Equal(t, string(webhooks.EventSnapshotReady), event)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestEventsEndpoint(t *testing.T) {
	node, _ := newTestNode(t)
	ts := newTestServer(t, node, nil)

	res, err := http.Get(ts.URL + "/v1/events?limit=5")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload struct {
		Events []struct {
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.Events)
	require.LessOrEqual(t, len(payload.Events), 5)
}
