package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/netutil"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/types"
)

func TestNew_EmptyHomeDirFastFails(t *testing.T) {
	t.Parallel()

	_, err := New(&config.Config{}, "")
	require.Error(t, err)
}

func TestNew_RejectsMissingOrInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, t.TempDir())
	require.ErrorIs(t, err, types.ErrConfiguration)

	// Defaults carry no contract addresses or signing key.
	cfg := config.Default()
	_, err = New(&cfg, t.TempDir())
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestNewTelemetry(t *testing.T) {
	t.Parallel()

	sink, err := newTelemetry(config.TelemetryConfig{})
	require.NoError(t, err)
	require.Nil(t, sink)
}

func TestNewLogger_Level(t *testing.T) {
	t.Parallel()

	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("")
	require.NoError(t, err)
	_, err = newLogger("loud")
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestDaemon_ServesAttestationsEndToEnd(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	funds := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	sim := simulated.NewBackend(ethtypes.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
	})
	t.Cleanup(func() { _ = sim.Close() })
	client := sim.Client()
	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)

	var verifierCalls atomic.Int32
	verifierSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifierCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"VALID","abiEncodedRequest":"0x0102030405"}`))
	}))
	t.Cleanup(verifierSrv.Close)

	cfg := config.Default()
	cfg.Source.APIKey = "weather-secret"
	cfg.Verifier.BaseURL = verifierSrv.URL
	cfg.Verifier.APIKey = "verifier-secret"
	cfg.Chain.HubAddress = "0x0000000000000000000000000000000000000a11"
	cfg.Chain.LedgerAddress = "0x0000000000000000000000000000000000000b22"
	cfg.Chain.Fee = "1000"
	cfg.Chain.GasLimit = 200_000
	cfg.Chain.ConfirmationTimeoutSec = 1

	d, err := assemble(&cfg, t.TempDir(), log.NewTestLogger(t), client, chainID, key, metrics.NewInmemSink(time.Second, time.Minute))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln = netutil.LimitListener(ln, 4)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.serve(ctx, ln))
	base := "http://" + ln.Addr().String()

	post := func(action string) (int, map[string]any) {
		body := fmt.Sprintf(`{"userAddress":"0x00000000000000000000000000000000000a11ce","actionType":%q}`, action)
		resp, err := http.Post(base+"/request-attestation", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, body := post("not-an-action")
	require.Equal(t, http.StatusBadRequest, status)
	require.Zero(t, verifierCalls.Load())

	status, body = post(catalog.SustainableTransportDistance)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, 7.5, body["value"])
	require.Equal(t, 1, int(verifierCalls.Load()))

	hubTx := common.HexToHash(body["txHash"].(string))
	recordTx := common.HexToHash(body["recordTxHash"].(string))
	sim.Commit()

	for _, h := range []common.Hash{hubTx, recordTx} {
		receipt, err := d.submitter.AwaitConfirmation(context.Background(), h, 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
	}

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hubBalance, err := client.BalanceAt(context.Background(), common.HexToAddress(cfg.Chain.HubAddress), nil)
	require.NoError(t, err)
	require.Equal(t, "1000", hubBalance.String())

	cancel()
	select {
	case <-d.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, err = http.Get(base + "/healthz")
	require.Error(t, err)
}

type waiterStub struct {
	calls atomic.Int32
	block chan struct{}
}

func (w *waiterStub) AwaitConfirmation(ctx context.Context, hash common.Hash, _ time.Duration) (*ethtypes.Receipt, error) {
	w.calls.Add(1)
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &ethtypes.Receipt{TxHash: hash, Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func TestTracker_DeduplicatesPendingHashes(t *testing.T) {
	t.Parallel()

	waiter := &waiterStub{block: make(chan struct{})}
	tr := NewTracker(context.Background(), log.NewNopLogger(), waiter, time.Second, 2)

	h := common.HexToHash("0x01")
	tr.Track(h, "hub:a")
	tr.Track(h, "hub:a")
	tr.Track(common.HexToHash("0x02"), "ledger:a")
	require.Equal(t, 2, tr.Pending())

	close(waiter.block)
	tr.Wait()
	require.Equal(t, int32(2), waiter.calls.Load())
	require.Zero(t, tr.Pending())
}

func TestTracker_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	waiter := &waiterStub{block: make(chan struct{})}
	tr := NewTracker(ctx, log.NewNopLogger(), waiter, time.Minute, 1)

	tr.Track(common.HexToHash("0x01"), "hub:a")
	cancel()

	done := make(chan struct{})
	go func() {
		tr.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not stop")
	}
}
