package submitter

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"github.com/gurufinglobal/attestor/attestor/types"
)

var (
	hubAddr    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	ledgerAddr = common.HexToAddress("0x0000000000000000000000000000000000000b22")
	// ledgerAddr holds runtime code STOP; revertAddr holds PUSH1 0 PUSH1 0 REVERT.
	revertAddr = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

type chain struct {
	sim    *simulated.Backend
	client simulated.Client
	key    *ecdsa.PrivateKey
	id     *big.Int
}

func newChain(t *testing.T) *chain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	sim := simulated.NewBackend(ethtypes.GenesisAlloc{
		from:       {Balance: funds},
		ledgerAddr: {Code: []byte{0x00}, Balance: big.NewInt(0)},
		revertAddr: {Code: []byte{0x60, 0x00, 0x60, 0x00, 0xfd}, Balance: big.NewInt(0)},
	})
	t.Cleanup(func() { _ = sim.Close() })

	client := sim.Client()
	id, err := client.ChainID(context.Background())
	require.NoError(t, err)

	return &chain{sim: sim, client: client, key: key, id: id}
}

// nonceCounter counts pending nonce reads on top of the simulated client.
type nonceCounter struct {
	simulated.Client
	reads atomic.Int32
}

func (n *nonceCounter) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n.reads.Add(1)
	return n.Client.PendingNonceAt(ctx, account)
}

func (c *chain) submitter(t *testing.T, hub common.Address, gasLimit uint64) *Submitter {
	t.Helper()
	return c.submitterOn(t, c.client, hub, gasLimit)
}

func (c *chain) submitterOn(t *testing.T, backend Backend, hub common.Address, gasLimit uint64) *Submitter {
	t.Helper()
	s, err := New(log.NewTestLogger(t), backend, c.key, c.id, hub, ledgerAddr, gasLimit)
	require.NoError(t, err)
	s.pollInterval = 10 * time.Millisecond
	return s
}

func TestSubmitToHub_PaysFeeAndConfirms(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	s := c.submitter(t, hubAddr, 200_000)
	ctx := context.Background()

	fee := big.NewInt(1_000_000)
	hash, err := s.SubmitToHub(ctx, []byte{0xca, 0xfe}, fee)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)

	c.sim.Commit()

	receipt, err := s.AwaitConfirmation(ctx, hash, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)

	bal, err := c.client.BalanceAt(ctx, hubAddr, nil)
	require.NoError(t, err)
	require.Equal(t, fee.String(), bal.String())

	tx, _, err := c.client.TransactionByHash(ctx, hash)
	require.NoError(t, err)
	method, err := hubABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, HubMethod, method.Name)
}

func TestRecordAction_EncodesLedgerCall(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	s := c.submitter(t, hubAddr, 200_000)
	ctx := context.Background()

	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	action := types.NewActionType("temperature-over-threshold")
	ts := time.Unix(1_700_000_000, 0)
	proof, err := Proof{HubTxHash: common.HexToHash("0x01"), SourceID: "weather/London", Value: "16.2"}.Encode()
	require.NoError(t, err)

	hash, err := s.RecordAction(ctx, user, action, ts, proof)
	require.NoError(t, err)
	c.sim.Commit()

	_, err = s.AwaitConfirmation(ctx, hash, 2*time.Second)
	require.NoError(t, err)

	tx, _, err := c.client.TransactionByHash(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, ledgerAddr, *tx.To())
	require.Zero(t, tx.Value().Sign())

	method, err := ledgerABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, user, args[0].(common.Address))
	require.Equal(t, [32]byte(action), args[1].([32]byte))
	require.Equal(t, int64(1_700_000_000), args[2].(*big.Int).Int64())

	decoded, err := DecodeProof(args[3].([]byte))
	require.NoError(t, err)
	require.Equal(t, "16.2", decoded.Value)
	require.Equal(t, common.HexToHash("0x01"), decoded.HubTxHash)
}

func TestSubmit_SequentialNoncesWithoutMining(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	s := c.submitter(t, hubAddr, 200_000)
	ctx := context.Background()

	h1, err := s.SubmitToHub(ctx, []byte{1}, big.NewInt(1))
	require.NoError(t, err)
	h2, err := s.RecordAction(ctx, common.HexToAddress("0x01"), types.NewActionType("a"), time.Now(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.accountInfo.CurrentNonce())

	c.sim.Commit()
	for _, h := range []common.Hash{h1, h2} {
		_, err := s.AwaitConfirmation(ctx, h, 2*time.Second)
		require.NoError(t, err)
	}
}

func TestSubmitToHub_EstimationRevertIsHubFailure(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	// Without a fixed gas limit the call is estimated and the revert surfaces before sending.
	backend := &nonceCounter{Client: c.client}
	s := c.submitterOn(t, backend, revertAddr, 0)
	ctx := context.Background()

	_, err := s.SubmitToHub(ctx, []byte{1}, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrHubSubmissionFailed)
	require.Equal(t, uint64(0), s.accountInfo.CurrentNonce())
	require.Equal(t, int32(1), backend.reads.Load())

	// The failed send forces a fresh nonce read before the ledger call.
	hash, err := s.RecordAction(ctx, common.HexToAddress("0x01"), types.NewActionType("a"), time.Now(), nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), backend.reads.Load())
	require.Equal(t, uint64(1), s.accountInfo.CurrentNonce())

	// A successful send keeps the local nonce.
	_, err = s.RecordAction(ctx, common.HexToAddress("0x02"), types.NewActionType("a"), time.Now(), nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), backend.reads.Load())

	c.sim.Commit()
	receipt, err := s.AwaitConfirmation(ctx, hash, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
}

func TestAwaitConfirmation_Reverted(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	s := c.submitter(t, revertAddr, 100_000)
	ctx := context.Background()

	hash, err := s.SubmitToHub(ctx, []byte{1}, big.NewInt(1))
	require.NoError(t, err)
	c.sim.Commit()

	receipt, err := s.AwaitConfirmation(ctx, hash, 2*time.Second)
	require.ErrorIs(t, err, ErrReverted)
	require.NotNil(t, receipt)
	require.Equal(t, ethtypes.ReceiptStatusFailed, receipt.Status)
}

func TestAwaitConfirmation_Timeout(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	s := c.submitter(t, hubAddr, 100_000)

	hash, err := s.SubmitToHub(context.Background(), []byte{1}, big.NewInt(1))
	require.NoError(t, err)

	_, err = s.AwaitConfirmation(context.Background(), hash, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()
	c := newChain(t)
	s := c.submitter(t, hubAddr, 100_000)
	ctx := context.Background()

	_, err := s.SubmitToHub(ctx, nil, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrHubSubmissionFailed)
	_, err = s.SubmitToHub(ctx, []byte{1}, big.NewInt(-1))
	require.ErrorIs(t, err, types.ErrHubSubmissionFailed)
	_, err = s.RecordAction(ctx, common.Address{}, types.NewActionType("a"), time.Now(), nil)
	require.ErrorIs(t, err, types.ErrRecordingFailed)

	_, err = New(log.NewNopLogger(), c.client, nil, c.id, hubAddr, ledgerAddr, 0)
	require.ErrorIs(t, err, types.ErrConfiguration)
	_, err = New(log.NewNopLogger(), c.client, c.key, c.id, common.Address{}, ledgerAddr, 0)
	require.ErrorIs(t, err, types.ErrConfiguration)
}
