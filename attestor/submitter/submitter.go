package submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gurufinglobal/attestor/attestor/types"
)

const defaultPollInterval = time.Second

var (
	// ErrReverted is returned by AwaitConfirmation for a mined transaction with failed status.
	ErrReverted = errorsmod.Register(types.Codespace, 20, "transaction reverted")
	// ErrNotConfirmed is returned when no receipt appeared before the timeout.
	ErrNotConfirmed = errorsmod.Register(types.Codespace, 21, "transaction not confirmed")
)

// Backend is what the submitter needs from a chain client. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Submitter signs and sends the hub and ledger transactions of the relayer account.
// Sends are serialized so nonces are assigned in order; nothing is resent automatically.
type Submitter struct {
	logger  log.Logger
	backend Backend
	key     *ecdsa.PrivateKey
	chainID *big.Int

	gasLimit     uint64
	pollInterval time.Duration

	accountInfo *AccountInfo
	hubAddr     common.Address
	ledgerAddr  common.Address
	hub         *bind.BoundContract
	ledger      *bind.BoundContract

	mu     sync.Mutex
	synced bool
}

func New(
	logger log.Logger,
	backend Backend,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	hubAddr, ledgerAddr common.Address,
	gasLimit uint64,
) (*Submitter, error) {
	if key == nil {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "signing key is nil")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "chain id must be positive")
	}
	if hubAddr == (common.Address{}) || ledgerAddr == (common.Address{}) {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "hub and ledger addresses are required")
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	return &Submitter{
		logger:       logger.With("module", "submitter", "from", from.Hex()),
		backend:      backend,
		key:          key,
		chainID:      new(big.Int).Set(chainID),
		gasLimit:     gasLimit,
		pollInterval: defaultPollInterval,
		accountInfo:  NewAccountInfo(backend, from),
		hubAddr:      hubAddr,
		ledgerAddr:   ledgerAddr,
		hub:          bind.NewBoundContract(hubAddr, hubABI, backend, backend, backend),
		ledger:       bind.NewBoundContract(ledgerAddr, ledgerABI, backend, backend, backend),
	}, nil
}

func (s *Submitter) Address() common.Address {
	return s.accountInfo.Address()
}

// SubmitToHub pays fee and forwards the encoded request to the hub. It returns once the
// transaction is in the pending pool; confirmation is a separate step.
func (s *Submitter) SubmitToHub(ctx context.Context, encoded []byte, fee *big.Int) (common.Hash, error) {
	if len(encoded) == 0 {
		return common.Hash{}, errorsmod.Wrap(types.ErrHubSubmissionFailed, "encoded request is empty")
	}
	if fee == nil || fee.Sign() < 0 {
		return common.Hash{}, errorsmod.Wrap(types.ErrHubSubmissionFailed, "fee must be non-negative")
	}

	tx, err := s.transact(ctx, s.hub, fee, HubMethod, encoded)
	if err != nil {
		return common.Hash{}, errorsmod.Wrapf(types.ErrHubSubmissionFailed, "%s: %v", HubMethod, err)
	}

	s.logger.Info("hub request submitted",
		"tx_hash", tx.Hash().Hex(),
		"hub", s.hubAddr.Hex(),
		"fee", fee.String(),
		"nonce", tx.Nonce(),
	)
	return tx.Hash(), nil
}

// RecordAction writes the outcome for user to the ledger.
func (s *Submitter) RecordAction(ctx context.Context, user common.Address, action types.ActionType, timestamp time.Time, proofData []byte) (common.Hash, error) {
	if user == (common.Address{}) {
		return common.Hash{}, errorsmod.Wrap(types.ErrRecordingFailed, "user address is zero")
	}

	ts := new(big.Int).SetInt64(timestamp.Unix())
	tx, err := s.transact(ctx, s.ledger, nil, LedgerMethod, user, [32]byte(action), ts, proofData)
	if err != nil {
		return common.Hash{}, errorsmod.Wrapf(types.ErrRecordingFailed, "%s: %v", LedgerMethod, err)
	}

	s.logger.Info("action recorded",
		"tx_hash", tx.Hash().Hex(),
		"user", user.Hex(),
		"action", action.Hex(),
		"nonce", tx.Nonce(),
	)
	return tx.Hash(), nil
}

// AwaitConfirmation polls for the receipt of hash until timeout elapses.
func (s *Submitter) AwaitConfirmation(ctx context.Context, hash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil:
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return receipt, errorsmod.Wrapf(ErrReverted, "tx %s in block %s", hash.Hex(), receipt.BlockNumber)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		case waitCtx.Err() == nil:
			s.logger.Debug("receipt query failed", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-waitCtx.Done():
			return nil, errorsmod.Wrapf(ErrNotConfirmed, "tx %s after %s", hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

func (s *Submitter) transact(ctx context.Context, contract *bind.BoundContract, value *big.Int, method string, args ...any) (*ethtypes.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		if err := s.accountInfo.ResetAccountInfo(ctx); err != nil {
			return nil, err
		}
		s.synced = true
	}

	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.Value = value
	opts.GasLimit = s.gasLimit
	opts.Nonce = new(big.Int).SetUint64(s.accountInfo.CurrentNonce())

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		// The pool may or may not hold the transaction; resync before the next send.
		s.synced = false
		return nil, err
	}

	s.accountInfo.IncrementNonce()
	return tx, nil
}
