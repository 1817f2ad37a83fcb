package daemon

import (
	"context"
	"time"

	"cosmossdk.io/log"
	"github.com/creachadair/taskgroup"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	cmap "github.com/orcaman/concurrent-map/v2"
)

type receiptWaiter interface {
	AwaitConfirmation(ctx context.Context, hash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error)
}

// Tracker logs the receipts of transactions the orchestrator returned without awaiting.
// A bounded number of receipts is polled at a time.
type Tracker struct {
	ctx     context.Context
	logger  log.Logger
	waiter  receiptWaiter
	timeout time.Duration

	pending cmap.ConcurrentMap[string, string]
	group   *taskgroup.Group
	start   taskgroup.StartFunc
}

func NewTracker(ctx context.Context, logger log.Logger, waiter receiptWaiter, timeout time.Duration, limit int) *Tracker {
	t := &Tracker{
		ctx:     ctx,
		logger:  logger.With("module", "tracker"),
		waiter:  waiter,
		timeout: timeout,
		pending: cmap.New[string](),
	}
	t.group, t.start = taskgroup.New(nil).Limit(max(1, limit))
	return t
}

// Track queues hash for confirmation. A hash already being followed is ignored.
func (t *Tracker) Track(hash common.Hash, label string) {
	if !t.pending.SetIfAbsent(hash.Hex(), label) {
		return
	}

	t.start(func() error {
		defer t.pending.Remove(hash.Hex())

		receipt, err := t.waiter.AwaitConfirmation(t.ctx, hash, t.timeout)
		switch {
		case err == nil:
			t.logger.Info("transaction confirmed", "label", label, "tx_hash", hash.Hex(), "block", receipt.BlockNumber.String(), "gas_used", receipt.GasUsed)
		case t.ctx.Err() != nil:
			t.logger.Debug("stopped tracking transaction", "label", label, "tx_hash", hash.Hex())
		default:
			t.logger.Error("transaction not confirmed", "label", label, "tx_hash", hash.Hex(), "error", err)
		}
		return nil
	})
}

func (t *Tracker) Pending() int {
	return t.pending.Count()
}

// Wait blocks until every queued confirmation has finished.
func (t *Tracker) Wait() {
	_ = t.group.Wait()
}
