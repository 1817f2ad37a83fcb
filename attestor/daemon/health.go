package daemon

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"cosmossdk.io/log"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 5 * time.Second
	failStreakLimit     = 3
)

var errChainUnreachable = errors.New("chain endpoint unreachable")

type headerReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

// chainHealth polls the chain endpoint and reports it unhealthy after failStreakLimit
// consecutive failures. Failed checks are retried sooner, 2s then 4s.
type chainHealth struct {
	logger   log.Logger
	backend  headerReader
	interval time.Duration
	timeout  time.Duration

	failures atomic.Int32
}

func newChainHealth(logger log.Logger, backend headerReader) *chainHealth {
	return &chainHealth{
		logger:   logger.With("module", "health"),
		backend:  backend,
		interval: healthCheckInterval,
		timeout:  healthCheckTimeout,
	}
}

func (h *chainHealth) run(ctx context.Context) {
	wait := h.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if h.check(ctx) == nil {
			wait = h.interval
			continue
		}
		if n := h.failures.Load(); n < failStreakLimit {
			wait = time.Duration(1<<n) * time.Second
			continue
		}
		wait = h.interval
	}
}

func (h *chainHealth) check(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	head, err := h.backend.HeaderByNumber(hctx, nil)
	if err != nil {
		n := h.failures.Add(1)
		if n == failStreakLimit {
			h.logger.Error("chain endpoint failed repeatedly", "failures", n, "error", err)
		} else {
			h.logger.Warn("chain health check failed", "failures", n, "error", err)
		}
		return err
	}
	if prev := h.failures.Swap(0); prev >= failStreakLimit {
		h.logger.Info("chain endpoint recovered", "block", head.Number.String())
	}
	return nil
}

// Healthy reports errChainUnreachable once the fail streak reaches the limit.
func (h *chainHealth) Healthy() error {
	if h.failures.Load() >= failStreakLimit {
		return errChainUnreachable
	}
	return nil
}
