package submitter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type NonceClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// AccountInfo tracks the relayer's next nonce locally so that back-to-back submissions
// do not wait for the pending pool to reflect earlier ones.
type AccountInfo struct {
	client  NonceClient
	address common.Address
	nonce   uint64
}

func NewAccountInfo(client NonceClient, address common.Address) *AccountInfo {
	return &AccountInfo{
		client:  client,
		address: address,
	}
}

func (a *AccountInfo) Address() common.Address {
	return a.address
}

func (a *AccountInfo) CurrentNonce() uint64 {
	return atomic.LoadUint64(&a.nonce)
}

func (a *AccountInfo) IncrementNonce() {
	atomic.AddUint64(&a.nonce, 1)
}

func (a *AccountInfo) ResetAccountInfo(ctx context.Context) error {
	// Use a bounded timeout even if caller context is long-lived.
	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	nonce, err := a.client.PendingNonceAt(subCtx, a.address)
	if err != nil {
		return fmt.Errorf("query pending nonce: %w", err)
	}

	atomic.StoreUint64(&a.nonce, nonce)
	return nil
}
