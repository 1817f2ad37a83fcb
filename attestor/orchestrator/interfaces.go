package orchestrator

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/types"
)

// Actions resolves a caller-supplied action name or id. *catalog.Catalog satisfies it.
type Actions interface {
	Lookup(nameOrID string) (catalog.Definition, bool)
}

// Evaluator is satisfied by *predicate.Evaluator.
type Evaluator interface {
	Evaluate(action types.ActionType, value float64) (bool, error)
}

// Encoder is satisfied by *verifier.Client.
type Encoder interface {
	Prepare(ctx context.Context, req types.AttestationRequest) (types.EncodedAttestation, error)
}

// ChainSubmitter is satisfied by *submitter.Submitter.
type ChainSubmitter interface {
	SubmitToHub(ctx context.Context, encoded []byte, fee *big.Int) (common.Hash, error)
	RecordAction(ctx context.Context, user common.Address, action types.ActionType, timestamp time.Time, proofData []byte) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error)
}

// Confirmer follows transactions the orchestrator did not wait for.
type Confirmer interface {
	Track(hash common.Hash, label string)
}
