package orchestrator

import (
	errorsmod "cosmossdk.io/errors"
	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/types"
)

type runFunc func() (types.SubmissionRecord, error)

// inFlight serializes orchestrations that share a key for the whole lifetime of one run.
type inFlight interface {
	Do(key string, fn runFunc) (types.SubmissionRecord, error)
}

func newInFlight(policy string) (inFlight, error) {
	switch policy {
	case config.InFlightReject:
		return &rejectInFlight{active: cmap.New[struct{}]()}, nil
	case config.InFlightWait:
		return &waitInFlight{}, nil
	default:
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "unknown in-flight policy %q", policy)
	}
}

// rejectInFlight refuses a second caller while the key is held.
type rejectInFlight struct {
	active cmap.ConcurrentMap[string, struct{}]
}

func (r *rejectInFlight) Do(key string, fn runFunc) (types.SubmissionRecord, error) {
	if !r.active.SetIfAbsent(key, struct{}{}) {
		return types.SubmissionRecord{}, errorsmod.Wrapf(types.ErrRequestInFlight, "key %s", key)
	}
	defer r.active.Remove(key)

	return fn()
}

// waitInFlight parks later callers on the running orchestration and hands them its record.
type waitInFlight struct {
	group singleflight.Group
}

func (w *waitInFlight) Do(key string, fn runFunc) (types.SubmissionRecord, error) {
	v, err, _ := w.group.Do(key, func() (any, error) {
		return fn()
	})
	record, _ := v.(types.SubmissionRecord)
	return record, err
}
