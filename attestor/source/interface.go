package source

import (
	"context"
	"fmt"
	"sort"

	"cosmossdk.io/log"

	"github.com/gurufinglobal/attestor/attestor/types"
)

// Source executes a FactQuery. Implementations never retry and never return raw errors:
// every failure is reported through FactResult.Reason.
type Source interface {
	ID() string
	Fetch(ctx context.Context, query types.FactQuery) types.FactResult
}

// Registry maps source ids to sources. It is read-only once NewRegistry returns.
type Registry struct {
	logger  log.Logger
	sources map[string]Source
}

func NewRegistry(logger log.Logger, sources ...Source) (*Registry, error) {
	registry := &Registry{
		logger:  logger,
		sources: make(map[string]Source, len(sources)),
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		if _, dup := registry.sources[src.ID()]; dup {
			return nil, fmt.Errorf("duplicate source id %q", src.ID())
		}
		registry.sources[src.ID()] = src
		registry.logger.Info("registered fact source", "source", src.ID())
	}
	return registry, nil
}

func (r *Registry) Get(id string) (Source, bool) {
	src, ok := r.sources[id]
	return src, ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
