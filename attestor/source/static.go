package source

import (
	"context"
	"strconv"
	"sync"

	"github.com/gurufinglobal/attestor/attestor/types"
)

// StaticSource returns configured values keyed by the query's SourceID.
// It backs actions whose fact is simulated and keeps tests deterministic.
type StaticSource struct {
	id     string
	mu     sync.RWMutex
	values map[string]float64
}

func NewStaticSource(id string) *StaticSource {
	return &StaticSource{id: id, values: make(map[string]float64)}
}

func (s *StaticSource) ID() string {
	return s.id
}

func (s *StaticSource) Set(sourceID string, value float64) {
	s.mu.Lock()
	s.values[sourceID] = value
	s.mu.Unlock()
}

func (s *StaticSource) Fetch(ctx context.Context, query types.FactQuery) types.FactResult {
	if err := ctx.Err(); err != nil {
		return types.FactFailed(query.SourceID, types.FetchTimeout, err.Error())
	}

	s.mu.RLock()
	value, ok := s.values[query.SourceID]
	s.mu.RUnlock()
	if !ok {
		return types.FactFailed(query.SourceID, types.FetchMissingField, "no static value for "+query.SourceID)
	}
	return types.FactOK(query.SourceID, value, strconv.FormatFloat(value, 'f', -1, 64))
}
