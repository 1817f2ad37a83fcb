package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gurufinglobal/attestor/attestor/types"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	temp := types.NewActionType("temperature-over-threshold")
	dist := types.NewActionType("sustainable-transport-distance")

	ev, err := NewEvaluator(map[types.ActionType]Rule{
		temp: {Threshold: 15, Comparison: GreaterThan, Unit: "celsius"},
		dist: {Threshold: 5, Comparison: GreaterThanOrEqual, Unit: "km"},
	})
	require.NoError(t, err)

	cases := []struct {
		name   string
		action types.ActionType
		value  float64
		want   bool
	}{
		{"scenario_a", temp, 16.2, true},
		{"scenario_b", temp, 10.0, false},
		{"strict_boundary", temp, 15.0, false},
		{"inclusive_boundary", dist, 5.0, true},
		{"below", dist, 4.99, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ev.Evaluate(tc.action, tc.value)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_UnknownActionFailsFast(t *testing.T) {
	t.Parallel()

	ev, err := NewEvaluator(nil)
	require.NoError(t, err)

	ok, err := ev.Evaluate(types.NewActionType("unknown"), 100)
	require.False(t, ok)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestEvaluate_LessThan(t *testing.T) {
	t.Parallel()

	action := types.NewActionType("cold")
	ev, err := NewEvaluator(map[types.ActionType]Rule{
		action: {Threshold: 0, Comparison: LessThanOrEqual},
	})
	require.NoError(t, err)

	for value, want := range map[float64]bool{-3: true, 0: true, 0.1: false} {
		got, err := ev.Evaluate(action, value)
		require.NoError(t, err)
		require.Equal(t, want, got, "value=%v", value)
	}
}

func TestNewEvaluator_RejectsUnknownComparison(t *testing.T) {
	t.Parallel()

	_, err := NewEvaluator(map[types.ActionType]Rule{
		types.NewActionType("x"): {Threshold: 1, Comparison: "eq"},
	})
	require.ErrorIs(t, err, types.ErrConfiguration)
}
