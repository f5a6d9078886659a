package valuation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubPolicySource struct {
	policies map[int64]string
	err      error
}

func (s stubPolicySource) CostingPolicy(ctx context.Context, locationID int64) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.policies[locationID], nil
}

func TestResolveExplicitOverride(t *testing.T) {
	resolver := NewPolicyResolver(stubPolicySource{policies: map[int64]string{1: "moving_avg"}}, "fifo")

	method, err := resolver.Resolve(context.Background(), "fifo", 1)
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, method)
}

func TestResolveCompanyPolicy(t *testing.T) {
	resolver := NewPolicyResolver(stubPolicySource{policies: map[int64]string{1: "moving_avg"}}, "fifo")

	method, err := resolver.Resolve(context.Background(), "", 1)
	require.NoError(t, err)
	require.Equal(t, MethodMovingAverage, method)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	resolver := NewPolicyResolver(stubPolicySource{}, "moving_avg")

	method, err := resolver.Resolve(context.Background(), "", 7)
	require.NoError(t, err)
	require.Equal(t, MethodMovingAverage, method)
}

func TestResolveUnknownPolicyStringIsFIFO(t *testing.T) {
	resolver := NewPolicyResolver(stubPolicySource{policies: map[int64]string{1: "lifo"}}, "fifo")

	method, err := resolver.Resolve(context.Background(), "", 1)
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, method)
}

func TestResolvePropagatesSourceError(t *testing.T) {
	boom := errors.New("db down")
	resolver := NewPolicyResolver(stubPolicySource{err: boom}, "fifo")

	_, err := resolver.Resolve(context.Background(), "", 1)
	require.ErrorIs(t, err, boom)
}

func TestResolveNilSource(t *testing.T) {
	resolver := NewPolicyResolver(nil, "")

	method, err := resolver.Resolve(context.Background(), "", 1)
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, method)
}
