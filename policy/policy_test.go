package policy_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/policy"
)

func newEvaluator(opts ...policy.Option) *policy.ExpressionEvaluator {
	base := []policy.Option{policy.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	return policy.NewExpressionEvaluator(append(base, opts...)...)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	vars := map[string]any{
		"asset":    "asset-1",
		"purpose":  "research",
		"purposes": []any{"research", "education"},
		"counterparty": map[string]any{
			"id":     "did:web:provider",
			"region": "eu",
			"tier":   2,
		},
	}

	tests := []struct {
		name string
		expr string
		want policy.Decision
	}{
		{"empty allows", "", policy.Allow},
		{"whitespace allows", "   ", policy.Allow},
		{"literal true", "true", policy.Allow},
		{"literal false", "false", policy.Deny},
		{"top-level equality", "asset == 'asset-1'", policy.Allow},
		{"nested dotted key", "[counterparty.region] == 'eu'", policy.Allow},
		{"nested mismatch", "[counterparty.region] == 'us'", policy.Deny},
		{"numeric comparison", "[counterparty.tier] >= 2", policy.Allow},
		{"contains hit", "contains(purposes, purpose)", policy.Allow},
		{"contains miss", "contains(purposes, 'marketing')", policy.Deny},
		{"combined", "asset == 'asset-1' && [counterparty.region] == 'eu' && contains(purposes, 'education')", policy.Allow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := newEvaluator().Evaluate(context.Background(), policy.Policy{ID: "p1", Expression: tt.expr}, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Now(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ev := newEvaluator(policy.WithClock(clk))

	p := policy.Policy{ID: "expiry", Expression: "now() < expiresAt"}
	vars := map[string]any{"expiresAt": float64(clk.Now().Add(time.Hour).Unix())}

	got, err := ev.Evaluate(context.Background(), p, vars)
	require.NoError(t, err)
	assert.Equal(t, policy.Allow, got)

	clk.Advance(2 * time.Hour)
	got, err = ev.Evaluate(context.Background(), p, vars)
	require.NoError(t, err)
	assert.Equal(t, policy.Deny, got)
}

func TestEvaluate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
	}{
		{"compile error", "(asset == 'a'"},
		{"non-boolean", "1 + 2"},
		{"contains on scalar", "contains(asset, 'x')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := newEvaluator().Evaluate(context.Background(), policy.Policy{ID: "bad", Expression: tt.expr}, map[string]any{"asset": "a"})
			require.Error(t, err)
			assert.Equal(t, policy.Deny, got)
			assert.Contains(t, err.Error(), "policy bad")
		})
	}
}

func TestEvaluate_NonBooleanSentinel(t *testing.T) {
	_, err := newEvaluator().Evaluate(context.Background(), policy.Policy{ID: "n", Expression: "'text'"}, nil)
	assert.ErrorIs(t, err, policy.ErrNotBoolean)
}

func TestEvaluate_CachesCompiledExpressions(t *testing.T) {
	ev := newEvaluator()
	p := policy.Policy{ID: "p", Expression: "asset == 'a'"}

	for range 3 {
		_, err := ev.Evaluate(context.Background(), p, map[string]any{"asset": "a"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ev.Cached())

	p.Expression = "asset == 'b'"
	_, err := ev.Evaluate(context.Background(), p, map[string]any{"asset": "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Cached())
}

func TestFlatten(t *testing.T) {
	out := policy.Flatten(map[string]any{
		"a": 1,
		"b": map[string]any{
			"c": map[string]any{"d": "deep"},
		},
		"labels": map[string]string{"env": "prod"},
	})

	assert.Equal(t, 1, out["a"])
	assert.Equal(t, "deep", out["b.c.d"])
	assert.Equal(t, "prod", out["labels.env"])
	assert.Contains(t, out, "b")
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allow", policy.Allow.String())
	assert.Equal(t, "deny", policy.Deny.String())
}
