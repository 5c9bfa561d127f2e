package redismpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_BoundedByBaseFactorPower(t *testing.T) {
	cfg := BackoffConfig{Base: 100 * time.Millisecond, Cap: 30 * time.Second, Factor: 2, Jitter: 1}
	b := NewBackoff(cfg)

	bounds := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for _, want := range bounds {
		got := b.Next()
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.LessOrEqual(t, got, want)
	}
}

func TestBackoff_RespectsCap(t *testing.T) {
	cfg := BackoffConfig{Base: 1 * time.Second, Cap: 2 * time.Second, Factor: 10, Jitter: 1}
	b := NewBackoff(cfg)

	for i := 0; i < 10; i++ {
		got := b.Next()
		assert.LessOrEqual(t, got, cfg.Cap)
	}
}

func TestBackoff_ResetRestartsSequence(t *testing.T) {
	cfg := BackoffConfig{Base: 100 * time.Millisecond, Cap: 30 * time.Second, Factor: 2, Jitter: 1}
	b := NewBackoff(cfg)

	_ = b.Next()
	_ = b.Next()
	_ = b.Next()

	b.Reset()
	got := b.Next()
	assert.LessOrEqual(t, got, cfg.Base)
}

func TestBackoff_DefaultConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	require.Equal(t, 100*time.Millisecond, cfg.Base)
	require.Equal(t, 30*time.Second, cfg.Cap)
	require.Equal(t, 2.0, cfg.Factor)
	require.Equal(t, 1.0, cfg.Jitter)
}
