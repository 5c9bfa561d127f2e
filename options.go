package redismpx

import "go.uber.org/zap"

// Options configures a Multiplexer. Unlike the example gateway's own
// configuration (which layers viper over environment variables — an
// application concern), the library itself takes a typed struct, the same
// idiom redis.Options itself uses.
type Options struct {
	// ConnFactory obtains a fresh *redis.Client for the Listener to own.
	// Required.
	ConnFactory ConnFactory

	// Backoff configures the reconnect delay sequence. Zero fields fall
	// back to DefaultBackoffConfig.
	Backoff BackoffConfig

	// Logger receives structured diagnostics (connect failures, failed
	// (P)SUBSCRIBE/(P)UNSUBSCRIBE commands, recovered callback panics).
	// Messages dropped for lack of a local subscriber are not logged.
	// Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics, if non-nil, is updated as the Multiplexer runs. Optional.
	Metrics *Metrics
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
