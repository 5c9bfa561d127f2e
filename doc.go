// Package redismpx multiplexes a single Redis Pub/Sub connection across many
// local subscribers.
//
// A service that fans messages out from Redis Pub/Sub to many local clients
// (WebSocket sessions, SSE streams, in-process listeners) would otherwise need
// one Redis connection per client, or would have to hand-roll reference
// counted SUBSCRIBE/UNSUBSCRIBE bookkeeping itself. redismpx does that
// bookkeeping once: every call to Multiplexer.NewChannelSubscription,
// NewPatternSubscription or NewPromiseSubscription shares the same upstream
// Redis connection, reconnects it with jittered backoff on failure, and
// re-declares exactly the channels and patterns still in use.
//
// Redis Pub/Sub is at-most-once; redismpx does not change that. It does not
// persist state, order messages across a reconnect, authorize subscribers, or
// shard the upstream connection.
package redismpx
