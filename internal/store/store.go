// Package store defines the two storage tiers the chat core runs on: a
// durable, query-capable document store (the source of truth) and a
// low-latency real-time path tree used for message delivery and presence.
package store

import "context"

// Doc is a schemaless document as persisted in the durable tier.
type Doc map[string]any

// Op is a comparison operator for durable-store queries.
type Op string

const (
	OpEq Op = "=="
	OpLt Op = "<"
	OpGt Op = ">"
)

// Filter narrows a durable-store query to documents whose field matches.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// DurableStore is the document-oriented persistence tier. Implementations
// stamp "createdAt" on Add (when absent) and "updatedAt" on every mutation,
// so callers get server-issued timestamps.
//
// Get returns (nil, nil) when the document does not exist; absence is not an
// error. Update merges fields into an existing document and fails if the
// document is missing. Query results carry the document ID under "id".
type DurableStore interface {
	Add(ctx context.Context, collection string, doc Doc) (string, error)
	Get(ctx context.Context, collection, id string) (Doc, error)
	Set(ctx context.Context, collection, id string, doc Doc) error
	Update(ctx context.Context, collection, id string, fields Doc) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// RealtimePresenceStore is the low-latency key/path tree. Paths are
// slash-separated; there is no query capability, only path reads/writes and
// change subscriptions. Get on a path with children assembles them into a
// map keyed by child segment.
type RealtimePresenceStore interface {
	Get(ctx context.Context, path string) (any, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Push stores value under a generated, time-ordered child key and
	// returns that key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Subscribe invokes fn with the value at path immediately and again
	// after every change at or below it. The returned function cancels the
	// subscription.
	Subscribe(ctx context.Context, path string, fn func(value any)) (func(), error)
	Close() error
}
