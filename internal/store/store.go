// Package store is the remote document store shared by both clients of a
// session: whole-document reads and writes, single-field patches and a
// change feed per document.
package store

import "context"

// ChangeFunc receives the full document after every write, or an error
// when the feed itself fails. It runs on the subscription's goroutine.
type ChangeFunc func(doc []byte, err error)

// Subscription is a live change feed. Unsubscribe stops delivery and
// returns once no further callback can run; it must not be called from
// inside the ChangeFunc.
type Subscription interface {
	Unsubscribe() error
}

// Store is the contract both the Redis and in-memory stores implement.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	// Create writes doc only if id does not exist yet, else ErrExists.
	Create(ctx context.Context, id string, doc []byte) error
	// Set overwrites the whole document and notifies subscribers.
	Set(ctx context.Context, id string, doc []byte) error
	// Update replaces one top-level JSON field of an existing document.
	Update(ctx context.Context, id, field string, value []byte) error
	// Subscribe starts a change feed for id.
	Subscribe(ctx context.Context, id string, fn ChangeFunc) (Subscription, error)
}

// Errors
var (
	ErrNotFound    = errf("document not found")
	ErrInvalidArgs = errf("invalid arguments")
	ErrConflict    = errf("document changed concurrently")
	ErrExists      = errf("document already exists")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
