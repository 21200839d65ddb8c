package database

import "context"

// TxRunner groups several writes into one unit of work.
type TxRunner interface {
	Transactional() bool
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs units of work without a transaction. Callers that need
// atomicity must compensate themselves.
type NoTx struct{}

func (NoTx) Transactional() bool { return false }

func (NoTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
