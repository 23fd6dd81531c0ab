package domain

import (
	"context"
)

// TransactionRunner executes fn inside a single datastore transaction.
// Nested calls join the transaction already carried by the context.
type TransactionRunner interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}
