// Package store declares the ports to the remote ledger store. The
// aggregation core only ever sees these interfaces; the REST client and the
// in-memory backend both satisfy them.
package store

import (
	"context"

	"debtbook/internal/core"
)

// Page is one bounded slice of the transaction listing. The store returns
// at most Limit records per call; a page shorter than Limit signals the end
// of the data set.
type Page struct {
	Offset int
	Limit  int
}

type (
	TransactionLister interface {
		// ListTransactions returns one page of raw records. Callers loop,
		// advancing Offset, until a short page comes back.
		ListTransactions(ctx context.Context, page Page) ([]core.Record, error)
	}

	UserLister interface {
		// ListUsers batch-resolves user profiles by id.
		ListUsers(ctx context.Context, ids []string) ([]core.User, error)
	}

	TransactionWriter interface {
		CreateTransaction(ctx context.Context, tx core.Transaction) error
	}

	TransactionDeleter interface {
		DeleteTransaction(ctx context.Context, id string) error
	}
)

// LedgerStore combines every port of the remote store.
type LedgerStore interface {
	TransactionLister
	UserLister
	TransactionWriter
	TransactionDeleter
}
