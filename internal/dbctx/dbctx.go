// Package dbctx bundles a request-scoped context.Context with an optional
// in-flight GORM transaction, so repository methods can be called either
// standalone (Tx == nil, falls back to the pool handle) or as part of a
// caller-managed transaction.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Resolve returns the transaction to use: Tx if set, otherwise db bound to
// Ctx. The repository's exec helper calls it when the caller already has a
// transaction open.
func (c Context) Resolve(db *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.Ctx)
	}
	return db.WithContext(c.Ctx)
}

// Background builds a Context with no active transaction, for callers
// outside of a request/job scope (schedulers, ticks).
func Background(ctx context.Context) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return Context{Ctx: ctx}
}
