// Package rls applies row level authorization to every store operation.
//
// Each entity kind has a Rule made of three predicates. Read predicates
// silently drop rows from lookups and scans. Insert predicates see the row as
// it would exist after the insert, and Modify predicates (patch and delete)
// see the row as it currently exists; both abort the transaction with a
// ForbiddenError when they fail.
//
// Predicates run against the privileged store.Tx so that their own lookups
// are not filtered again.
package rls

import (
	"context"
	"fmt"

	"github.com/chirino/daily-log/internal/model"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/google/uuid"
)

// Caller identifies the principal a transaction runs for. UserID is uuid.Nil
// until the principal's User row exists.
type Caller struct {
	UserID          uuid.UUID
	TokenIdentifier string
}

// Predicate decides whether caller may see or change row. It must not write.
type Predicate func(tx registrystore.Tx, caller Caller, row model.Row) (bool, error)

// Rule holds the predicates for one entity kind. A nil predicate denies.
type Rule struct {
	Read   Predicate
	Insert Predicate
	Modify Predicate
}

// Rules maps each entity kind to its Rule. Kinds without a rule deny everything.
type Rules map[model.Kind]Rule

// Store opens transactions whose handles are wrapped in the authorization facade.
type Store struct {
	inner registrystore.Store
	rules Rules
}

// NewStore wraps inner so that every transaction is filtered by rules.
func NewStore(inner registrystore.Store, rules Rules) *Store {
	return &Store{inner: inner, rules: rules}
}

// Read runs fn in a read transaction on behalf of caller.
func (s *Store) Read(ctx context.Context, caller Caller, fn func(tx *Tx) error) error {
	return s.inner.Read(ctx, func(tx registrystore.Tx) error {
		return fn(Wrap(tx, caller, s.rules))
	})
}

// Write runs fn in a write transaction on behalf of caller.
func (s *Store) Write(ctx context.Context, caller Caller, fn func(tx *Tx) error) error {
	return s.inner.Write(ctx, func(tx registrystore.Tx) error {
		return fn(Wrap(tx, caller, s.rules))
	})
}

type operation string

const (
	opRead   operation = "read"
	opInsert operation = "insert"
	opModify operation = "modify"
)

func (r Rules) check(tx registrystore.Tx, caller Caller, op operation, row model.Row) (bool, error) {
	rule, ok := r[row.Kind()]
	if !ok {
		return false, nil
	}
	var pred Predicate
	switch op {
	case opRead:
		pred = rule.Read
	case opInsert:
		pred = rule.Insert
	case opModify:
		pred = rule.Modify
	}
	if pred == nil {
		return false, nil
	}
	allowed, err := pred(tx, caller, row)
	if err != nil {
		return false, fmt.Errorf("%s %s predicate: %w", op, row.Kind(), err)
	}
	return allowed, nil
}

// deref normalizes pointer rows to values so typed predicates see one shape.
func deref(row model.Row) model.Row {
	switch r := row.(type) {
	case *model.User:
		return *r
	case *model.Post:
		return *r
	case *model.Tag:
		return *r
	case *model.Follow:
		return *r
	}
	return row
}

// Typed adapts a predicate over a concrete entity type.
func Typed[T model.Row](fn func(tx registrystore.Tx, caller Caller, row T) (bool, error)) Predicate {
	return func(tx registrystore.Tx, caller Caller, row model.Row) (bool, error) {
		v, ok := deref(row).(T)
		if !ok {
			return false, fmt.Errorf("unexpected row type %T", row)
		}
		return fn(tx, caller, v)
	}
}
