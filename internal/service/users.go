package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/google/uuid"
)

// StoreUser returns the User row for an authenticated principal, creating it
// on first access and patching the name when the identity provider reports a
// different one. An empty name leaves the stored name alone; a new row falls
// back to the token identifier.
func (s *Service) StoreUser(ctx context.Context, tokenIdentifier, name string) (*model.User, error) {
	if tokenIdentifier == "" {
		return nil, &registrystore.ValidationError{Field: "tokenIdentifier", Message: "is required"}
	}
	caller := rls.Caller{TokenIdentifier: tokenIdentifier}

	var user *model.User
	err := s.store.Read(ctx, caller, func(tx *rls.Tx) error {
		var err error
		user, err = tx.UserByToken(tokenIdentifier)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user != nil && (name == "" || user.Name == name) {
		return user, nil
	}

	err = s.store.Write(ctx, caller, func(tx *rls.Tx) error {
		existing, err := tx.UserByToken(tokenIdentifier)
		if err != nil {
			return err
		}
		if existing == nil {
			displayName := name
			if displayName == "" {
				displayName = tokenIdentifier
			}
			user = &model.User{ID: model.NewID(), Name: displayName, TokenIdentifier: tokenIdentifier}
			return tx.Insert(user)
		}
		if name != "" && existing.Name != name {
			if err := tx.Patch(model.KindUsers, existing.ID, map[string]any{"name": name}); err != nil {
				return err
			}
			existing.Name = name
		}
		user = existing
		return nil
	})

	var conflict *registrystore.ConflictError
	if errors.As(err, &conflict) {
		// A concurrent first request created the row.
		log.Debug("User created concurrently; re-reading", "token", tokenIdentifier)
		err = s.store.Read(ctx, caller, func(tx *rls.Tx) error {
			var err error
			user, err = tx.UserByToken(tokenIdentifier)
			return err
		})
	}
	if err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	if user == nil {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: tokenIdentifier}
	}
	return user, nil
}

// GetUser returns a profile with the follow relationship between it and the caller.
func (s *Service) GetUser(ctx context.Context, caller rls.Caller, id uuid.UUID) (*FullUser, error) {
	var out *FullUser
	err := s.store.Read(ctx, caller, func(tx *rls.Tx) error {
		u, err := tx.GetUser(id)
		if err != nil {
			return err
		}
		if u == nil {
			return &registrystore.NotFoundError{Resource: "user", ID: id.String()}
		}
		full, err := FillUser(tx, *u)
		if err != nil {
			return err
		}
		out = &full
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllUsers lists every profile in creation order.
func (s *Service) AllUsers(ctx context.Context, caller rls.Caller, req pagination.Request) (pagination.Result[FullUser], error) {
	var out pagination.Result[FullUser]
	err := s.store.Read(ctx, caller, func(tx *rls.Tx) error {
		res, err := tx.ListUsers(s.page(req))
		if err != nil {
			return err
		}
		out = pagination.Result[FullUser]{Page: make([]FullUser, 0, len(res.Page)), IsDone: res.IsDone, ContinueCursor: res.ContinueCursor}
		for _, u := range res.Page {
			full, err := FillUser(tx, u)
			if err != nil {
				return err
			}
			out.Page = append(out.Page, full)
		}
		return nil
	})
	return out, err
}
