package store

import (
	"context"
	"fmt"

	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	"github.com/google/uuid"
)

// Store opens transactions against the entity tables. Every query runs inside
// Read and every mutation inside Write so that composed sub-reads observe one
// consistent snapshot and no partial write is ever visible.
//
// Tx handles are privileged: they perform no authorization. Service code only
// ever receives them wrapped by the rls package.
type Store interface {
	// Read runs fn in a read-only snapshot transaction.
	Read(ctx context.Context, fn func(tx Tx) error) error
	// Write runs fn in a read-write transaction. Returning an error rolls back every write.
	Write(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of indexed lookups and writes available inside a transaction.
// Single-row lookups return (nil, nil) when the row does not exist.
type Tx interface {
	Context() context.Context

	// Get loads any row by kind and id.
	Get(kind model.Kind, id uuid.UUID) (model.Row, error)
	// Insert writes a new row. The row's ID must already be set.
	Insert(row model.Row) error
	// Patch updates the given columns of an existing row.
	Patch(kind model.Kind, id uuid.UUID, fields map[string]any) error
	// Delete removes a row.
	Delete(kind model.Kind, id uuid.UUID) error

	// Users
	GetUser(id uuid.UUID) (*model.User, error)
	UserByToken(tokenIdentifier string) (*model.User, error)
	ListUsers(page pagination.Request) (pagination.Result[model.User], error)

	// Posts, newest first unless noted.
	GetPost(id uuid.UUID) (*model.Post, error)
	DraftByAuthor(author uuid.UUID) (*model.Post, error)
	PostsByAuthor(author uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error)
	PostsByDate(page pagination.Request) (pagination.Result[model.Post], error)
	PostsByAuthors(authors []uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error)
	SearchPosts(query string, author *uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error)

	// Tags
	GetTag(id uuid.UUID) (*model.Tag, error)
	TagsByPost(postID uuid.UUID) ([]model.Tag, error)
	TagsByName(name string, page pagination.Request) (pagination.Result[model.Tag], error)

	// Follows
	GetFollow(id uuid.UUID) (*model.Follow, error)
	FollowByPair(follower, followed uuid.UUID) (*model.Follow, error)
	FollowsByFollower(follower uuid.UUID) ([]model.Follow, error)
	FollowsByFollowerPage(follower uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error)
	FollowsByFollowedPage(followed uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error)
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
