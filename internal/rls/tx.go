package rls

import (
	"context"

	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/google/uuid"
)

// Tx is the authorization facade over a store transaction. It is the only
// handle service code receives.
type Tx struct {
	inner  registrystore.Tx
	caller Caller
	rules  Rules
}

// Wrap returns a facade that applies rules on behalf of caller.
func Wrap(inner registrystore.Tx, caller Caller, rules Rules) *Tx {
	return &Tx{inner: inner, caller: caller, rules: rules}
}

func (t *Tx) Context() context.Context { return t.inner.Context() }

// Caller returns the principal this transaction runs for.
func (t *Tx) Caller() Caller { return t.caller }

// IsFollowed evaluates the follow visibility rule with the privileged handle.
func (t *Tx) IsFollowed(observer, target uuid.UUID) (bool, error) {
	return IsFollowed(t.inner, observer, target)
}

func (t *Tx) readable(row model.Row) (bool, error) {
	return t.rules.check(t.inner, t.caller, opRead, row)
}

// keep returns row when readable and the zero value otherwise.
func keep[P model.Row](t *Tx, row P, err error) (P, error) {
	var zero P
	if err != nil {
		return zero, err
	}
	ok, err := t.readable(row)
	if err != nil || !ok {
		return zero, err
	}
	return row, nil
}

func filterRows[T model.Row](t *Tx, rows []T) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		ok, err := t.readable(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func filterPage[T model.Row](t *Tx, res pagination.Result[T], err error) (pagination.Result[T], error) {
	if err != nil {
		return res, err
	}
	res.Page, err = filterRows(t, res.Page)
	return res, err
}

// --- writes ---

// Insert checks the candidate row against the insert rule before writing it.
func (t *Tx) Insert(row model.Row) error {
	ok, err := t.rules.check(t.inner, t.caller, opInsert, row)
	if err != nil {
		return err
	}
	if !ok {
		return &registrystore.ForbiddenError{Kind: string(row.Kind()), Operation: string(opInsert)}
	}
	return t.inner.Insert(row)
}

// Patch checks the current row against the modify rule before updating it.
func (t *Tx) Patch(kind model.Kind, id uuid.UUID, fields map[string]any) error {
	if err := t.checkModify(kind, id); err != nil {
		return err
	}
	return t.inner.Patch(kind, id, fields)
}

// Delete checks the current row against the modify rule before removing it.
func (t *Tx) Delete(kind model.Kind, id uuid.UUID) error {
	if err := t.checkModify(kind, id); err != nil {
		return err
	}
	return t.inner.Delete(kind, id)
}

func (t *Tx) checkModify(kind model.Kind, id uuid.UUID) error {
	current, err := t.inner.Get(kind, id)
	if err != nil {
		return err
	}
	if current == nil {
		return &registrystore.NotFoundError{Resource: string(kind), ID: id.String()}
	}
	ok, err := t.rules.check(t.inner, t.caller, opModify, current)
	if err != nil {
		return err
	}
	if !ok {
		return &registrystore.ForbiddenError{Kind: string(kind), Operation: string(opModify)}
	}
	return nil
}

// --- reads ---

func (t *Tx) GetUser(id uuid.UUID) (*model.User, error) {
	u, err := t.inner.GetUser(id)
	if u == nil {
		return nil, err
	}
	return keep(t, u, err)
}

func (t *Tx) UserByToken(tokenIdentifier string) (*model.User, error) {
	u, err := t.inner.UserByToken(tokenIdentifier)
	if u == nil {
		return nil, err
	}
	return keep(t, u, err)
}

func (t *Tx) ListUsers(page pagination.Request) (pagination.Result[model.User], error) {
	res, err := t.inner.ListUsers(page)
	return filterPage(t, res, err)
}

func (t *Tx) GetPost(id uuid.UUID) (*model.Post, error) {
	p, err := t.inner.GetPost(id)
	if p == nil {
		return nil, err
	}
	return keep(t, p, err)
}

func (t *Tx) DraftByAuthor(author uuid.UUID) (*model.Post, error) {
	p, err := t.inner.DraftByAuthor(author)
	if p == nil {
		return nil, err
	}
	return keep(t, p, err)
}

func (t *Tx) PostsByAuthor(author uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	res, err := t.inner.PostsByAuthor(author, page)
	return filterPage(t, res, err)
}

func (t *Tx) PostsByDate(page pagination.Request) (pagination.Result[model.Post], error) {
	res, err := t.inner.PostsByDate(page)
	return filterPage(t, res, err)
}

func (t *Tx) PostsByAuthors(authors []uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	res, err := t.inner.PostsByAuthors(authors, page)
	return filterPage(t, res, err)
}

func (t *Tx) SearchPosts(query string, author *uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	res, err := t.inner.SearchPosts(query, author, page)
	return filterPage(t, res, err)
}

func (t *Tx) GetTag(id uuid.UUID) (*model.Tag, error) {
	tag, err := t.inner.GetTag(id)
	if tag == nil {
		return nil, err
	}
	return keep(t, tag, err)
}

func (t *Tx) TagsByPost(postID uuid.UUID) ([]model.Tag, error) {
	tags, err := t.inner.TagsByPost(postID)
	if err != nil {
		return nil, err
	}
	return filterRows(t, tags)
}

func (t *Tx) TagsByName(name string, page pagination.Request) (pagination.Result[model.Tag], error) {
	res, err := t.inner.TagsByName(name, page)
	return filterPage(t, res, err)
}

func (t *Tx) GetFollow(id uuid.UUID) (*model.Follow, error) {
	f, err := t.inner.GetFollow(id)
	if f == nil {
		return nil, err
	}
	return keep(t, f, err)
}

func (t *Tx) FollowByPair(follower, followed uuid.UUID) (*model.Follow, error) {
	f, err := t.inner.FollowByPair(follower, followed)
	if f == nil {
		return nil, err
	}
	return keep(t, f, err)
}

func (t *Tx) FollowsByFollower(follower uuid.UUID) ([]model.Follow, error) {
	follows, err := t.inner.FollowsByFollower(follower)
	if err != nil {
		return nil, err
	}
	return filterRows(t, follows)
}

func (t *Tx) FollowsByFollowerPage(follower uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error) {
	res, err := t.inner.FollowsByFollowerPage(follower, page)
	return filterPage(t, res, err)
}

func (t *Tx) FollowsByFollowedPage(followed uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error) {
	res, err := t.inner.FollowsByFollowedPage(followed, page)
	return filterPage(t, res, err)
}
