package metrics

import (
	"context"
	"time"

	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	"github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a Store that records StoreLatency for every transaction and
// every operation issued inside one.
func Wrap(inner store.Store) store.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Store
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Read(ctx context.Context, fn func(tx store.Tx) error) error {
	defer observe("read_tx", time.Now())
	return m.inner.Read(ctx, func(tx store.Tx) error {
		return fn(&metricsTx{inner: tx})
	})
}

func (m *metricsStore) Write(ctx context.Context, fn func(tx store.Tx) error) error {
	defer observe("write_tx", time.Now())
	return m.inner.Write(ctx, func(tx store.Tx) error {
		return fn(&metricsTx{inner: tx})
	})
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}

type metricsTx struct {
	inner store.Tx
}

func (m *metricsTx) Context() context.Context { return m.inner.Context() }

func (m *metricsTx) Get(kind model.Kind, id uuid.UUID) (model.Row, error) {
	defer observe("get_"+string(kind), time.Now())
	return m.inner.Get(kind, id)
}

func (m *metricsTx) Insert(row model.Row) error {
	defer observe("insert_"+string(row.Kind()), time.Now())
	return m.inner.Insert(row)
}

func (m *metricsTx) Patch(kind model.Kind, id uuid.UUID, fields map[string]any) error {
	defer observe("patch_"+string(kind), time.Now())
	return m.inner.Patch(kind, id, fields)
}

func (m *metricsTx) Delete(kind model.Kind, id uuid.UUID) error {
	defer observe("delete_"+string(kind), time.Now())
	return m.inner.Delete(kind, id)
}

func (m *metricsTx) GetUser(id uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(id)
}

func (m *metricsTx) UserByToken(tokenIdentifier string) (*model.User, error) {
	defer observe("user_by_token", time.Now())
	return m.inner.UserByToken(tokenIdentifier)
}

func (m *metricsTx) ListUsers(page pagination.Request) (pagination.Result[model.User], error) {
	defer observe("list_users", time.Now())
	return m.inner.ListUsers(page)
}

func (m *metricsTx) GetPost(id uuid.UUID) (*model.Post, error) {
	defer observe("get_post", time.Now())
	return m.inner.GetPost(id)
}

func (m *metricsTx) DraftByAuthor(author uuid.UUID) (*model.Post, error) {
	defer observe("draft_by_author", time.Now())
	return m.inner.DraftByAuthor(author)
}

func (m *metricsTx) PostsByAuthor(author uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	defer observe("posts_by_author", time.Now())
	return m.inner.PostsByAuthor(author, page)
}

func (m *metricsTx) PostsByDate(page pagination.Request) (pagination.Result[model.Post], error) {
	defer observe("posts_by_date", time.Now())
	return m.inner.PostsByDate(page)
}

func (m *metricsTx) PostsByAuthors(authors []uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	defer observe("posts_by_authors", time.Now())
	return m.inner.PostsByAuthors(authors, page)
}

func (m *metricsTx) SearchPosts(query string, author *uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	defer observe("search_posts", time.Now())
	return m.inner.SearchPosts(query, author, page)
}

func (m *metricsTx) GetTag(id uuid.UUID) (*model.Tag, error) {
	defer observe("get_tag", time.Now())
	return m.inner.GetTag(id)
}

func (m *metricsTx) TagsByPost(postID uuid.UUID) ([]model.Tag, error) {
	defer observe("tags_by_post", time.Now())
	return m.inner.TagsByPost(postID)
}

func (m *metricsTx) TagsByName(name string, page pagination.Request) (pagination.Result[model.Tag], error) {
	defer observe("tags_by_name", time.Now())
	return m.inner.TagsByName(name, page)
}

func (m *metricsTx) GetFollow(id uuid.UUID) (*model.Follow, error) {
	defer observe("get_follow", time.Now())
	return m.inner.GetFollow(id)
}

func (m *metricsTx) FollowByPair(follower, followed uuid.UUID) (*model.Follow, error) {
	defer observe("follow_by_pair", time.Now())
	return m.inner.FollowByPair(follower, followed)
}

func (m *metricsTx) FollowsByFollower(follower uuid.UUID) ([]model.Follow, error) {
	defer observe("follows_by_follower", time.Now())
	return m.inner.FollowsByFollower(follower)
}

func (m *metricsTx) FollowsByFollowerPage(follower uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error) {
	defer observe("follows_by_follower_page", time.Now())
	return m.inner.FollowsByFollowerPage(follower, page)
}

func (m *metricsTx) FollowsByFollowedPage(followed uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error) {
	defer observe("follows_by_followed_page", time.Now())
	return m.inner.FollowsByFollowedPage(followed, page)
}
