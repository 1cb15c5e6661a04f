// Package sqlstore implements registry/store.Store on top of gorm. The postgres
// and sqlite plugins share it and differ only in Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Dialect selects backend specific SQL.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Store is a gorm backed entity store.
type Store struct {
	db      *gorm.DB
	dialect Dialect
}

// New wraps an open gorm connection.
func New(db *gorm.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying connection for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Read(ctx context.Context, fn func(tx registrystore.Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == Postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	err := s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&tx{ctx: ctx, db: g, dialect: s.dialect})
	}, opts)
	return translate(err)
}

func (s *Store) Write(ctx context.Context, fn func(tx registrystore.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&tx{ctx: ctx, db: g, dialect: s.dialect})
	})
	return translate(err)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps driver level unique violations onto ConflictError.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return &registrystore.ConflictError{Message: "duplicate key: " + err.Error(), Code: "duplicate"}
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type tx struct {
	ctx     context.Context
	db      *gorm.DB
	dialect Dialect
}

func (t *tx) Context() context.Context { return t.ctx }

func newRow(kind model.Kind) (model.Row, error) {
	switch kind {
	case model.KindUsers:
		return &model.User{}, nil
	case model.KindPosts:
		return &model.Post{}, nil
	case model.KindTags:
		return &model.Tag{}, nil
	case model.KindFollows:
		return &model.Follow{}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func (t *tx) Get(kind model.Kind, id uuid.UUID) (model.Row, error) {
	switch kind {
	case model.KindUsers:
		u, err := t.GetUser(id)
		if err != nil || u == nil {
			return nil, err
		}
		return u, nil
	case model.KindPosts:
		p, err := t.GetPost(id)
		if err != nil || p == nil {
			return nil, err
		}
		return p, nil
	case model.KindTags:
		tag, err := t.GetTag(id)
		if err != nil || tag == nil {
			return nil, err
		}
		return tag, nil
	case model.KindFollows:
		f, err := t.GetFollow(id)
		if err != nil || f == nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func (t *tx) Insert(row model.Row) error {
	if row.RowID() == uuid.Nil {
		return fmt.Errorf("insert %s: id must be set", row.Kind())
	}
	if err := t.db.Create(row).Error; err != nil {
		return translate(fmt.Errorf("insert %s: %w", row.Kind(), err))
	}
	return nil
}

func (t *tx) Patch(kind model.Kind, id uuid.UUID, fields map[string]any) error {
	target, err := newRow(kind)
	if err != nil {
		return err
	}
	res := t.db.Model(target).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(fmt.Errorf("patch %s: %w", kind, res.Error))
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: string(kind), ID: id.String()}
	}
	return nil
}

func (t *tx) Delete(kind model.Kind, id uuid.UUID) error {
	target, err := newRow(kind)
	if err != nil {
		return err
	}
	if err := t.db.Where("id = ?", id).Delete(target).Error; err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

// --- single row lookups ---

func first[T any](db *gorm.DB, query string, args ...any) (*T, error) {
	var rows []T
	if err := db.Where(query, args...).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (t *tx) GetUser(id uuid.UUID) (*model.User, error) {
	return first[model.User](t.db, "id = ?", id)
}

func (t *tx) UserByToken(tokenIdentifier string) (*model.User, error) {
	return first[model.User](t.db, "token_identifier = ?", tokenIdentifier)
}

func (t *tx) GetPost(id uuid.UUID) (*model.Post, error) {
	return first[model.Post](t.db, "id = ?", id)
}

func (t *tx) DraftByAuthor(author uuid.UUID) (*model.Post, error) {
	return first[model.Post](t.db, "author = ? AND status = ?", author, model.PostStatusDraft)
}

func (t *tx) GetTag(id uuid.UUID) (*model.Tag, error) {
	return first[model.Tag](t.db, "id = ?", id)
}

func (t *tx) GetFollow(id uuid.UUID) (*model.Follow, error) {
	return first[model.Follow](t.db, "id = ?", id)
}

func (t *tx) FollowByPair(follower, followed uuid.UUID) (*model.Follow, error) {
	return first[model.Follow](t.db, "follower = ? AND followed = ?", follower, followed)
}

func (t *tx) TagsByPost(postID uuid.UUID) ([]model.Tag, error) {
	var tags []model.Tag
	if err := t.db.Where("post_id = ?", postID).Order("id ASC").Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

func (t *tx) FollowsByFollower(follower uuid.UUID) ([]model.Follow, error) {
	var follows []model.Follow
	if err := t.db.Where("follower = ?", follower).Order("id ASC").Find(&follows).Error; err != nil {
		return nil, err
	}
	return follows, nil
}

// --- keyset scans ---

func postKey(p model.Post) pagination.Position {
	return pagination.Position{Key: p.LastUpdatedDate, ID: p.ID}
}

func tagKey(t model.Tag) pagination.Position {
	return pagination.Position{Key: t.PostDate, ID: t.ID}
}

func userKey(u model.User) pagination.Position {
	return pagination.Position{ID: u.ID}
}

func followKey(f model.Follow) pagination.Position {
	return pagination.Position{ID: f.ID}
}

func (t *tx) ListUsers(page pagination.Request) (pagination.Result[model.User], error) {
	return scan(t.db.Model(&model.User{}), "", true, page, userKey)
}

func (t *tx) PostsByAuthor(author uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	return scan(t.db.Where("author = ?", author), "last_updated_date", false, page, postKey)
}

func (t *tx) PostsByDate(page pagination.Request) (pagination.Result[model.Post], error) {
	return scan(t.db.Model(&model.Post{}), "last_updated_date", false, page, postKey)
}

func (t *tx) PostsByAuthors(authors []uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	if len(authors) == 0 {
		if _, err := positionOf(page); err != nil {
			return pagination.Result[model.Post]{}, err
		}
		return pagination.Build[model.Post](nil, page.Limit(), page, postKey), nil
	}
	return scan(t.db.Where("author IN ?", authors), "last_updated_date", false, page, postKey)
}

func (t *tx) SearchPosts(query string, author *uuid.UUID, page pagination.Request) (pagination.Result[model.Post], error) {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		if _, err := positionOf(page); err != nil {
			return pagination.Result[model.Post]{}, err
		}
		return pagination.Build[model.Post](nil, page.Limit(), page, postKey), nil
	}
	db := t.db.Model(&model.Post{})
	switch t.dialect {
	case Postgres:
		db = db.Where("to_tsvector('simple', text) @@ to_tsquery('simple', ?)", toPrefixTsQuery(terms))
	default:
		for _, term := range terms {
			db = db.Where("unicode_lower(text) LIKE ?", "%"+term+"%")
		}
	}
	if author != nil {
		db = db.Where("author = ?", *author)
	}
	return scan(db, "last_updated_date", false, page, postKey)
}

func (t *tx) TagsByName(name string, page pagination.Request) (pagination.Result[model.Tag], error) {
	return scan(t.db.Where("name = ?", name), "post_date", false, page, tagKey)
}

func (t *tx) FollowsByFollowerPage(follower uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error) {
	return scan(t.db.Where("follower = ?", follower), "", true, page, followKey)
}

func (t *tx) FollowsByFollowedPage(followed uuid.UUID, page pagination.Request) (pagination.Result[model.Follow], error) {
	return scan(t.db.Where("followed = ?", followed), "", true, page, followKey)
}

func positionOf(page pagination.Request) (*pagination.Position, error) {
	pos, err := page.Position()
	if err != nil {
		return nil, &registrystore.ValidationError{Field: "cursor", Message: err.Error()}
	}
	return pos, nil
}

// scan runs a keyset page over (col, id). An empty col orders by id alone.
func scan[T any](db *gorm.DB, col string, asc bool, page pagination.Request, keyOf func(T) pagination.Position) (pagination.Result[T], error) {
	pos, err := positionOf(page)
	if err != nil {
		return pagination.Result[T]{}, err
	}
	cmp, dir := "<", "DESC"
	if asc {
		cmp, dir = ">", "ASC"
	}
	if pos != nil {
		if col == "" {
			db = db.Where("id "+cmp+" ?", pos.ID)
		} else {
			db = db.Where(fmt.Sprintf("(%[1]s %[2]s ? OR (%[1]s = ? AND id %[2]s ?))", col, cmp), pos.Key, pos.Key, pos.ID)
		}
	}
	order := "id " + dir
	if col != "" {
		order = col + " " + dir + ", " + order
	}
	limit := page.Limit()
	var rows []T
	if err := db.Order(order).Limit(limit + 1).Find(&rows).Error; err != nil {
		return pagination.Result[T]{}, err
	}
	return pagination.Build(rows, limit, page, keyOf), nil
}
