package sqlstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	"github.com/chirino/daily-log/internal/plugin/store/sqlstore"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/testutil/testsqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s registrystore.Store, name string) model.User {
	t.Helper()
	u := model.User{ID: model.NewID(), Name: name, TokenIdentifier: "token-" + name}
	require.NoError(t, s.Write(context.Background(), func(tx registrystore.Tx) error {
		return tx.Insert(&u)
	}))
	return u
}

func seedPost(t *testing.T, s registrystore.Store, author uuid.UUID, text string, date int64, status model.PostStatus) model.Post {
	t.Helper()
	p := model.Post{ID: model.NewID(), Author: author, Text: text, Images: []string{}, LastUpdatedDate: date, Status: status}
	require.NoError(t, s.Write(context.Background(), func(tx registrystore.Tx) error {
		return tx.Insert(&p)
	}))
	return p
}

func TestInsertGetPatchDelete(t *testing.T) {
	s := testsqlite.NewStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "alice")

	require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
		got, err := tx.UserByToken("token-alice")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, u.ID, got.ID)
		assert.False(t, got.CreatedAt.IsZero())
		return nil
	}))

	require.NoError(t, s.Write(ctx, func(tx registrystore.Tx) error {
		return tx.Patch(model.KindUsers, u.ID, map[string]any{"name": "Alice"})
	}))
	require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
		row, err := tx.Get(model.KindUsers, u.ID)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "Alice", row.(*model.User).Name)
		return nil
	}))

	p := seedPost(t, s, u.ID, "hello", 100, model.PostStatusPublished)
	require.NoError(t, s.Write(ctx, func(tx registrystore.Tx) error {
		return tx.Delete(model.KindPosts, p.ID)
	}))
	require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
		got, err := tx.GetPost(p.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		row, err := tx.Get(model.KindPosts, p.ID)
		require.NoError(t, err)
		assert.Nil(t, row)
		return nil
	}))
}

func TestPatchMissingRowIsNotFound(t *testing.T) {
	s := testsqlite.NewStore(t)
	err := s.Write(context.Background(), func(tx registrystore.Tx) error {
		return tx.Patch(model.KindFollows, model.NewID(), map[string]any{"accepted": true})
	})
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf), "expected NotFoundError, got %T", err)
}

func TestWriteRollsBackOnError(t *testing.T) {
	s := testsqlite.NewStore(t)
	ctx := context.Background()
	u := model.User{ID: model.NewID(), Name: "bob", TokenIdentifier: "token-bob"}
	boom := errors.New("boom")
	err := s.Write(ctx, func(tx registrystore.Tx) error {
		require.NoError(t, tx.Insert(&u))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
		got, err := tx.GetUser(u.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		return nil
	}))
}

func TestUniqueViolationsBecomeConflicts(t *testing.T) {
	s := testsqlite.NewStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a")
	b := seedUser(t, s, "b")

	follow := func() error {
		return s.Write(ctx, func(tx registrystore.Tx) error {
			return tx.Insert(&model.Follow{ID: model.NewID(), Follower: a.ID, Followed: b.ID})
		})
	}
	require.NoError(t, follow())
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(follow(), &conflict))

	seedPost(t, s, a.ID, "draft one", 1, model.PostStatusDraft)
	err := s.Write(ctx, func(tx registrystore.Tx) error {
		return tx.Insert(&model.Post{ID: model.NewID(), Author: a.ID, Text: "draft two", Images: []string{}, LastUpdatedDate: 2, Status: model.PostStatusDraft})
	})
	require.True(t, errors.As(err, &conflict), "second draft should violate the draft index, got %v", err)

	// A draft for a different author is fine.
	seedPost(t, s, b.ID, "draft b", 3, model.PostStatusDraft)
}

func TestPostsByAuthorPagesInDateOrder(t *testing.T) {
	s := testsqlite.NewStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a")
	other := seedUser(t, s, "other")

	var want []uuid.UUID
	for i := 0; i < 7; i++ {
		// Pairs share a date so the id tiebreak is exercised.
		p := seedPost(t, s, a.ID, "post", int64(1000+i/2), model.PostStatusPublished)
		want = append([]uuid.UUID{p.ID}, want...)
	}
	seedPost(t, s, other.ID, "not mine", 5000, model.PostStatusPublished)

	var got []uuid.UUID
	req := pagination.Request{NumItems: 3}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10)
		var res pagination.Result[model.Post]
		require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
			var err error
			res, err = tx.PostsByAuthor(a.ID, req)
			return err
		}))
		for _, p := range res.Page {
			got = append(got, p.ID)
		}
		if res.IsDone {
			break
		}
		req.Cursor = res.ContinueCursor
	}
	assert.Equal(t, want, got)
}

func TestMalformedCursorIsValidationError(t *testing.T) {
	s := testsqlite.NewStore(t)
	err := s.Read(context.Background(), func(tx registrystore.Tx) error {
		_, err := tx.PostsByDate(pagination.Request{Cursor: "!!!"})
		return err
	})
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %T", err)
	assert.Equal(t, "cursor", ve.Field)
}

func TestSearchPostsMatchesAllTerms(t *testing.T) {
	s := testsqlite.NewStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a")
	b := seedUser(t, s, "b")
	p1 := seedPost(t, s, a.ID, "Went hiking in the Alps", 1, model.PostStatusPublished)
	p2 := seedPost(t, s, b.ID, "hiking again, alps were great", 2, model.PostStatusPublished)
	seedPost(t, s, a.ID, "Stayed home", 3, model.PostStatusPublished)

	require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
		res, err := tx.SearchPosts("HIKING alps", nil, pagination.Request{})
		require.NoError(t, err)
		require.Len(t, res.Page, 2)
		assert.Equal(t, p2.ID, res.Page[0].ID)
		assert.Equal(t, p1.ID, res.Page[1].ID)
		assert.True(t, res.IsDone)

		res, err = tx.SearchPosts("hiking", &a.ID, pagination.Request{})
		require.NoError(t, err)
		require.Len(t, res.Page, 1)
		assert.Equal(t, p1.ID, res.Page[0].ID)

		res, err = tx.SearchPosts("  ,. ", nil, pagination.Request{})
		require.NoError(t, err)
		assert.Empty(t, res.Page)
		assert.True(t, res.IsDone)
		return nil
	}))
}

func TestSearchFoldsNonASCIICase(t *testing.T) {
	s := testsqlite.NewStore(t)
	a := seedUser(t, s, "a")
	p := seedPost(t, s, a.ID, "Über die Straße", 1, model.PostStatusPublished)
	seedPost(t, s, a.ID, "uber ride", 2, model.PostStatusPublished)

	require.NoError(t, s.Read(context.Background(), func(tx registrystore.Tx) error {
		for _, q := range []string{"über", "ÜBER", "straße"} {
			res, err := tx.SearchPosts(q, nil, pagination.Request{})
			require.NoError(t, err)
			require.Len(t, res.Page, 1, q)
			assert.Equal(t, p.ID, res.Page[0].ID, q)
		}
		return nil
	}))
}

func TestPostsByAuthorsAndTags(t *testing.T) {
	s := testsqlite.NewStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a")
	b := seedUser(t, s, "b")
	c := seedUser(t, s, "c")
	pa := seedPost(t, s, a.ID, "a", 10, model.PostStatusPublished)
	pb := seedPost(t, s, b.ID, "b", 20, model.PostStatusPublished)
	seedPost(t, s, c.ID, "c", 30, model.PostStatusPublished)

	require.NoError(t, s.Write(ctx, func(tx registrystore.Tx) error {
		require.NoError(t, tx.Insert(&model.Tag{ID: model.NewID(), Name: "x", PostID: pa.ID, PostDate: pa.LastUpdatedDate}))
		return tx.Insert(&model.Tag{ID: model.NewID(), Name: "x", PostID: pb.ID, PostDate: pb.LastUpdatedDate})
	}))

	require.NoError(t, s.Read(ctx, func(tx registrystore.Tx) error {
		res, err := tx.PostsByAuthors([]uuid.UUID{a.ID, b.ID}, pagination.Request{})
		require.NoError(t, err)
		require.Len(t, res.Page, 2)
		assert.Equal(t, pb.ID, res.Page[0].ID)
		assert.Equal(t, pa.ID, res.Page[1].ID)

		res, err = tx.PostsByAuthors(nil, pagination.Request{})
		require.NoError(t, err)
		assert.Empty(t, res.Page)
		assert.True(t, res.IsDone)

		tags, err := tx.TagsByName("x", pagination.Request{NumItems: 1})
		require.NoError(t, err)
		require.Len(t, tags.Page, 1)
		assert.Equal(t, pb.ID, tags.Page[0].PostID)
		assert.False(t, tags.IsDone)

		tags, err = tx.TagsByName("x", pagination.Request{NumItems: 1, Cursor: tags.ContinueCursor})
		require.NoError(t, err)
		require.Len(t, tags.Page, 1)
		assert.Equal(t, pa.ID, tags.Page[0].PostID)

		byPost, err := tx.TagsByPost(pa.ID)
		require.NoError(t, err)
		assert.Len(t, byPost, 1)
		return nil
	}))
}

func TestListUsersAscending(t *testing.T) {
	s := testsqlite.NewStore(t)
	first := seedUser(t, s, "first")
	second := seedUser(t, s, "second")
	require.NoError(t, s.Read(context.Background(), func(tx registrystore.Tx) error {
		res, err := tx.ListUsers(pagination.Request{})
		require.NoError(t, err)
		require.Len(t, res.Page, 2)
		assert.Equal(t, first.ID, res.Page[0].ID)
		assert.Equal(t, second.ID, res.Page[1].ID)
		return nil
	}))
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, []string{"hello", "wörld", "42"}, sqlstore.SearchTerms("Hello, Wörld! 42"))
}
