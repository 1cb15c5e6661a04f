package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	"github.com/chirino/daily-log/internal/policy"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/google/uuid"
)

// SavePostInput is the createPost mutation. A nil PostID creates a post (or
// reuses the caller's draft when Status is draft); an empty Status means published.
type SavePostInput struct {
	PostID          *uuid.UUID       `json:"postId,omitempty"`
	Text            string           `json:"text"`
	Tags            []string         `json:"tags"`
	Images          []string         `json:"images"`
	LastUpdatedDate *int64           `json:"lastUpdatedDate,omitempty"`
	Status          model.PostStatus `json:"status"`
}

// FullPost is a post as returned to clients: author profile, tags and
// resolved image URLs included.
type FullPost struct {
	ID              uuid.UUID        `json:"id"`
	Author          FullUser         `json:"author"`
	Text            string           `json:"text"`
	Tags            []model.Tag      `json:"tags"`
	Images          []string         `json:"images"`
	LastUpdatedDate int64            `json:"lastUpdatedDate"`
	Status          model.PostStatus `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// normalizeTags trims names, drops blanks and collapses repeats so a post
// shows up once per tag feed.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// SavePost creates or updates one of the caller's posts and reconciles its
// tags. It returns the id of the saved post.
func (s *Service) SavePost(ctx context.Context, caller rls.Caller, in SavePostInput) (uuid.UUID, error) {
	status := in.Status
	if status == "" {
		status = model.PostStatusPublished
	}
	if !status.Valid() {
		return uuid.Nil, &registrystore.ValidationError{Field: "status", Message: "must be draft or published"}
	}
	tags := normalizeTags(in.Tags)
	images := in.Images
	if images == nil {
		images = []string{}
	}
	if s.policy != nil {
		err := s.policy.Check(ctx, policy.PostInput{Text: in.Text, Tags: tags, Images: images, Status: string(status)})
		if err != nil {
			return uuid.Nil, err
		}
	}

	var saved uuid.UUID
	err := s.store.Write(ctx, caller, func(tx *rls.Tx) error {
		postID := in.PostID
		draft, err := tx.DraftByAuthor(caller.UserID)
		if err != nil {
			return err
		}
		switch {
		case status == model.PostStatusDraft && draft != nil:
			if postID != nil && *postID != draft.ID {
				return &registrystore.InvariantError{Message: "another draft already exists: " + draft.ID.String()}
			}
			postID = &draft.ID
		case status == model.PostStatusPublished && postID == nil && draft != nil:
			if err := deletePost(tx, draft.ID); err != nil {
				return err
			}
		}

		date := model.NowMillis()
		if in.LastUpdatedDate != nil {
			date = *in.LastUpdatedDate
		}

		if postID != nil {
			saved = *postID
			err = tx.Patch(model.KindPosts, saved, map[string]any{
				"text":              in.Text,
				"last_updated_date": date,
				"status":            status,
			})
		} else {
			saved = model.NewID()
			err = tx.Insert(&model.Post{
				ID:              saved,
				Author:          caller.UserID,
				Text:            in.Text,
				Images:          images,
				LastUpdatedDate: date,
				Status:          status,
			})
		}
		if err != nil {
			return err
		}
		return reconcileTags(tx, saved, tags, date)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return saved, nil
}

// reconcileTags keeps existing tags whose name is still wanted and whose
// date matches, deletes the rest, and inserts what is missing.
func reconcileTags(tx *rls.Tx, postID uuid.UUID, names []string, date int64) error {
	existing, err := tx.TagsByPost(postID)
	if err != nil {
		return err
	}
	remaining := slices.Clone(names)
	for _, tag := range existing {
		if tag.PostDate == date {
			if i := slices.Index(remaining, tag.Name); i >= 0 {
				remaining = slices.Delete(remaining, i, i+1)
				continue
			}
		}
		if err := tx.Delete(model.KindTags, tag.ID); err != nil {
			return err
		}
	}
	for _, name := range remaining {
		err := tx.Insert(&model.Tag{ID: model.NewID(), Name: name, PostID: postID, PostDate: date})
		if err != nil {
			return err
		}
	}
	return nil
}

// deletePost removes a post's tags and then the post. Tags go first because
// their modify rule needs the post to exist.
func deletePost(tx *rls.Tx, id uuid.UUID) error {
	tags, err := tx.TagsByPost(id)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if err := tx.Delete(model.KindTags, tag.ID); err != nil {
			return err
		}
	}
	return tx.Delete(model.KindPosts, id)
}

// DeletePost deletes one of the caller's posts together with its tags.
func (s *Service) DeletePost(ctx context.Context, caller rls.Caller, id uuid.UUID) error {
	return s.store.Write(ctx, caller, func(tx *rls.Tx) error {
		post, err := tx.GetPost(id)
		if err != nil {
			return err
		}
		if post == nil {
			return &registrystore.NotFoundError{Resource: "post", ID: id.String()}
		}
		if post.Author != caller.UserID {
			return &registrystore.ForbiddenError{Kind: string(model.KindPosts), Operation: "modify"}
		}
		return deletePost(tx, id)
	})
}

// --- queries ---

// FetchPostsByAuthor pages author's posts, newest first.
func (s *Service) FetchPostsByAuthor(ctx context.Context, caller rls.Caller, author uuid.UUID, req pagination.Request) (pagination.Result[FullPost], error) {
	return s.queryPosts(ctx, caller, func(tx *rls.Tx) (pagination.Result[model.Post], error) {
		return tx.PostsByAuthor(author, s.page(req))
	})
}

// FetchTimeline pages every post the caller can see, newest first.
func (s *Service) FetchTimeline(ctx context.Context, caller rls.Caller, req pagination.Request) (pagination.Result[FullPost], error) {
	return s.queryPosts(ctx, caller, func(tx *rls.Tx) (pagination.Result[model.Post], error) {
		return tx.PostsByDate(s.page(req))
	})
}

// FetchFollowing pages posts by users the caller follows or has asked to follow.
func (s *Service) FetchFollowing(ctx context.Context, caller rls.Caller, req pagination.Request) (pagination.Result[FullPost], error) {
	return s.queryPosts(ctx, caller, func(tx *rls.Tx) (pagination.Result[model.Post], error) {
		follows, err := tx.FollowsByFollower(caller.UserID)
		if err != nil {
			return pagination.Result[model.Post]{}, err
		}
		authors := make([]uuid.UUID, len(follows))
		for i, f := range follows {
			authors[i] = f.Followed
		}
		return tx.PostsByAuthors(authors, s.page(req))
	})
}

// FetchPostsByTag pages posts carrying the tag, newest tag first.
func (s *Service) FetchPostsByTag(ctx context.Context, caller rls.Caller, name string, req pagination.Request) (pagination.Result[FullPost], error) {
	return s.queryPosts(ctx, caller, func(tx *rls.Tx) (pagination.Result[model.Post], error) {
		tags, err := tx.TagsByName(name, s.page(req))
		if err != nil {
			return pagination.Result[model.Post]{}, err
		}
		posts := pagination.Result[model.Post]{Page: make([]model.Post, 0, len(tags.Page)), IsDone: tags.IsDone, ContinueCursor: tags.ContinueCursor}
		for _, tag := range tags.Page {
			post, err := tx.GetPost(tag.PostID)
			if err != nil {
				return posts, err
			}
			if post != nil {
				posts.Page = append(posts.Page, *post)
			}
		}
		return posts, nil
	})
}

// SearchContent pages posts whose text matches query.
func (s *Service) SearchContent(ctx context.Context, caller rls.Caller, query string, req pagination.Request) (pagination.Result[FullPost], error) {
	return s.queryPosts(ctx, caller, func(tx *rls.Tx) (pagination.Result[model.Post], error) {
		return tx.SearchPosts(query, nil, s.page(req))
	})
}

// SearchUserContent pages author's posts whose text matches query.
func (s *Service) SearchUserContent(ctx context.Context, caller rls.Caller, query string, author uuid.UUID, req pagination.Request) (pagination.Result[FullPost], error) {
	return s.queryPosts(ctx, caller, func(tx *rls.Tx) (pagination.Result[model.Post], error) {
		return tx.SearchPosts(query, &author, s.page(req))
	})
}

// FetchPost returns the post, or nil when it is missing or hidden from the caller.
func (s *Service) FetchPost(ctx context.Context, caller rls.Caller, id uuid.UUID) (*FullPost, error) {
	return s.queryOne(ctx, caller, func(tx *rls.Tx) (*model.Post, error) {
		return tx.GetPost(id)
	})
}

// FetchDraft returns the caller's draft, or nil.
func (s *Service) FetchDraft(ctx context.Context, caller rls.Caller) (*FullPost, error) {
	return s.queryOne(ctx, caller, func(tx *rls.Tx) (*model.Post, error) {
		return tx.DraftByAuthor(caller.UserID)
	})
}

func (s *Service) queryPosts(ctx context.Context, caller rls.Caller, fetch func(tx *rls.Tx) (pagination.Result[model.Post], error)) (pagination.Result[FullPost], error) {
	var out pagination.Result[FullPost]
	err := s.store.Read(ctx, caller, func(tx *rls.Tx) error {
		res, err := fetch(tx)
		if err != nil {
			return err
		}
		out = pagination.Result[FullPost]{Page: make([]FullPost, 0, len(res.Page)), IsDone: res.IsDone, ContinueCursor: res.ContinueCursor}
		for _, post := range res.Page {
			if !visibleTo(caller, post) {
				continue
			}
			full, err := s.populate(tx, post)
			if err != nil {
				return err
			}
			out.Page = append(out.Page, *full)
		}
		return nil
	})
	return out, err
}

func (s *Service) queryOne(ctx context.Context, caller rls.Caller, fetch func(tx *rls.Tx) (*model.Post, error)) (*FullPost, error) {
	var out *FullPost
	err := s.store.Read(ctx, caller, func(tx *rls.Tx) error {
		post, err := fetch(tx)
		if err != nil || post == nil || !visibleTo(caller, *post) {
			return err
		}
		out, err = s.populate(tx, *post)
		return err
	})
	return out, err
}

// visibleTo drops other people's drafts independently of the read rules.
func visibleTo(caller rls.Caller, post model.Post) bool {
	return post.Status != model.PostStatusDraft || post.Author == caller.UserID
}

func (s *Service) populate(tx *rls.Tx, post model.Post) (*FullPost, error) {
	author := FullUser{ID: post.Author}
	u, err := tx.GetUser(post.Author)
	if err != nil {
		return nil, err
	}
	if u != nil {
		if author, err = FillUser(tx, *u); err != nil {
			return nil, err
		}
	}
	tags, err := tx.TagsByPost(post.ID)
	if err != nil {
		return nil, err
	}
	images, err := s.imageURLs(tx.Context(), post.Images)
	if err != nil {
		return nil, err
	}
	return &FullPost{
		ID:              post.ID,
		Author:          author,
		Text:            post.Text,
		Tags:            tags,
		Images:          images,
		LastUpdatedDate: post.LastUpdatedDate,
		Status:          post.Status,
		CreatedAt:       post.CreatedAt,
	}, nil
}
