package rls

import (
	"github.com/chirino/daily-log/internal/model"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/google/uuid"
)

// IsFollowed reports whether observer may see target's posts: observer is
// target, or observer holds an accepted follow of target.
func IsFollowed(tx registrystore.Tx, observer, target uuid.UUID) (bool, error) {
	if observer == target {
		return true, nil
	}
	if observer == uuid.Nil {
		return false, nil
	}
	f, err := tx.FollowByPair(observer, target)
	if err != nil {
		return false, err
	}
	return f != nil && f.Accepted, nil
}

func always(registrystore.Tx, Caller, model.Row) (bool, error) { return true, nil }

func ownsToken(_ registrystore.Tx, c Caller, u model.User) (bool, error) {
	return c.TokenIdentifier != "" && c.TokenIdentifier == u.TokenIdentifier, nil
}

func readPost(tx registrystore.Tx, c Caller, p model.Post) (bool, error) {
	if c.UserID != uuid.Nil && c.UserID == p.Author {
		return true, nil
	}
	if p.Status == model.PostStatusDraft {
		return false, nil
	}
	return IsFollowed(tx, c.UserID, p.Author)
}

func authorsPost(_ registrystore.Tx, c Caller, p model.Post) (bool, error) {
	return c.UserID != uuid.Nil && c.UserID == p.Author, nil
}

func partyToFollow(_ registrystore.Tx, c Caller, f model.Follow) (bool, error) {
	return c.UserID != uuid.Nil && (c.UserID == f.Follower || c.UserID == f.Followed), nil
}

func isFollower(_ registrystore.Tx, c Caller, f model.Follow) (bool, error) {
	return c.UserID != uuid.Nil && c.UserID == f.Follower, nil
}

func readTag(tx registrystore.Tx, c Caller, t model.Tag) (bool, error) {
	post, err := tx.GetPost(t.PostID)
	if err != nil {
		return false, err
	}
	if post == nil {
		return true, nil
	}
	return IsFollowed(tx, c.UserID, post.Author)
}

func authorsTaggedPost(tx registrystore.Tx, c Caller, t model.Tag) (bool, error) {
	post, err := tx.GetPost(t.PostID)
	if err != nil || post == nil {
		return false, err
	}
	return c.UserID != uuid.Nil && c.UserID == post.Author, nil
}

// DefaultRules returns the authorization rules for the daily log tables.
func DefaultRules() Rules {
	return Rules{
		model.KindUsers: {
			Read:   always,
			Insert: Typed(ownsToken),
			Modify: Typed(ownsToken),
		},
		model.KindPosts: {
			Read:   Typed(readPost),
			Insert: Typed(authorsPost),
			Modify: Typed(authorsPost),
		},
		model.KindFollows: {
			Read:   Typed(partyToFollow),
			Insert: Typed(isFollower),
			Modify: Typed(partyToFollow),
		},
		model.KindTags: {
			Read:   Typed(readTag),
			Insert: Typed(authorsTaggedPost),
			Modify: Typed(authorsTaggedPost),
		},
	}
}
