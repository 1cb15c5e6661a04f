package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/daily-log/internal/model"
	"github.com/chirino/daily-log/internal/pagination"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/google/uuid"
)

// FullUser is a profile annotated with its follow relationship to the caller.
type FullUser struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	CreatedAt          time.Time `json:"createdAt"`
	FollowRequested    bool      `json:"followRequested"`
	FollowAccepted     bool      `json:"followAccepted"`
	FollowsMeRequested bool      `json:"followsMeRequested"`
	FollowsMeAccepted  bool      `json:"followsMeAccepted"`
	IsMe               bool      `json:"isMe"`
}

// FillUser annotates user with the follow edges between it and the caller.
func FillUser(tx *rls.Tx, user model.User) (FullUser, error) {
	me := tx.Caller().UserID
	full := FullUser{
		ID:        user.ID,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
		IsMe:      me != uuid.Nil && me == user.ID,
	}
	if me == uuid.Nil || full.IsMe {
		return full, nil
	}
	out, err := tx.FollowByPair(me, user.ID)
	if err != nil {
		return full, err
	}
	if out != nil {
		full.FollowRequested = true
		full.FollowAccepted = out.Accepted
	}
	in, err := tx.FollowByPair(user.ID, me)
	if err != nil {
		return full, err
	}
	if in != nil {
		full.FollowsMeRequested = true
		full.FollowsMeAccepted = in.Accepted
	}
	return full, nil
}

// Follow requests to follow target. It is a no-op when a request already exists.
func (s *Service) Follow(ctx context.Context, caller rls.Caller, target uuid.UUID) error {
	if target == caller.UserID {
		return &registrystore.ValidationError{Field: "user", Message: "cannot follow yourself"}
	}
	err := s.store.Write(ctx, caller, func(tx *rls.Tx) error {
		u, err := tx.GetUser(target)
		if err != nil {
			return err
		}
		if u == nil {
			return &registrystore.NotFoundError{Resource: "user", ID: target.String()}
		}
		existing, err := tx.FollowByPair(caller.UserID, target)
		if err != nil {
			return err
		}
		if existing != nil {
			log.Debug("Already followed", "follower", caller.UserID, "followed", target)
			return nil
		}
		return tx.Insert(&model.Follow{ID: model.NewID(), Follower: caller.UserID, Followed: target})
	})
	var conflict *registrystore.ConflictError
	if errors.As(err, &conflict) {
		log.Debug("Follow created concurrently", "follower", caller.UserID, "followed", target)
		return nil
	}
	return err
}

// Unfollow removes the caller's follow of target, accepted or not.
func (s *Service) Unfollow(ctx context.Context, caller rls.Caller, target uuid.UUID) error {
	return s.store.Write(ctx, caller, func(tx *rls.Tx) error {
		existing, err := tx.FollowByPair(caller.UserID, target)
		if err != nil {
			return err
		}
		if existing == nil {
			log.Debug("Already not following", "follower", caller.UserID, "followed", target)
			return nil
		}
		return tx.Delete(model.KindFollows, existing.ID)
	})
}

// AcceptFollow accepts requester's pending follow of the caller.
func (s *Service) AcceptFollow(ctx context.Context, caller rls.Caller, requester uuid.UUID) error {
	return s.setAccepted(ctx, caller, requester, true)
}

// RejectFollow demotes requester's follow of the caller back to requested.
func (s *Service) RejectFollow(ctx context.Context, caller rls.Caller, requester uuid.UUID) error {
	return s.setAccepted(ctx, caller, requester, false)
}

func (s *Service) setAccepted(ctx context.Context, caller rls.Caller, requester uuid.UUID, accepted bool) error {
	return s.store.Write(ctx, caller, func(tx *rls.Tx) error {
		existing, err := tx.FollowByPair(requester, caller.UserID)
		if err != nil {
			return err
		}
		if existing == nil {
			return &registrystore.NotFoundError{Resource: "follow", ID: requester.String()}
		}
		if existing.Accepted == accepted {
			return nil
		}
		return tx.Patch(model.KindFollows, existing.ID, map[string]any{"accepted": accepted})
	})
}

// FollowEdge is a follow row with the profile on its far side.
type FollowEdge struct {
	ID        uuid.UUID `json:"id"`
	User      FullUser  `json:"user"`
	Accepted  bool      `json:"accepted"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListFollowers pages the follows pointed at user that the caller can see.
func (s *Service) ListFollowers(ctx context.Context, caller rls.Caller, user uuid.UUID, req pagination.Request) (pagination.Result[FollowEdge], error) {
	return s.listFollows(ctx, caller, req, func(tx *rls.Tx, page pagination.Request) (pagination.Result[model.Follow], error) {
		return tx.FollowsByFollowedPage(user, page)
	}, func(f model.Follow) uuid.UUID { return f.Follower })
}

// ListFollowing pages the follows made by user that the caller can see.
func (s *Service) ListFollowing(ctx context.Context, caller rls.Caller, user uuid.UUID, req pagination.Request) (pagination.Result[FollowEdge], error) {
	return s.listFollows(ctx, caller, req, func(tx *rls.Tx, page pagination.Request) (pagination.Result[model.Follow], error) {
		return tx.FollowsByFollowerPage(user, page)
	}, func(f model.Follow) uuid.UUID { return f.Followed })
}

func (s *Service) listFollows(
	ctx context.Context,
	caller rls.Caller,
	req pagination.Request,
	scan func(tx *rls.Tx, page pagination.Request) (pagination.Result[model.Follow], error),
	other func(model.Follow) uuid.UUID,
) (pagination.Result[FollowEdge], error) {
	var out pagination.Result[FollowEdge]
	err := s.store.Read(ctx, caller, func(tx *rls.Tx) error {
		res, err := scan(tx, s.page(req))
		if err != nil {
			return err
		}
		out = pagination.Result[FollowEdge]{Page: make([]FollowEdge, 0, len(res.Page)), IsDone: res.IsDone, ContinueCursor: res.ContinueCursor}
		for _, f := range res.Page {
			u, err := tx.GetUser(other(f))
			if err != nil {
				return err
			}
			if u == nil {
				continue
			}
			full, err := FillUser(tx, *u)
			if err != nil {
				return err
			}
			out.Page = append(out.Page, FollowEdge{ID: f.ID, User: full, Accepted: f.Accepted, CreatedAt: f.CreatedAt})
		}
		return nil
	})
	return out, err
}
