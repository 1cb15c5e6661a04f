package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	registryattach "github.com/chirino/daily-log/internal/registry/attach"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/chirino/daily-log/internal/security"
	"github.com/google/uuid"
)

// NewImageURL reserves an image upload for the caller. The returned storage
// id is what createPost expects in its images list.
func (s *Service) NewImageURL(ctx context.Context, caller rls.Caller) (*registryattach.Upload, error) {
	if caller.UserID == uuid.Nil {
		return nil, &registrystore.ForbiddenError{Kind: "images", Operation: "insert"}
	}
	if s.images == nil {
		return nil, &registrystore.ValidationError{Field: "images", Message: "image storage is not configured"}
	}
	up, err := s.images.NewUpload(ctx)
	if err != nil {
		return nil, fmt.Errorf("new image upload: %w", err)
	}
	log.Debug("Image upload reserved", "user", caller.UserID, "storageId", up.StorageID)
	return up, nil
}

func (s *Service) imageURLs(ctx context.Context, storageIDs []string) ([]string, error) {
	out := make([]string, 0, len(storageIDs))
	if s.images == nil {
		return out, nil
	}
	for _, id := range storageIDs {
		url, err := s.imageURL(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, nil
}

// imageURL resolves a storage id through the URL cache. Cached entries live
// for half the URL lifetime so a cached URL always has time left to be used.
func (s *Service) imageURL(ctx context.Context, storageID string) (string, error) {
	if s.cache != nil {
		url, ok, err := s.cache.Get(ctx, storageID)
		if err != nil {
			log.Warn("Image URL cache get failed", "storageId", storageID, "err", err)
		} else if ok {
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			return url, nil
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
	}
	url, err := s.images.URL(ctx, storageID, s.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("resolve image %s: %w", storageID, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, storageID, url, s.urlExpiry/2); err != nil {
			log.Warn("Image URL cache set failed", "storageId", storageID, "err", err)
		}
	}
	return url, nil
}
