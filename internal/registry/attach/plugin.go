package attach

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// Upload describes where a client sends image bytes. The client PUTs the
// bytes to UploadURL and then refers to the image by StorageID.
type Upload struct {
	UploadURL string    `json:"uploadUrl"`
	StorageID string    `json:"storageId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ImageStore holds image bytes outside the entity store. Posts keep only
// storage ids; URLs are resolved at read time.
type ImageStore interface {
	// NewUpload reserves a storage id and returns a time limited upload URL for it.
	NewUpload(ctx context.Context) (*Upload, error)
	// URL returns a time limited download URL for a storage id.
	URL(ctx context.Context, storageID string, expiry time.Duration) (string, error)
	// Delete removes the stored image.
	Delete(ctx context.Context, storageID string) error
}

// RouteMounter is implemented by image stores that serve their own upload and
// download endpoints.
type RouteMounter interface {
	MountRoutes(r gin.IRouter)
}

// Loader creates an ImageStore from config.
type Loader func(ctx context.Context) (ImageStore, error)

// Plugin represents an image store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an image store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered image store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named image store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown image store %q; valid: %v", name, Names())
}
