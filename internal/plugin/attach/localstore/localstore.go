// Package localstore keeps images on the local filesystem and serves them
// through HMAC signed URLs, mirroring the presigned URL contract of S3.
package localstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/daily-log/internal/config"
	registryattach "github.com/chirino/daily-log/internal/registry/attach"
	"github.com/chirino/daily-log/internal/tempfiles"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const blobPath = "/v1/images/blobs/"

func init() {
	registryattach.Register(registryattach.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registryattach.ImageStore, error) {
			cfg := config.FromContext(ctx)
			key := []byte(cfg.LocalImageSigningKey)
			if len(key) == 0 {
				key = make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return nil, fmt.Errorf("localstore: generate signing key: %w", err)
				}
				log.Warn("No local image signing key configured; image URLs will not survive a restart")
			}
			return New(Options{
				Dir:          cfg.LocalImageDir,
				BaseURL:      cfg.PublicBaseURL,
				SigningKey:   key,
				MaxSize:      cfg.ImageMaxSize,
				UploadExpiry: cfg.ImageUploadURLExpiresIn,
			})
		},
	})
}

// Options configures a local image store.
type Options struct {
	Dir          string
	BaseURL      string
	SigningKey   []byte
	MaxSize      int64
	UploadExpiry time.Duration
}

// LocalImageStore implements registryattach.ImageStore and registryattach.RouteMounter.
type LocalImageStore struct {
	dir          string
	baseURL      string
	key          []byte
	maxSize      int64
	uploadExpiry time.Duration
	now          func() time.Time
}

// New creates the image directory and returns a store rooted there.
func New(opts Options) (*LocalImageStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("localstore: image directory is required")
	}
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("localstore: signing key is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("localstore: create dir: %w", err)
	}
	s := &LocalImageStore{
		dir:          opts.Dir,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		key:          opts.SigningKey,
		maxSize:      opts.MaxSize,
		uploadExpiry: opts.UploadExpiry,
		now:          time.Now,
	}
	if s.maxSize <= 0 {
		s.maxSize = 10 * 1024 * 1024
	}
	if s.uploadExpiry <= 0 {
		s.uploadExpiry = 15 * time.Minute
	}
	return s, nil
}

func (s *LocalImageStore) sign(method, storageID string, exp int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%s\n%d", method, storageID, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *LocalImageStore) signedURL(method, storageID string, expiry time.Duration) (string, time.Time) {
	expiresAt := s.now().Add(expiry)
	exp := expiresAt.Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(method, storageID, exp))
	return s.baseURL + blobPath + storageID + "?" + q.Encode(), expiresAt
}

// verify checks the signature and expiry carried by a blob request.
func (s *LocalImageStore) verify(method, storageID, expRaw, sig string) bool {
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return false
	}
	want := s.sign(method, storageID, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *LocalImageStore) NewUpload(_ context.Context) (*registryattach.Upload, error) {
	storageID := uuid.NewString()
	uploadURL, expiresAt := s.signedURL(http.MethodPut, storageID, s.uploadExpiry)
	return &registryattach.Upload{UploadURL: uploadURL, StorageID: storageID, ExpiresAt: expiresAt}, nil
}

func (s *LocalImageStore) URL(_ context.Context, storageID string, expiry time.Duration) (string, error) {
	if _, err := uuid.Parse(storageID); err != nil {
		return "", fmt.Errorf("localstore: invalid storage id %q", storageID)
	}
	u, _ := s.signedURL(http.MethodGet, storageID, expiry)
	return u, nil
}

func (s *LocalImageStore) Delete(_ context.Context, storageID string) error {
	path, ok := s.path(storageID)
	if !ok {
		return fmt.Errorf("localstore: invalid storage id %q", storageID)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path resolves a storage id to its file. Only canonical uuids are accepted so
// ids can never escape the image directory.
func (s *LocalImageStore) path(storageID string) (string, bool) {
	id, err := uuid.Parse(storageID)
	if err != nil || id.String() != storageID {
		return "", false
	}
	return filepath.Join(s.dir, storageID), true
}

// MountRoutes serves signed uploads and downloads. These routes carry their
// own authorization in the URL signature and take no bearer token.
func (s *LocalImageStore) MountRoutes(r gin.IRouter) {
	r.PUT(blobPath+":id", s.handlePut)
	r.GET(blobPath+":id", s.handleGet)
}

func (s *LocalImageStore) handlePut(c *gin.Context) {
	storageID := c.Param("id")
	path, ok := s.path(storageID)
	if !ok || !s.verify(http.MethodPut, storageID, c.Query("exp"), c.Query("sig")) {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "invalid or expired signature"})
		return
	}
	if _, err := os.Stat(path); err == nil {
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": "image already uploaded"})
		return
	}
	n, err := tempfiles.WriteAtomic(s.dir, storageID, c.Request.Body, s.maxSize)
	if errors.Is(err, tempfiles.ErrTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "too_large", "error": fmt.Sprintf("image exceeds maximum size of %d bytes", s.maxSize)})
		return
	}
	if err != nil {
		log.Error("Failed to store image", "storageId", storageID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"storageId": storageID, "size": n})
}

func (s *LocalImageStore) handleGet(c *gin.Context) {
	storageID := c.Param("id")
	path, ok := s.path(storageID)
	if !ok || !s.verify(http.MethodGet, storageID, c.Query("exp"), c.Query("sig")) {
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "invalid or expired signature"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "image not found"})
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.File(path)
}

var (
	_ registryattach.ImageStore   = (*LocalImageStore)(nil)
	_ registryattach.RouteMounter = (*LocalImageStore)(nil)
)
