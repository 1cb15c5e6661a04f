package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/daily-log/internal/config"
	cachelocal "github.com/chirino/daily-log/internal/plugin/cache/local"
	registrycache "github.com/chirino/daily-log/internal/registry/cache"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageUpload(t *testing.T) {
	t.Run("blob put is an image upload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/v1/images/blobs/abc", strings.NewReader("abcdef"))
		require.True(t, isImageUpload(req))
	})

	t.Run("blob get is not", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/images/blobs/abc", nil)
		require.False(t, isImageUpload(req))
	})

	t.Run("post save is not", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader(`{"text":"hi"}`))
		require.False(t, isImageUpload(req))
	})
}

func TestMaxBodySizeMiddleware_SkipsImageUploads(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.PUT("/v1/images/blobs/:id", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPut, "/v1/images/blobs/x", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func TestMaxBodySizeMiddleware_EnforcesForJSONEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/posts", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func startTestServer(t *testing.T, opts ...func(*config.Config)) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(dir, "daily-log.db") + "?_busy_timeout=5000"
	cfg.CacheType = "local"
	cfg.ImageStoreType = "local"
	cfg.LocalImageDir = filepath.Join(dir, "images")
	cfg.LocalImageSigningKey = "test-signing-key"
	cfg.Listener.Port = 0
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := StartServer(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
}

func do(t *testing.T, method, target, user string, body io.Reader) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// local rewrites a URL signed for the public base URL onto the test listener.
func local(t *testing.T, base, signed string) string {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	return base + u.RequestURI()
}

func TestStartServer_PostWithImage(t *testing.T) {
	_, base := startTestServer(t)

	code, _ := do(t, http.MethodGet, base+"/ready", "", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, http.MethodPost, base+"/v1/users/me", "alice", nil)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = do(t, http.MethodPost, base+"/v1/images", "alice", nil)
	require.Equal(t, http.StatusCreated, code, string(body))
	var upload struct {
		UploadURL string `json:"uploadUrl"`
		StorageID string `json:"storageId"`
	}
	require.NoError(t, json.Unmarshal(body, &upload))

	code, body = do(t, http.MethodPut, local(t, base, upload.UploadURL), "", strings.NewReader("png-bytes"))
	require.Equal(t, http.StatusCreated, code, string(body))

	post, err := json.Marshal(map[string]any{"text": "with picture", "images": []string{upload.StorageID}})
	require.NoError(t, err)
	code, body = do(t, http.MethodPost, base+"/v1/posts", "alice", bytes.NewReader(post))
	require.Equal(t, http.StatusOK, code, string(body))
	var saved struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &saved))

	code, body = do(t, http.MethodGet, base+"/v1/posts/"+saved.ID, "alice", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var full struct {
		Text   string   `json:"text"`
		Images []string `json:"images"`
	}
	require.NoError(t, json.Unmarshal(body, &full))
	assert.Equal(t, "with picture", full.Text)
	require.Len(t, full.Images, 1)

	code, body = do(t, http.MethodGet, local(t, base, full.Images[0]), "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "png-bytes", string(body))

	code, _ = do(t, http.MethodGet, base+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

// closeCountingCache wraps the local cache and counts Close calls.
type closeCountingCache struct {
	*cachelocal.URLCache
	closed int
}

func (c *closeCountingCache) Close() error {
	c.closed++
	return c.URLCache.Close()
}

func TestShutdownClosesURLCache(t *testing.T) {
	var caches []*closeCountingCache
	registrycache.Register(registrycache.Plugin{
		Name: "close-counting",
		Loader: func(context.Context) (registrycache.URLCache, error) {
			inner, err := cachelocal.New(10)
			if err != nil {
				return nil, err
			}
			c := &closeCountingCache{URLCache: inner}
			caches = append(caches, c)
			return c, nil
		},
	})

	srv, _ := startTestServer(t, func(cfg *config.Config) { cfg.CacheType = "close-counting" })
	require.Len(t, caches, 1)
	assert.Same(t, caches[0], srv.Cache)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, 1, caches[0].closed)
}
