package posts_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/daily-log/internal/config"
	"github.com/chirino/daily-log/internal/plugin/route/posts"
	"github.com/chirino/daily-log/internal/plugin/route/users"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/chirino/daily-log/internal/security"
	"github.com/chirino/daily-log/internal/service"
	"github.com/chirino/daily-log/internal/testutil/testsqlite"
	"github.com/gin-gonic/gin"
	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	svc := service.New(rls.NewStore(testsqlite.NewStore(t), rls.DefaultRules()), service.Options{})
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))

	r := gin.New()
	users.MountRoutes(r, svc, auth)
	posts.MountRoutes(r, svc, auth)
	return r
}

type response struct {
	code int
	body []byte
}

func call(t *testing.T, r http.Handler, token, method, path string, body any) response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(security.HeaderUserName, token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return response{code: w.Code, body: w.Body.Bytes()}
}

// jq evaluates selector against the response body and returns its first result.
func (resp response) jq(t *testing.T, selector string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal(resp.body, &doc), string(resp.body))
	query, err := gojq.Parse(selector)
	require.NoError(t, err)
	v, ok := query.Run(doc).Next()
	require.True(t, ok, "no result for %s", selector)
	if err, isErr := v.(error); isErr {
		t.Fatalf("jq %s: %v", selector, err)
	}
	return v
}

func userID(t *testing.T, r http.Handler, token string) string {
	t.Helper()
	resp := call(t, r, token, http.MethodPost, "/v1/users/me", nil)
	require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	assert.Equal(t, token, resp.jq(t, ".name"))
	assert.Equal(t, true, resp.jq(t, ".isMe"))
	return resp.jq(t, ".id").(string)
}

func TestRequiresAuthentication(t *testing.T) {
	r := setupRouter(t)
	resp := call(t, r, "", http.MethodGet, "/v1/timeline", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, "unauthenticated", resp.jq(t, ".code"))
}

func TestFollowAcceptRevealsPosts(t *testing.T) {
	r := setupRouter(t)
	alice := userID(t, r, "alice")
	bob := userID(t, r, "bob")

	for _, body := range []map[string]any{
		{"text": "first", "tags": []string{"walk"}, "lastUpdatedDate": 1},
		{"text": "second", "tags": []string{"walk"}, "lastUpdatedDate": 2},
		{"text": "wip", "lastUpdatedDate": 3, "status": "draft"},
	} {
		resp := call(t, r, "bob", http.MethodPost, "/v1/posts", body)
		require.Equal(t, http.StatusOK, resp.code, string(resp.body))
	}

	resp := call(t, r, "alice", http.MethodPost, "/v1/users/"+bob+"/follow", nil)
	require.Equal(t, http.StatusNoContent, resp.code)

	resp = call(t, r, "alice", http.MethodGet, "/v1/users/"+bob+"/posts", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.EqualValues(t, 0, resp.jq(t, ".page | length"))

	resp = call(t, r, "bob", http.MethodGet, "/v1/users/"+bob+"/followers", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, alice, resp.jq(t, ".page[0].user.id"))
	assert.Equal(t, false, resp.jq(t, ".page[0].accepted"))

	resp = call(t, r, "bob", http.MethodPost, "/v1/users/"+alice+"/follow/accept", nil)
	require.Equal(t, http.StatusNoContent, resp.code)

	// Bob's newest row is his draft: the first page scans only that row and
	// comes back empty but not done.
	resp = call(t, r, "alice", http.MethodGet, "/v1/users/"+bob+"/posts?numItems=1", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.EqualValues(t, 0, resp.jq(t, ".page | length"))
	assert.Equal(t, false, resp.jq(t, ".isDone"))
	cursor := resp.jq(t, ".continueCursor").(string)
	require.NotEmpty(t, cursor)

	resp = call(t, r, "alice", http.MethodGet, "/v1/users/"+bob+"/posts?numItems=1&cursor="+cursor, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, []any{"second"}, resp.jq(t, "[.page[].text]"))
	assert.Equal(t, "bob", resp.jq(t, ".page[0].author.name"))
	assert.Equal(t, false, resp.jq(t, ".isDone"))
	cursor = resp.jq(t, ".continueCursor").(string)

	resp = call(t, r, "alice", http.MethodGet, "/v1/users/"+bob+"/posts?numItems=5&cursor="+cursor, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, []any{"first"}, resp.jq(t, "[.page[].text]"))
	assert.Equal(t, true, resp.jq(t, ".isDone"))

	resp = call(t, r, "alice", http.MethodGet, "/v1/users/"+bob+"/posts?numItems=5", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, []any{"second", "first"}, resp.jq(t, "[.page[].text]"))
	assert.Equal(t, true, resp.jq(t, ".isDone"))

	resp = call(t, r, "alice", http.MethodGet, "/v1/tags/walk/posts", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, []any{"second", "first"}, resp.jq(t, "[.page[].text]"))

	resp = call(t, r, "alice", http.MethodGet, "/v1/search?q=sec", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, []any{"second"}, resp.jq(t, "[.page[].text]"))

	resp = call(t, r, "alice", http.MethodGet, "/v1/following/posts", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.EqualValues(t, 2, resp.jq(t, ".page | length"))

	resp = call(t, r, "alice", http.MethodGet, "/v1/users/"+bob, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, true, resp.jq(t, ".followAccepted"))
}

func TestDraftsAndErrors(t *testing.T) {
	r := setupRouter(t)
	alice := userID(t, r, "alice")
	userID(t, r, "bob")

	resp := call(t, r, "bob", http.MethodPost, "/v1/posts", map[string]any{"text": "wip", "status": "draft"})
	require.Equal(t, http.StatusOK, resp.code)
	draft := resp.jq(t, ".id").(string)

	resp = call(t, r, "bob", http.MethodGet, "/v1/drafts/me", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, draft, resp.jq(t, ".id"))

	resp = call(t, r, "alice", http.MethodGet, "/v1/posts/"+draft, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "null", string(resp.body))

	resp = call(t, r, "bob", http.MethodPost, "/v1/posts", map[string]any{"text": "pub"})
	require.Equal(t, http.StatusOK, resp.code)
	published := resp.jq(t, ".id").(string)

	resp = call(t, r, "bob", http.MethodPost, "/v1/posts", map[string]any{"text": "wip", "status": "draft"})
	require.Equal(t, http.StatusOK, resp.code)
	resp = call(t, r, "bob", http.MethodPost, "/v1/posts", map[string]any{"postId": published, "text": "x", "status": "draft"})
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Equal(t, "invariant_violation", resp.jq(t, ".code"))

	resp = call(t, r, "alice", http.MethodPost, "/v1/posts", map[string]any{"postId": published, "text": "mine now"})
	assert.Equal(t, http.StatusForbidden, resp.code)

	resp = call(t, r, "alice", http.MethodDelete, "/v1/posts/"+published, nil)
	assert.Equal(t, http.StatusNotFound, resp.code, "hidden posts look missing")

	resp = call(t, r, "bob", http.MethodPost, "/v1/users/"+alice+"/follow/accept", nil)
	assert.Equal(t, http.StatusNotFound, resp.code)

	resp = call(t, r, "alice", http.MethodPost, "/v1/users/"+alice+"/follow", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)

	resp = call(t, r, "alice", http.MethodGet, "/v1/users/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)

	resp = call(t, r, "alice", http.MethodGet, "/v1/timeline?cursor=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "validation_error", resp.jq(t, ".code"))

	resp = call(t, r, "bob", http.MethodDelete, "/v1/posts/"+published, nil)
	assert.Equal(t, http.StatusNoContent, resp.code)
}

func TestAllUsers(t *testing.T) {
	r := setupRouter(t)
	alice := userID(t, r, "alice")
	bob := userID(t, r, "bob")

	resp := call(t, r, "alice", http.MethodGet, "/v1/users", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, []any{alice, bob}, resp.jq(t, "[.page[].id]"))
	assert.Equal(t, []any{true, false}, resp.jq(t, "[.page[].isMe]"))
}
