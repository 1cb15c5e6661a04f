package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/daily-log/internal/config"
	"github.com/chirino/daily-log/internal/testutil/testkeycloak"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolver(mode string) *TokenResolver {
	cfg := config.DefaultConfig()
	cfg.Mode = mode
	return NewTokenResolver(&cfg)
}

func TestResolve_TestingMode(t *testing.T) {
	r := resolver(config.ModeTesting)

	id, err := r.Resolve(context.Background(), "alice-token", "")
	require.NoError(t, err)
	assert.Equal(t, "alice-token", id.TokenIdentifier)
	assert.Empty(t, id.Name, "no header means no name claim")

	id, err = r.Resolve(context.Background(), " alice-token ", " Alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice-token", id.TokenIdentifier)
	assert.Equal(t, "Alice", id.Name)

	_, err = r.Resolve(context.Background(), "  ", "Alice")
	assert.ErrorIs(t, err, errMissingIdentity)
}

func TestResolve_ProdWithoutVerifierRejects(t *testing.T) {
	r := resolver(config.ModeProd)
	_, err := r.Resolve(context.Background(), "alice-token", "Alice")
	assert.ErrorIs(t, err, errUnverifiable)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", AuthMiddleware(resolver(config.ModeTesting)), func(c *gin.Context) {
		id := GetIdentity(c)
		require.Equal(t, id, IdentityFromContext(c.Request.Context()))
		c.String(http.StatusOK, id.TokenIdentifier+":"+id.Name)
	})

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{name: "missing header", code: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", code: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer ", code: http.StatusUnauthorized},
		{name: "opaque token", header: "Bearer bob", code: http.StatusOK, body: "bob:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("DAILYLOG_TEST_REGION", "eu")
	labels, err := ParseMetricsLabels("service=daily-log,region=${DAILYLOG_TEST_REGION}")
	require.NoError(t, err)
	assert.Equal(t, "daily-log", labels["service"])
	assert.Equal(t, "eu", labels["region"])

	_, err = ParseMetricsLabels("novalue")
	assert.Error(t, err)
}

func TestResolve_KeycloakTokens(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	kc := testkeycloak.StartKeycloak(t)
	cfg := config.DefaultConfig()
	cfg.OIDCIssuer = kc.IssuerURL
	r := NewTokenResolver(&cfg)

	ctx := context.Background()
	token, err := kc.AccessToken(ctx, "alice", "alice")
	require.NoError(t, err)

	id, err := r.Resolve(ctx, token, "ignored")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id.TokenIdentifier, kc.IssuerURL+"|"), id.TokenIdentifier)
	assert.Equal(t, "Alice", id.Name)

	again, err := r.Resolve(ctx, token, "")
	require.NoError(t, err)
	assert.Equal(t, id.TokenIdentifier, again.TokenIdentifier)

	bobToken, err := kc.AccessToken(ctx, "bob", "bob")
	require.NoError(t, err)
	bob, err := r.Resolve(ctx, bobToken, "")
	require.NoError(t, err)
	assert.NotEqual(t, id.TokenIdentifier, bob.TokenIdentifier)

	_, err = r.Resolve(ctx, token[:len(token)-4]+"AAAA", "")
	assert.ErrorIs(t, err, errInvalidJWT)
}
