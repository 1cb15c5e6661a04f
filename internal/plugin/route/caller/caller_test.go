package caller_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/daily-log/internal/plugin/route/caller"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &registrystore.NotFoundError{Resource: "post", ID: "x"}, http.StatusNotFound, "not_found"},
		{"validation", &registrystore.ValidationError{Field: "cursor", Message: "bad"}, http.StatusBadRequest, "validation_error"},
		{"invariant", &registrystore.InvariantError{Message: "another draft already exists"}, http.StatusConflict, "invariant_violation"},
		{"wrapped invariant", fmt.Errorf("save post: %w", &registrystore.InvariantError{Message: "x"}), http.StatusConflict, "invariant_violation"},
		{"conflict", &registrystore.ConflictError{Message: "duplicate"}, http.StatusConflict, "conflict"},
		{"forbidden", &registrystore.ForbiddenError{Kind: "posts", Operation: "modify"}, http.StatusForbidden, "forbidden"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/v1/timeline", nil)

			caller.HandleError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}
