// Package caller resolves the authenticated identity of a request to the
// User row it acts as.
package caller

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/chirino/daily-log/internal/security"
	"github.com/chirino/daily-log/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey is the gin context key for the request's rls.Caller.
const ContextKey = "caller"

// Middleware stores the caller's User row and exposes it as an rls.Caller.
// It must run after security.AuthMiddleware.
func Middleware(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := security.GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "missing identity"})
			return
		}
		user, err := svc.StoreUser(c.Request.Context(), id.TokenIdentifier, id.Name)
		if err != nil {
			var validation *registrystore.ValidationError
			if errors.As(err, &validation) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": err.Error()})
				return
			}
			log.Error("Failed to store user", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "internal server error"})
			return
		}
		c.Set(ContextKey, rls.Caller{UserID: user.ID, TokenIdentifier: user.TokenIdentifier})
		c.Next()
	}
}

// Get returns the caller set by Middleware.
func Get(c *gin.Context) rls.Caller {
	v, _ := c.Get(ContextKey)
	caller, _ := v.(rls.Caller)
	return caller
}

// HandleError maps service errors to HTTP status codes and a
// {"code", "error"} body.
func HandleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var invariant *registrystore.InvariantError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &invariant):
		c.JSON(http.StatusConflict, gin.H{"code": "invariant_violation", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "internal server error"})
	}
}
