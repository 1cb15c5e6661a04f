package users

import (
	"context"
	"net/http"

	"github.com/chirino/daily-log/internal/pagination"
	"github.com/chirino/daily-log/internal/plugin/route/caller"
	"github.com/chirino/daily-log/internal/rls"
	"github.com/chirino/daily-log/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts profile and follow routes. auth must resolve the
// identity; the caller middleware is added here.
func MountRoutes(r *gin.Engine, svc *service.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth, caller.Middleware(svc))

	g.POST("/users/me", func(c *gin.Context) {
		storeUser(c, svc)
	})
	g.GET("/users", func(c *gin.Context) {
		allUsers(c, svc)
	})
	g.GET("/users/:id", func(c *gin.Context) {
		getUser(c, svc)
	})
	g.GET("/users/:id/followers", func(c *gin.Context) {
		listFollows(c, svc.ListFollowers)
	})
	g.GET("/users/:id/following", func(c *gin.Context) {
		listFollows(c, svc.ListFollowing)
	})
	g.POST("/users/:id/follow", func(c *gin.Context) {
		followAction(c, svc.Follow)
	})
	g.DELETE("/users/:id/follow", func(c *gin.Context) {
		followAction(c, svc.Unfollow)
	})
	g.POST("/users/:id/follow/accept", func(c *gin.Context) {
		followAction(c, svc.AcceptFollow)
	})
	g.POST("/users/:id/follow/reject", func(c *gin.Context) {
		followAction(c, svc.RejectFollow)
	})
}

// storeUser runs after the caller middleware has already upserted the row,
// so it only reports the result.
func storeUser(c *gin.Context, svc *service.Service) {
	me := caller.Get(c)
	user, err := svc.GetUser(c.Request.Context(), me, me.UserID)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func allUsers(c *gin.Context, svc *service.Service) {
	var req pagination.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	res, err := svc.AllUsers(c.Request.Context(), caller.Get(c), req)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func getUser(c *gin.Context, svc *service.Service) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	user, err := svc.GetUser(c.Request.Context(), caller.Get(c), id)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type listFn func(ctx context.Context, caller rls.Caller, user uuid.UUID, req pagination.Request) (pagination.Result[service.FollowEdge], error)

func listFollows(c *gin.Context, list listFn) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	var req pagination.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	res, err := list(c.Request.Context(), caller.Get(c), id, req)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type actionFn func(ctx context.Context, caller rls.Caller, user uuid.UUID) error

func followAction(c *gin.Context, action actionFn) {
	id, ok := userParam(c)
	if !ok {
		return
	}
	if err := action(c.Request.Context(), caller.Get(c), id); err != nil {
		caller.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func userParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}
