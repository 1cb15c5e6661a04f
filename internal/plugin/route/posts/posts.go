package posts

import (
	"net/http"
	"strings"

	"github.com/chirino/daily-log/internal/pagination"
	"github.com/chirino/daily-log/internal/plugin/route/caller"
	"github.com/chirino/daily-log/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts post, feed, search and image upload routes.
func MountRoutes(r *gin.Engine, svc *service.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth, caller.Middleware(svc))

	g.POST("/posts", func(c *gin.Context) {
		createPost(c, svc)
	})
	g.GET("/posts/:id", func(c *gin.Context) {
		fetchPost(c, svc)
	})
	g.DELETE("/posts/:id", func(c *gin.Context) {
		deletePost(c, svc)
	})
	g.GET("/drafts/me", func(c *gin.Context) {
		post, err := svc.FetchDraft(c.Request.Context(), caller.Get(c))
		if err != nil {
			caller.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, post)
	})
	g.POST("/images", func(c *gin.Context) {
		up, err := svc.NewImageURL(c.Request.Context(), caller.Get(c))
		if err != nil {
			caller.HandleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, up)
	})

	g.GET("/timeline", func(c *gin.Context) {
		listPosts(c, func(req pagination.Request) (pagination.Result[service.FullPost], error) {
			return svc.FetchTimeline(c.Request.Context(), caller.Get(c), req)
		})
	})
	g.GET("/following/posts", func(c *gin.Context) {
		listPosts(c, func(req pagination.Request) (pagination.Result[service.FullPost], error) {
			return svc.FetchFollowing(c.Request.Context(), caller.Get(c), req)
		})
	})
	g.GET("/users/:id/posts", func(c *gin.Context) {
		author, ok := idParam(c, "user")
		if !ok {
			return
		}
		listPosts(c, func(req pagination.Request) (pagination.Result[service.FullPost], error) {
			return svc.FetchPostsByAuthor(c.Request.Context(), caller.Get(c), author, req)
		})
	})
	g.GET("/tags/:name/posts", func(c *gin.Context) {
		name := strings.TrimSpace(c.Param("name"))
		listPosts(c, func(req pagination.Request) (pagination.Result[service.FullPost], error) {
			return svc.FetchPostsByTag(c.Request.Context(), caller.Get(c), name, req)
		})
	})
	g.GET("/search", func(c *gin.Context) {
		q := c.Query("q")
		listPosts(c, func(req pagination.Request) (pagination.Result[service.FullPost], error) {
			return svc.SearchContent(c.Request.Context(), caller.Get(c), q, req)
		})
	})
	g.GET("/users/:id/search", func(c *gin.Context) {
		author, ok := idParam(c, "user")
		if !ok {
			return
		}
		q := c.Query("q")
		listPosts(c, func(req pagination.Request) (pagination.Result[service.FullPost], error) {
			return svc.SearchUserContent(c.Request.Context(), caller.Get(c), q, author, req)
		})
	})
}

func createPost(c *gin.Context, svc *service.Service) {
	var req service.SavePostInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	id, err := svc.SavePost(c.Request.Context(), caller.Get(c), req)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// fetchPost answers 200 with null when the post is missing or hidden.
func fetchPost(c *gin.Context, svc *service.Service) {
	id, ok := idParam(c, "post")
	if !ok {
		return
	}
	post, err := svc.FetchPost(c.Request.Context(), caller.Get(c), id)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func deletePost(c *gin.Context, svc *service.Service) {
	id, ok := idParam(c, "post")
	if !ok {
		return
	}
	if err := svc.DeletePost(c.Request.Context(), caller.Get(c), id); err != nil {
		caller.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listPosts(c *gin.Context, list func(req pagination.Request) (pagination.Result[service.FullPost], error)) {
	var req pagination.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	res, err := list(req)
	if err != nil {
		caller.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func idParam(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}
