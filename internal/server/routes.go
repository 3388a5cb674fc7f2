package server

import (
	"net/http"

	"github.com/danmuck/chatlink/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  s.client.Clock().Now().Sub(s.appeared).String(),
			"service": s.name,
			"version": Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := s.client.Session().IsConnected()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": ready,
			"state": s.client.Session().State().String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/session", s.handleSession)

	r.GET("/requests", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": s.client.Session().Registry().List()})
	})

	r.GET("/notice", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.client.Notices().Last())
	})

	r.GET("/cache", func(c *gin.Context) {
		ids := s.client.CachedConversations()
		c.JSON(http.StatusOK, gin.H{
			"active":  ids,
			"entries": s.client.Ledger().Entries(),
			"ttl":     s.client.Ledger().TTL().String(),
		})
	})

	control := r.Group("/", s.requireToken())
	control.POST("/conversations/:gid/activate", func(c *gin.Context) {
		gid := c.Param("gid")
		restored := s.client.ActivateConversation(gid)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": gid, "restored": restored})
	})

	control.POST("/window", func(c *gin.Context) {
		var body struct {
			Open    *bool `json:"open"`
			Focused *bool `json:"focused"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Open == nil || body.Focused == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open and focused are required"})
			return
		}
		s.client.SetWindowState(*body.Open, *body.Focused)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) handleSession(c *gin.Context) {
	sess := s.client.Session()
	out := gin.H{
		"state":     sess.State().String(),
		"connected": sess.IsConnected(),
		"features":  sess.Features(),
		"pending":   sess.Registry().Len(),
	}
	if err := sess.LastError(); err != nil {
		out["last_error"] = gin.H{
			"message": err.Error(),
			"code":    session.ErrorCode(err),
		}
	}
	if u := s.client.User(); u != nil {
		id := u.Identity()
		out["user"] = gin.H{
			"id":      u.ID(),
			"account": id.Account,
			"server":  id.ServerName,
			"status":  u.Status(),
			"profile": u.Profile(),
		}
	}
	c.JSON(http.StatusOK, out)
}
