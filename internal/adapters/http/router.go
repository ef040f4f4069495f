// Package http wires the gin router: the signaling endpoint, artifact
// downloads, and a health probe.
package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/adapters/ws"
	"github.com/echoroom/server/internal/config"
)

var startedAt = time.Now()

// ClientTokenMiddleware assigns each browser a stable connection identity
// via the "ct" cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("EchoRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", healthHandler)
	r.GET("/download/*filepath", downloadHandler(cfg.RecordingsDir))
	r.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("cid", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("recordings", cfg.RecordingsDir).Msg("router setup")
	return r
}

func healthHandler(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime":     time.Since(startedAt).String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc_bytes": mem.Alloc,
			"sys_bytes":   mem.Sys,
			"num_gc":      mem.NumGC,
		},
	})
}

// downloadHandler serves finished artifacts from the recordings root. The
// requested path must stay inside the root; an empty file is treated as a
// failed recording, not a valid download.
func downloadHandler(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rel := strings.TrimPrefix(c.Param("filepath"), "/")
		full := filepath.Join(root, filepath.FromSlash(rel))

		rootAbs, err := filepath.Abs(root)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		fullAbs, err := filepath.Abs(full)
		if err != nil || !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
			return
		}

		st, err := os.Stat(fullAbs)
		if err != nil || st.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
			return
		}
		if st.Size() == 0 {
			log.Error().Str("module", "adapters.http").Str("path", fullAbs).Msg("requested artifact is empty")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recording is empty"})
			return
		}

		c.Header("Content-Type", "audio/mpeg")
		c.Header("Content-Disposition", `attachment; filename="`+filepath.Base(fullAbs)+`"`)
		c.File(fullAbs)
	}
}
