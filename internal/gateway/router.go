package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaywire/callbridge/internal/session"
	"github.com/relaywire/callbridge/pkg/logging"
)

// NewRouter builds the gin engine serving the Media Gateway, the
// Transcription push server, health, and per-session stats.
func NewRouter(binder DirectionBinder, registry *session.Registry, mediaPath, transcriptionPath string, logger *logging.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	media := NewMediaGateway(binder, logger)
	transcription := NewTranscriptionServer(registry, logger)

	r.GET(mediaPath, media.Handle)
	r.GET(transcriptionPath+"/:session_id", transcription.Handle)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": registry.Count()})
	})

	r.GET("/sessions/:id/stats", func(c *gin.Context) {
		snap, ok := registry.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	return r
}
