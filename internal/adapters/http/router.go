package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Viewing/internal/adapters/auth"
	"github.com/dkeye/Viewing/internal/adapters/signal"
	"github.com/dkeye/Viewing/internal/app/orch"
	"github.com/dkeye/Viewing/internal/config"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, verifier *auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ViewingSessions", store))
	r.Use(auth.Identity(verifier))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(o.List())})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{orch: o, verifier: verifier}
	api := r.Group("/api")

	api.POST("/auth", h.login)
	api.DELETE("/auth", h.logout)

	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.endSession)

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:        cfg.ReadLimit,
		PingPeriod:       cfg.PingPeriod,
		SendBuffer:       cfg.SendBuffer,
		ChatRateLimit:    cfg.ChatRateLimit,
		ChatRateInterval: cfg.ChatRateInterval,
	})
	api.GET("/ws/viewing", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Msg("ws viewing endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

type handlers struct {
	orch     *orch.Orchestrator
	verifier *auth.Verifier
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	if h.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication disabled"})
		return
	}
	uid, err := h.verifier.Verify(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err := auth.Login(c, uid); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": uid})
}

func (h *handlers) logout(c *gin.Context) {
	if err := auth.Logout(c); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	c.Status(http.StatusNoContent)
}

type sessionView struct {
	domain.Session
	Participants []domain.Participant `json:"participants"`
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.orch.List()})
}

func (h *handlers) getSession(c *gin.Context) {
	s, roster, ok := h.orch.Snapshot(domain.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if roster == nil {
		roster = []domain.Participant{}
	}
	c.JSON(http.StatusOK, sessionView{Session: s, Participants: roster})
}

func (h *handlers) endSession(c *gin.Context) {
	uid := domain.UserID(c.GetString(auth.UserIDKey))
	err := h.orch.EndSessionAs(c.Request.Context(), domain.SessionID(c.Param("id")), uid)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrMetadataNotFound):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host may end this session"})
	case errors.Is(err, domain.ErrSessionEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "session already ended"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("end session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
