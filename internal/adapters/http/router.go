package http

import (
	"context"
	"net/http"

	"github.com/dkeye/chatcall/internal/adapters/signal"
	"github.com/dkeye/chatcall/internal/app/orch"
	"github.com/dkeye/chatcall/internal/config"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionCookie = "ChatCallSession"
	identityKey   = "identity"
)

// IdentityMiddleware reads the identity issued by the auth service from the
// session cookie. Requests without one are rejected.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, _ := sessions.Default(c).Get(identityKey).(string)
		id, err := domain.ParseIdentity(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityOf(c *gin.Context) domain.Identity {
	id, _ := c.Get(identityKey)
	return id.(domain.Identity)
}

type devSessionRequest struct {
	Identity string `json:"identity"`
}

// devSession issues an identity cookie without any credential check.
func devSession(c *gin.Context) {
	var req devSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	id, err := domain.ParseIdentity(req.Identity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.Set(identityKey, id.String())
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("identity", id.String()).Msg("dev session issued")
	c.JSON(http.StatusOK, gin.H{"identity": id})
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, m *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionCookie, store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.NewRateLimiter(cfg.SignalRate, cfg.SignalBurst), m, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	api := r.Group("/api")
	if cfg.Mode == "debug" {
		api.POST("/dev/session", devSession)
		log.Warn().Str("module", "adapters.http").Msg("dev session endpoint enabled")
	}

	authed := api.Group("", IdentityMiddleware())
	authed.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Registry.Snapshot())
	})
	authed.GET("/ws/signal", func(c *gin.Context) {
		id := identityOf(c)
		log.Info().Str("module", "adapters.http").Str("identity", id.String()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, id)
	})

	return r
}
