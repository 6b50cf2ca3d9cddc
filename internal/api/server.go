package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/dashboard"
	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/db"
	"github.com/pokeproto/pokeproto/internal/events"
	intnet "github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/session"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Battle is the part of a session peer the API drives.
type Battle interface {
	Role() session.Role
	SessionID() string
	State() string
	Snapshot() (battle.Snapshot, error)
	View() (session.ViewSnapshot, bool)
	Moves() ([]battle.Move, error)
	SubmitMove(ctx context.Context, move string) error
	Say(ctx context.Context, text string) error
	Spectators() []intnet.Peer
	TransportStats() intnet.Stats
}

// History reads recorded battles.
type History interface {
	ListBattles(ctx context.Context, limit int) ([]db.BattleRecord, error)
	Battle(ctx context.Context, id string) (db.BattleRecord, error)
	Turns(ctx context.Context, battleID string) ([]db.TurnRow, error)
}

// Server is the REST API server for a battle peer.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	battle   Battle
	history  History
	version  string
	logger   zerolog.Logger

	live *LiveHub

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when history
// recording is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, b Battle, history History, version string) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		battle:   b,
		history:  history,
		version:  version,
		logger:   util.ComponentLogger("api"),
		live:     NewLiveHub(eventBus),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()

	s.httpServer = &http.Server{
		Addr:         apiCfg.Address,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR allows immediate rebinding after restart.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", apiCfg.Address)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.live.Start()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.live.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	b := router.Group("/api/battle")
	{
		b.GET("/status", s.handleStatus)
		b.GET("/moves", s.handleMoves)
		b.GET("/spectators", s.handleSpectators)
		b.POST("/move", s.handleSubmitMove)
		b.POST("/chat", s.handleChat)
		b.GET("/history", s.handleListHistory)
		b.GET("/history/:id", s.handleGetHistory)
		b.GET("/live", s.handleLive)
	}

	router.GET("/api/transport/stats", s.handleTransportStats)
	router.GET("/api/system/usage", s.handleSystemUsage)
	router.GET("/api/config", s.handleGetConfig)

	if page, err := dashboard.Index(); err == nil {
		router.GET("/", func(c *gin.Context) {
			c.Data(http.StatusOK, "text/html; charset=utf-8", page)
		})
	} else {
		s.logger.Warn().Err(err).Msg("spectator page not available")
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	defer s.live.Stop()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
