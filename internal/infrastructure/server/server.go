package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/AgentOS/netcore/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/protocol"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/request"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/scripting"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

// Server wraps the HTTP server and the request pipeline behind it
type Server struct {
	router   *gin.Engine
	http     *http.Server
	ui       *executor.Sequence
	io       *executor.Sequence
	ctx      *urlrequest.Context
	registry *protocol.Registry
	tracker  *request.Tracker
	host     *scripting.Host
	hub      *ws.Hub
	tracer   *tracing.Tracer
	observer id.ListenerID
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer builds the pipeline, applies the profile and startup script,
// and sets up routes
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing netcore server",
		zap.String("port", cfg.Server.Port),
		zap.String("profile", cfg.Profile.Path),
		zap.String("script", cfg.Scripting.Path),
	)

	var profile *config.Profile
	if cfg.Profile.Path != "" {
		profile, err = config.LoadProfile(cfg.Profile.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded shell profile",
			zap.String("name", profile.Name),
			zap.Int("mounts", len(profile.Mounts)),
			zap.Int("presets", len(profile.Presets)),
		)
	}

	metrics := monitoring.NewMetrics()

	breakers := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Upstream breaker changed state",
				zap.String("host", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	ui := executor.New("ui", logger.Logger)
	io := executor.New("io", logger.Logger)
	s := &Server{ui: ui, io: io, logger: logger, config: cfg, metrics: metrics}

	s.ctx, err = urlrequest.NewContext(ui, io, urlrequest.Options{
		UserAgent:    cfg.Network.UserAgent,
		Timeout:      cfg.Network.Timeout,
		MaxRedirects: cfg.Network.MaxRedirects,
		Breakers:     breakers,
		Logger:       logger.Logger,
		Hooks: urlrequest.Hooks{
			JobStarted: metrics.RecordJobStarted,
			BytesRead:  metrics.RecordBytesRead,
		},
	})
	if err != nil {
		s.stopSequences()
		return nil, fmt.Errorf("create networking context: %w", err)
	}

	io.Invoke(func() {
		s.ctx.Throttle().OnStats(func(st throttle.Stats) {
			metrics.SetThrottleQueues(st.Download, st.Upload, st.Suspended)
		})
	})
	s.observer = s.ctx.Delegate().Observe(func(ev delegate.Event, _ delegate.Details) {
		metrics.RecordRequestEvent(ev.String())
	})

	s.registry = protocol.NewRegistry(s.ctx, protocol.Hooks{
		Operation:  metrics.RecordRegistryOp,
		Dispatched: metrics.RecordHandlerOutcome,
	})
	s.tracker = request.NewTracker()
	metrics.TrackLive(s.tracker.Len)

	if err := s.mount(profile); err != nil {
		s.teardown()
		return nil, err
	}

	cond, enabled, err := startupConditions(cfg.Emulation, profile)
	if err != nil {
		s.teardown()
		return nil, err
	}
	if enabled {
		s.ctx.EnableNetworkEmulation(cond)
		metrics.SetEmulationEnabled(true)
	}

	s.host, err = scripting.New(scripting.Config{
		Timeout:          cfg.Scripting.Timeout,
		EnableConsole:    cfg.Scripting.Console,
		MaxCallStackSize: scripting.DefaultConfig().MaxCallStackSize,
		MaxConsole:       scripting.DefaultConfig().MaxConsole,
	}, scripting.Deps{
		Context:  s.ctx,
		Registry: s.registry,
		Tracker:  s.tracker,
		Logger:   logger.Logger,
	})
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("create scripting host: %w", err)
	}
	if cfg.Scripting.Path != "" {
		res, err := s.host.RunFile(context.Background(), cfg.Scripting.Path)
		if err != nil {
			s.teardown()
			return nil, fmt.Errorf("run startup script: %w", err)
		}
		logger.Info("Startup script finished",
			zap.String("path", cfg.Scripting.Path),
			zap.Duration("duration", res.Duration),
		)
	}

	s.hub = ws.NewHub(s.ctx.Delegate(), metrics, logger.Logger)
	s.tracer = tracing.New("netcore", logger.Logger)
	s.router = s.routes(profile)

	logger.Info("Server initialized successfully")
	return s, nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	lc.File = cfg.File

	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// mount serves each profile directory under its scheme
func (s *Server) mount(profile *config.Profile) error {
	if profile == nil {
		return nil
	}
	var err error
	s.ui.Invoke(func() {
		for _, m := range profile.Mounts {
			if err = s.registry.RegisterHandler(m.Scheme, job.NewDirectoryHandler(s.ctx.Env(), m.Dir), nil); err != nil {
				err = fmt.Errorf("mount %s: %w", m.Scheme, err)
				return
			}
			s.logger.Info("Mounted directory", zap.String("scheme", m.Scheme), zap.String("dir", m.Dir))
		}
	})
	return err
}

// startupConditions picks the emulation to apply at boot. Environment
// settings win over the profile default; a preset wins over explicit fields.
func startupConditions(cfg config.EmulationConfig, profile *config.Profile) (throttle.Conditions, bool, error) {
	name := cfg.Preset
	if name == "" && !cfg.Enabled() && profile != nil {
		name = profile.Emulation
	}
	if name != "" {
		cond, ok := profile.Resolve(name)
		if !ok {
			return throttle.Conditions{}, false, fmt.Errorf("unknown emulation preset %q", name)
		}
		return cond, true, nil
	}
	if !cfg.Enabled() {
		return throttle.Conditions{}, false, nil
	}
	return throttle.Conditions{
		Offline:            cfg.Offline,
		Latency:            cfg.Latency,
		DownloadThroughput: cfg.DownloadThroughput,
		UploadThroughput:   cfg.UploadThroughput,
	}, true, nil
}

func (s *Server) routes(profile *config.Profile) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		rl.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := api.NewHandlers(api.Deps{
		Context:  s.ctx,
		Registry: s.registry,
		Tracker:  s.tracker,
		Profile:  profile,
		Metrics:  s.metrics,
		Logger:   s.logger.Logger,
	})
	handlers.Register(router)

	router.GET("/events", s.hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	return router
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, aborts live requests and stops the
// sequences
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var err error
	if s.http != nil {
		if err = s.http.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
		}
	}
	s.teardown()
	s.logger.Sync()
	return err
}

// teardown releases everything NewServer created
func (s *Server) teardown() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.host != nil {
		s.host.Close()
	}
	if s.tracer != nil {
		s.tracer.Close()
	}
	if s.ctx != nil {
		s.ctx.Delegate().Unobserve(s.observer)
		s.ctx.Shutdown()
		// let the aborts run before the sequences stop
		s.io.Flush()
	}
	s.stopSequences()
}

func (s *Server) stopSequences() {
	s.io.Shutdown()
	s.ui.Shutdown()
}
