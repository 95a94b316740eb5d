package http

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/protocol"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/request"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Deps are the components the handlers read from
type Deps struct {
	Context  *urlrequest.Context
	Registry *protocol.Registry
	Tracker  *request.Tracker
	Profile  *config.Profile
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	ctx      *urlrequest.Context
	registry *protocol.Registry
	tracker  *request.Tracker
	profile  *config.Profile
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracker == nil {
		d.Tracker = request.NewTracker()
	}
	return &Handlers{
		ctx:      d.Context,
		registry: d.Registry,
		tracker:  d.Tracker,
		profile:  d.Profile,
		metrics:  d.Metrics,
		logger:   d.Logger.With(zap.String("component", "api")),
	}
}

// Root reports the service identity
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "netcore",
		"version": Version,
	})
}

// Health reports pipeline state
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if h.ctx.IsShutdown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"session":   h.ctx.Session().String(),
		"emulating": h.ctx.EmulationClientID() != "",
		"facades":   h.tracker.Len(),
	})
}

// ============================================================================
// Protocols
// ============================================================================

// Protocols lists built-in schemes and registry entries
func (h *Handlers) Protocols(c *gin.Context) {
	var entries []protocol.Entry
	if !h.ctx.UI().Invoke(func() { entries = h.registry.Schemes() }) {
		h.unavailable(c)
		return
	}

	registered := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		registered = append(registered, gin.H{
			"scheme": e.Scheme,
			"kind":   e.Kind.String(),
			"native": e.Native,
		})
	}
	builtins := h.ctx.BuiltinSchemes()
	sort.Strings(builtins)

	c.JSON(http.StatusOK, gin.H{
		"builtin":    builtins,
		"registered": registered,
	})
}

// Protocol reports whether a scheme is served
func (h *Handlers) Protocol(c *gin.Context) {
	scheme := c.Param("scheme")

	var (
		entry protocol.Entry
		found bool
	)
	handled := make(chan bool, 1)
	posted := h.ctx.UI().Invoke(func() {
		entry, found = h.registry.Lookup(scheme)
		h.registry.IsHandledProtocol(scheme, func(ok bool) { handled <- ok })
	})
	if !posted {
		h.unavailable(c)
		return
	}

	select {
	case ok := <-handled:
		resp := gin.H{
			"scheme":  scheme,
			"handled": ok,
			"builtin": h.ctx.IsBuiltinScheme(scheme),
		}
		if found {
			resp["kind"] = entry.Kind.String()
			resp["native"] = entry.Native
		}
		c.JSON(http.StatusOK, resp)
	case <-c.Request.Context().Done():
	}
}

// ============================================================================
// Emulation
// ============================================================================

// EmulationRequest is the PUT /emulation body. A preset wins over the fields.
type EmulationRequest struct {
	Preset             string  `json:"preset"`
	Offline            bool    `json:"offline"`
	LatencyMs          float64 `json:"latencyMs" binding:"gte=0"`
	DownloadThroughput float64 `json:"downloadThroughput" binding:"gte=0"`
	UploadThroughput   float64 `json:"uploadThroughput" binding:"gte=0"`
}

func (r EmulationRequest) conditions() throttle.Conditions {
	return throttle.Conditions{
		Offline:            r.Offline,
		Latency:            time.Duration(r.LatencyMs * float64(time.Millisecond)),
		DownloadThroughput: r.DownloadThroughput,
		UploadThroughput:   r.UploadThroughput,
	}
}

// Emulation reports the active conditions and queue sizes
func (h *Handlers) Emulation(c *gin.Context) {
	var (
		cond  throttle.Conditions
		stats throttle.Stats
	)
	posted := h.ctx.IO().Invoke(func() {
		cond = h.ctx.Throttle().Conditions()
		stats = h.ctx.Throttle().Stats()
	})
	if !posted {
		h.unavailable(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":    h.ctx.EmulationClientID() != "",
		"clientId":   h.ctx.EmulationClientID(),
		"conditions": conditionsJSON(cond),
		"queues": gin.H{
			"download":  stats.Download,
			"upload":    stats.Upload,
			"suspended": stats.Suspended,
		},
		"presets": h.profile.PresetNames(),
	})
}

// SetEmulation applies conditions to this context's requests
func (h *Handlers) SetEmulation(c *gin.Context) {
	var req EmulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cond := req.conditions()
	if req.Preset != "" {
		preset, ok := h.profile.Resolve(req.Preset)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown preset: " + req.Preset,
				"presets": h.profile.PresetNames(),
			})
			return
		}
		cond = preset
	}

	h.ctx.EnableNetworkEmulation(cond)
	if h.metrics != nil {
		h.metrics.SetEmulationEnabled(true)
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":    true,
		"clientId":   h.ctx.EmulationClientID(),
		"conditions": conditionsJSON(cond),
	})
}

// ClearEmulation releases every throttled transfer
func (h *Handlers) ClearEmulation(c *gin.Context) {
	h.ctx.DisableNetworkEmulation()
	if h.metrics != nil {
		h.metrics.SetEmulationEnabled(false)
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func conditionsJSON(cond throttle.Conditions) gin.H {
	return gin.H{
		"offline":            cond.Offline,
		"latencyMs":          float64(cond.Latency) / float64(time.Millisecond),
		"downloadThroughput": cond.DownloadThroughput,
		"uploadThroughput":   cond.UploadThroughput,
		"summary":            cond.String(),
	}
}

// ============================================================================
// Requests and metrics
// ============================================================================

// Requests lists live facades and the engine request count
func (h *Handlers) Requests(c *gin.Context) {
	var engine int
	if !h.ctx.IO().Invoke(func() { engine = h.ctx.LiveRequests() }) {
		h.unavailable(c)
		return
	}
	facades := h.tracker.List()
	c.JSON(http.StatusOK, gin.H{
		"facades": facades,
		"count":   len(facades),
		"engine":  engine,
	})
}

// MetricsSnapshot returns the JSON metrics view
func (h *Handlers) MetricsSnapshot(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func (h *Handlers) unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "networking context is shut down"})
}

// Register mounts the API routes on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.Any("/fetch", h.Fetch)

	r.GET("/protocols", h.Protocols)
	r.GET("/protocols/:scheme", h.Protocol)

	r.GET("/emulation", h.Emulation)
	r.PUT("/emulation", h.SetEmulation)
	r.DELETE("/emulation", h.ClearEmulation)

	r.GET("/requests", h.Requests)
	r.GET("/metrics/json", h.MetricsSnapshot)
}
