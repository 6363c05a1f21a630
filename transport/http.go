package transport

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hivehub.dev/common"
	"hivehub.dev/config"
	"hivehub.dev/discovery"
	"hivehub.dev/fault"
	"hivehub.dev/mcp"
	"hivehub.dev/omega"
	"hivehub.dev/sinks"
	"hivehub.dev/version"
)

const probeTimeout = 5 * time.Second

// ComponentHealth reports one backing dependency on the health surface.
type ComponentHealth struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Reason    string `json:"reason,omitempty"`
}

// HealthProbe checks one backing dependency.
type HealthProbe func(ctx context.Context) ComponentHealth

// Options wires the HTTP surface to the rest of the hub. Governance is
// optional; when set it journals every dispatch route request.
type Options struct {
	Service    string
	Config     config.ServerConfig
	Dispatcher *mcp.Dispatcher
	Registry   *discovery.Registry
	Governance *omega.Omega
	Probes     map[string]HealthProbe
}

// HTTPServer is the hub's multi-client surface: REST-ish operational
// endpoints plus the MCP envelope over POST /mcp and a WebSocket at
// /mcp/ws.
type HTTPServer struct {
	echo    *echo.Echo
	opts    Options
	started time.Time
}

// NewHTTPServer builds the echo server with the hub's middleware chain
// and route table.
func NewHTTPServer(opts Options) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = opts.Config.Debug

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if opts.Config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.Config.BodyLimit))
	}
	if len(opts.Config.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.Config.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				echo.HeaderAuthorization,
			},
		}))
	}
	if opts.Config.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(opts.Config.RateLimit),
		)))
	}
	if opts.Config.BearerToken != "" {
		e.Use(bearerMiddleware(opts.Config.BearerToken))
	}

	s := &HTTPServer{echo: e, opts: opts, started: time.Now()}
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/health", s.handleHealth)
	e.GET("/health/live", s.handleLive)
	e.GET("/health/ready", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(sinks.MetricsHandler()))
	e.GET("/servers", s.handleServers)
	e.GET("/tools", s.handleTools)
	e.GET("/state", s.handleState)

	dispatch := e.Group("")
	if opts.Governance != nil {
		dispatch.Use(opts.Governance.Middleware())
	}
	dispatch.POST("/mcp", s.handleRPC)
	dispatch.POST("/tools/call", s.handleToolsCall)
	dispatch.GET("/mcp/ws", s.handleWebSocket)

	return s
}

// Start blocks serving until Shutdown or a listener error.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Config.Host, s.opts.Config.Port)
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  s.opts.Config.ReadTimeout,
		WriteTimeout: s.opts.Config.WriteTimeout,
	}
	common.Logger.WithFields(logrus.Fields{"addr": addr}).Info("HTTP transport listening")
	return s.echo.StartServer(srv)
}

// Shutdown stops accepting connections and drains handlers.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying instance for tests.
func (s *HTTPServer) Echo() *echo.Echo {
	return s.echo
}

// bearerMiddleware requires Authorization: Bearer <token> on every route
// except the health and metrics surfaces.
func bearerMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if strings.HasPrefix(path, "/health") || path == "/metrics" {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			presented, found := strings.CutPrefix(header, "Bearer ")
			if !found {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}
	}
}

// errorHandler renders every handler error as the hub's error body, with
// the status derived from the fault kind. Detail fields are debug-gated.
func (s *HTTPServer) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := fault.HTTPStatus(err)
	message := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}

	body := map[string]interface{}{
		"message":   message,
		"timestamp": common.NowISO(),
		"path":      c.Request().URL.Path,
	}
	if s.opts.Config.Debug {
		if kind := fault.KindOf(err); kind != "" {
			body["kind"] = string(kind)
		}
	}

	if writeErr := c.JSON(code, map[string]interface{}{"error": body}); writeErr != nil {
		common.Logger.WithFields(logrus.Fields{"error": writeErr.Error()}).Error("Cannot write error response")
	}
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	components := map[string]ComponentHealth{}
	healthy := 0
	for name, probe := range s.opts.Probes {
		ch := probe(ctx)
		components[name] = ch
		if ch.Healthy {
			healthy++
		}
	}

	status := "healthy"
	code := http.StatusOK
	switch {
	case len(components) > 0 && healthy == 0:
		status = "error"
		code = http.StatusServiceUnavailable
	case healthy < len(components):
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]interface{}{
		"status":           status,
		"service":          s.opts.Service,
		"version":          version.GetHubVersion(),
		"uptime":           time.Since(s.started).Round(time.Second).String(),
		"response_time_ms": time.Since(start).Milliseconds(),
		"components":       components,
	})
}

func (s *HTTPServer) handleLive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"alive": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ready := s.opts.Registry == nil || s.opts.Registry.Healthy()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{"ready": ready})
}

func (s *HTTPServer) handleServers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"servers": s.opts.Registry.Entries(),
	})
}

// handleTools flattens the registry into one tool inventory, each entry
// carrying its owning server.
func (s *HTTPServer) handleTools(c echo.Context) error {
	type toolEntry struct {
		Server string `json:"server"`
		Name   string `json:"name"`
	}
	tools := []toolEntry{}
	for _, entry := range s.opts.Registry.Entries() {
		for _, name := range entry.Tools {
			tools = append(tools, toolEntry{Server: entry.Name, Name: name})
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(tools),
		"tools": tools,
	})
}

func (s *HTTPServer) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stats":  s.opts.Dispatcher.Stats(),
		"recent": s.opts.Dispatcher.Recent(50),
	})
}

// handleRPC carries the full envelope protocol over a single endpoint.
func (s *HTTPServer) handleRPC(c echo.Context) error {
	req := new(Request)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusOK, errResponse(nil, codeParseError, "malformed request body"))
	}
	return c.JSON(http.StatusOK, Handle(c.Request().Context(), s.opts.Dispatcher, req))
}

type toolsCallBody struct {
	Server    string                 `json:"server"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// handleToolsCall is the REST-ish alias for tools/call: the envelope is
// returned as-is, so failures arrive as isError envelopes with 200.
func (s *HTTPServer) handleToolsCall(c echo.Context) error {
	body := new(toolsCallBody)
	if err := c.Bind(body); err != nil {
		return fault.Invalid("malformed request body")
	}
	result, _ := s.opts.Dispatcher.ToolsCall(c.Request().Context(), body.Server, body.Tool, body.Arguments)
	return c.JSON(http.StatusOK, result)
}
