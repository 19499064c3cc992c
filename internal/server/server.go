package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/ctxutil"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/ratelimit"
)

// Server is the madoguchi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds everything needed to build a Server. A nil
// Authenticator disables authentication and every caller acts as admin.
// Limiter and MCPServer are optional.
type ServerConfig struct {
	Handlers      HandlersDeps
	Authenticator *auth.Authenticator
	Limiter       ratelimit.Limiter
	MCPServer     *mcpserver.MCPServer
	Logger        *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a Server with every route registered.
func New(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	deps := cfg.Handlers
	deps.Logger = cfg.Logger
	deps.Authenticator = cfg.Authenticator
	h := NewHandlers(deps)

	reqID := func(r *http.Request) string { return ctxutil.RequestID(r.Context()) }
	opRL := ratelimit.Middleware(cfg.Limiter, operatorKeyFunc, reqID, cfg.Logger)
	ipRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqID, cfg.Logger)

	viewer := func(f http.HandlerFunc) http.Handler { return opRL(requireRole(model.RoleViewer)(f)) }
	agent := func(f http.HandlerFunc) http.Handler { return opRL(requireRole(model.RoleAgent)(f)) }
	admin := func(f http.HandlerFunc) http.Handler { return requireRole(model.RoleAdmin)(f) }

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("POST /v1/operators", admin(h.HandleCreateOperator))

	// Tickets.
	mux.Handle("POST /v1/tickets", agent(h.HandleSubmitTicket))
	mux.Handle("POST /v1/tickets/batch", agent(h.HandleBatchSubmit))
	mux.Handle("GET /v1/tickets/{id}", viewer(h.HandleGetTicket))
	mux.Handle("GET /v1/tickets/{id}/logs", viewer(h.HandleTicketLogs))
	mux.Handle("GET /v1/tickets/{id}/summary", viewer(h.HandleTicketSummary))
	mux.Handle("GET /v1/stats", viewer(h.HandleStats))

	// Workflow log. The stream is long-lived and not rate limited.
	mux.Handle("GET /v1/logs", viewer(h.HandleQueryLogs))
	mux.Handle("GET /v1/logs/stream", requireRole(model.RoleViewer)(http.HandlerFunc(h.HandleStreamLogs)))

	// Pipeline components on their own.
	mux.Handle("POST /v1/classify", viewer(h.HandleClassify))
	mux.Handle("POST /v1/knowledge/search", viewer(h.HandleKnowledgeSearch))

	// Memory.
	mux.Handle("GET /v1/sessions/{id...}", viewer(h.HandleGetSession))
	mux.Handle("GET /v1/users/{id}/memory", viewer(h.HandleListMemory))
	mux.Handle("GET /v1/users/{id}/memory/{key}", viewer(h.HandleGetMemory))
	mux.Handle("PUT /v1/users/{id}/memory/{key}", agent(h.HandlePutMemory))

	// Data-access operations.
	mux.Handle("POST /v1/support/accounts/lookup", agent(h.HandleLookupAccount))
	mux.Handle("POST /v1/support/subscriptions", agent(h.HandleManageSubscription))
	mux.Handle("POST /v1/support/refunds", agent(h.HandleProcessRefund))
	mux.Handle("GET /v1/support/operations", admin(h.HandleListOperations))

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", opRL(requireRole(model.RoleAgent)(mcpserver.NewStreamableHTTPServer(cfg.MCPServer))))
	}

	// Outermost first: request id, tracing, logging, auth, recovery.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.Authenticator != nil {
		handler = authMiddleware(cfg.Authenticator.JWT(), handler)
	} else {
		cfg.Logger.Warn("server: authentication disabled, every request acts as admin")
		handler = anonymousMiddleware(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// operatorKeyFunc rate limits per operator. Admins are exempt.
func operatorKeyFunc(r *http.Request) string {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil || model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "operator:" + claims.OperatorID
}

// Handler returns the root handler for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
