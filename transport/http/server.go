// Package http implements the HTTP/SSE Transport named in spec §6: the
// thread/run/assistant/store endpoint table, SSE streaming, and the two
// accepted auth schemes, routed with chi the way kadirpekel-hector's REST
// gateway does and framed the way Jint8888-Pocket-Omega's web server does
// (graceful shutdown, sseWriter). Routing, CORS, and auth guards are ambient
// plumbing around the Scheduler/Runner; only the endpoint contracts are
// specified.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/ledger"
	pipeline "github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/stream"
	"github.com/xpert-ai/agentgraph/runtime/telemetry"
)

// Deps wires Server to the runtime collaborators it dispatches requests to.
// Nil stores fall back to in-memory implementations suitable for local
// development, a nil Bus to a new Bus and a nil Logger to a no-op logger;
// Ledger, Auth and CORSAllowOrigins are optional. The remaining fields are
// required.
type Deps struct {
	Assistants   AssistantStore
	Threads      ThreadStore
	Runs         RunStore
	Memory       MemoryStore
	Checkpointer checkpoint.Checkpointer
	Interrupts   *interrupt.Manager
	ModelClient  model.Client
	Pipeline     *pipeline.Pipeline
	Registry     compiler.Registry
	Bus          *stream.Bus
	Logger       telemetry.Logger
	// Ledger, if non-nil, is passed to every compiled Runner so each node
	// execution is recorded as an Agent Execution Ledger row; nil disables
	// ledger recording.
	Ledger ledger.Store
	// Auth validates incoming requests; nil disables authentication.
	Auth SecretIssuer
	// CORSAllowOrigins lists allowed cross-origin callers; empty disables
	// the CORS middleware entirely.
	CORSAllowOrigins []string
}

// Server is the HTTP/SSE Transport: a chi.Router bound to one set of Deps.
type Server struct {
	deps   Deps
	router chi.Router
	http   *http.Server
}

// NewServer builds a Server with every route registered. Nil stores in deps
// are replaced with in-memory defaults.
func NewServer(deps Deps) *Server {
	if deps.Assistants == nil {
		deps.Assistants = NewAssistantStore()
	}
	if deps.Threads == nil {
		deps.Threads = NewThreadStore()
	}
	if deps.Runs == nil {
		deps.Runs = NewRunStore()
	}
	if deps.Memory == nil {
		deps.Memory = NewMemoryStore()
	}
	if deps.Bus == nil {
		deps.Bus = stream.NewBus()
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}

	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root http.Handler, for tests that drive the Server
// through httptest without binding a real listener.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.deps.Logger))
	if len(s.deps.CORSAllowOrigins) > 0 {
		r.Use(corsMiddleware(s.deps.CORSAllowOrigins))
	}
	r.Use(authMiddleware(s.deps.Auth))

	r.Route("/threads", func(r chi.Router) {
		r.Post("/", s.handleCreateThread)
		r.Post("/search", s.handleSearchThreads)
		r.Route("/{threadID}", func(r chi.Router) {
			r.Get("/", s.handleGetThread)
			r.Delete("/", s.handleDeleteThread)
			r.Get("/state", s.handleGetThreadState)
			r.Route("/runs", func(r chi.Router) {
				r.Post("/", s.handleCreateRun)
				r.Post("/stream", s.handleStreamRun)
				r.Post("/wait", s.handleWaitRun)
				r.Get("/{runID}", s.handleGetRun)
			})
		})
	})

	r.Route("/assistants", func(r chi.Router) {
		r.Post("/search", s.handleSearchAssistants)
		r.Get("/{assistantID}", s.handleGetAssistant)
	})

	r.Route("/store/items", func(r chi.Router) {
		r.Post("/", s.handlePutStoreItem)
		r.Post("/search", s.handleSearchStoreItems)
		r.Get("/{namespace}/{key}", s.handleGetStoreItem)
		r.Delete("/{namespace}/{key}", s.handleDeleteStoreItem)
	})

	r.Post("/chatkit/sessions", s.handleCreateClientSecret)

	return r
}

// Start listens on addr and blocks until the context is cancelled, then
// shuts down gracefully within 10s (grounded on
// Jint8888-Pocket-Omega/internal/web/server.go's Start).
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// corsMiddleware allows the configured origins and handles preflight
// requests, grounded on kadirpekel-hector/pkg/transport/rest_gateway.go's
// corsMiddleware.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allow := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allow[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allow[origin] || allow["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, x-client-secret")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs each request's method, path, and outcome using the
// teacher's key-value logger style, not fmt.Printf.
func requestLogger(logger telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"elapsedMs", time.Since(start).Milliseconds(),
			)
		})
	}
}
