// Package api exposes the council over HTTP and websockets.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/hupe1980/agentcouncil"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/dispatch"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/metrics"
	"github.com/hupe1980/agentcouncil/pipeline"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Council is the orchestration surface served by the API.
type Council interface {
	RunCollaborativeGeneration(ctx context.Context, in pipeline.Input) (*core.PipelineRun, error)
	Decide(ctx context.Context, question string, options []string, agents []core.AgentBinding) (*core.ConsensusResult, error)
	Dispatch(ctx context.Context, req dispatch.TaskRequest) (*core.TaskRecord, error)
	DispatchBatch(ctx context.Context, reqs []dispatch.TaskRequest) []dispatch.BatchOutcome
	Models() agentcouncil.Models
	History(ctx context.Context, requesterID string, limit int) ([]*core.PipelineRun, error)
	Run(ctx context.Context, id string) (*core.PipelineRun, error)
	Tasks(ctx context.Context, requesterID string, limit int) ([]*core.TaskRecord, error)
	ActiveRuns() []string
}

// Options configure a Server.
type Options struct {
	Logger logging.Logger
	// Metrics, when set, serves /prometheus and observes every request.
	Metrics *metrics.Collector
	// Hub, when set, serves /api/v1/ws. It applies its own origin policy.
	Hub *Hub
	// AllowedOrigins are the CORS origins. Credentialed requests are never
	// allowed.
	AllowedOrigins []string
	// RequestTimeout bounds a single orchestration request (0 means none).
	RequestTimeout time.Duration
}

// Server routes HTTP requests to a Council.
type Server struct {
	council   Council
	opts      Options
	startedAt time.Time
}

// NewServer creates a Server.
func NewServer(council Council, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		AllowedOrigins: []string{"*"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Server{council: council, opts: opts, startedAt: time.Now()}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	r.HandleFunc("/health", s.health).Methods("GET")
	if s.opts.Metrics != nil {
		r.Handle("/prometheus", s.opts.Metrics.Handler()).Methods("GET")
		r.Use(s.observe)
	}
	if s.opts.Hub != nil {
		r.Handle("/api/v1/ws", s.opts.Hub).Methods("GET")
	}

	api := r.PathPrefix("/api/v1/orchestrate").Subrouter()
	api.HandleFunc("/collaborative-code", s.collaborativeCode).Methods("POST")
	api.HandleFunc("/consensus", s.consensus).Methods("POST")
	api.HandleFunc("/specialized", s.specialized).Methods("POST")
	api.HandleFunc("/batch", s.batch).Methods("POST")
	api.HandleFunc("/models", s.models).Methods("GET")
	api.HandleFunc("/history/{user_id}", s.history).Methods("GET")
	api.HandleFunc("/tasks/{user_id}", s.tasks).Methods("GET")
	api.HandleFunc("/runs/{id}", s.run).Methods("GET")

	return c.Handler(r)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
// It also runs the hub's broadcast loop.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if s.opts.Hub != nil {
		go s.opts.Hub.Run(ctx)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack supports the websocket upgrade behind the metrics middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.opts.Metrics.ObserveRequest(route, rec.code, time.Since(start))
	})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}
