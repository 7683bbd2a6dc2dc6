// server.go - HTTP surface of the ledger authority.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"zerosync/internal/logging"
	"zerosync/internal/metrics"
	"zerosync/internal/node"
	"zerosync/internal/query"
)

// Options configures the HTTP server.
type Options struct {
	ListenAddr string
	RateLimit  float64 // per client and second, on POST routes; 0 disables
	RateBurst  int
	Version    string
}

// Server serves the query, validator and bulletin routes.
type Server struct {
	log       zerolog.Logger
	metrics   *metrics.Collector
	index     *query.Index
	svc       node.QueryService
	validator node.Validator
	bulletin  node.Bulletin
	health    *HealthChecker
	limiter   *ClientRateLimiter
	opts      Options
}

// New creates a server over the given authority capabilities.
func New(log zerolog.Logger, m *metrics.Collector, svc node.QueryService, validator node.Validator, bulletin node.Bulletin, opts Options) *Server {
	s := &Server{
		log:       logging.Component(log, "server"),
		metrics:   m,
		index:     query.New(svc),
		svc:       svc,
		validator: validator,
		bulletin:  bulletin,
		health:    NewHealthChecker(opts.Version),
		opts:      opts,
	}
	if opts.RateLimit > 0 {
		s.limiter = NewClientRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.health.RegisterComponent("query", func(ctx context.Context) error {
		_, err := svc.GetSummary(ctx)
		return err
	})
	return s
}

// Health returns the checker behind /healthz so more components can be registered.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// NewRouter binds every route of the registry to its handler.
func (s *Server) NewRouter() (*mux.Router, error) {
	if err := checkRoutes(Routes); err != nil {
		return nil, err
	}
	handlers := s.handlers()
	for _, k := range AllRoutes() {
		if _, ok := handlers[k]; !ok {
			return nil, fmt.Errorf("no handler for route %s", k)
		}
	}

	router := mux.NewRouter()
	router.Use(LoggingMiddleware(s.log))
	for _, route := range Routes {
		route := route
		for _, pattern := range route.Patterns {
			pattern := pattern
			h := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				bindings, err := bind(route, mux.Vars(r))
				if err != nil {
					s.fail(w, r, err)
					return
				}
				handlers[route.Key](w, r, pattern, bindings)
			}))
			if route.Method == http.MethodPost {
				h = s.limiter.Middleware(h)
			}
			router.Handle(muxPattern(pattern), s.metrics.InstrumentHandler(route.Key.String(), h)).Methods(route.Method)
		}
	}
	router.Handle("/healthz", s.health).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return router, nil
}

// bind parses the matched path variables against the declared parameter types.
func bind(route Route, vars map[string]string) (Bindings, error) {
	b := make(Bindings, len(vars))
	for name, raw := range vars {
		param := ":" + name
		t, ok := route.Params[param]
		if !ok {
			return nil, fmt.Errorf("route %s: undeclared parameter %s", route.Key, param)
		}
		v, err := ParseSegment(raw, t)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", param, err)
		}
		b[param] = Binding{Parameter: param, Value: v}
	}
	return b, nil
}

// NewHTTPServer returns an HTTP server with the router behind a CORS handler.
func (s *Server) NewHTTPServer() (*http.Server, error) {
	router, err := s.NewRouter()
	if err != nil {
		return nil, err
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
			http.MethodHead},
	})
	return &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      c.Handler(router),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}, nil
}
