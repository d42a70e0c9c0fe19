// Package gateway exposes the pipeline over HTTP: request submission and
// polling for callers, the approval write path and live event feed for
// reviewers, plus health, stats and Prometheus metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viant/nexus/progress"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/dao/request"
	"github.com/viant/nexus/service/poller"
)

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// APIKeyHash holds a bcrypt hash of the caller API key; when set every
	// /v1 endpoint requires a matching X-API-Key header.
	APIKeyHash string `json:"apiKeyHash,omitempty" yaml:"apiKeyHash,omitempty"`

	// JWTSecret verifies reviewer tokens on the approval write path. When
	// empty the decision identity is taken from the request body instead.
	JWTSecret []byte `json:"-" yaml:"-"`

	ReadTimeout     time.Duration `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	WriteTimeout    time.Duration `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty"`
}

// DefaultConfig returns gateway defaults. The write timeout leaves headroom
// for the outcome long-poll, which is capped at maxAwaitTimeout.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8090",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Submitter accepts new AI requests into the pipeline and returns the
// assigned request id.
type Submitter interface {
	Submit(ctx context.Context, kind string, payload json.RawMessage, requiresApproval bool) (string, error)
}

// Awaiter blocks until a request reaches a terminal status or the wait times
// out.
type Awaiter interface {
	AwaitResult(ctx context.Context, requestID string, timeout time.Duration) (poller.Outcome, error)
}

// Service serves the pipeline HTTP surface.
type Service struct {
	config   Config
	logger   *Logger
	submit   Submitter
	requests request.Store
	results  Awaiter
	gate     approval.Service
	tracker  *progress.Progress
	stats    func() poller.Stats
	server   *http.Server
}

// New creates a gateway with the supplied options.
func New(options ...Option) (*Service, error) {
	ret := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(ret)
	}
	if ret.submit == nil {
		return nil, fmt.Errorf("gateway requires a submitter")
	}
	if ret.requests == nil {
		return nil, fmt.Errorf("gateway requires a request store")
	}
	if ret.results == nil {
		return nil, fmt.Errorf("gateway requires a result awaiter")
	}
	if ret.gate == nil {
		return nil, fmt.Errorf("gateway requires an approval gate")
	}
	if ret.logger == nil {
		ret.logger = NewLogger("info", "json", os.Stdout)
	}
	ret.server = &http.Server{
		Addr:         ret.config.Addr,
		Handler:      ret.Handler(),
		ReadTimeout:  ret.config.ReadTimeout,
		WriteTimeout: ret.config.WriteTimeout,
	}
	return ret, nil
}

// Handler builds the routing surface. It is exported so tests and embedders
// can mount the gateway without binding a listener.
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.apiKeyMiddleware)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/requests", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/outcome", s.handleAwaitOutcome).Methods(http.MethodGet)
	api.HandleFunc("/approvals", s.handleListApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/feed", s.handleApprovalFeed).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}", s.handleResolveApproval).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

// Start mirrors the progress tracker into metric gauges and serves until
// Shutdown or a listener error.
func (s *Service) Start(ctx context.Context) error {
	if s.tracker != nil {
		s.tracker.OnChange(observeProgress)
		observeProgress(s.tracker.Snapshot())
	}
	if s.stats != nil {
		bindResultStats(s.stats)
	}
	bindApprovalBacklog(func() int {
		pending, err := s.gate.Pending(context.Background())
		if err != nil {
			return 0
		}
		return len(pending)
	})
	s.logger.Info("gateway listening", map[string]interface{}{"addr": s.config.Addr})
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}
