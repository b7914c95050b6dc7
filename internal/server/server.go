package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tally/internal/blobstore"
	"tally/internal/gc"
	"tally/internal/store"
)

const (
	apiTokenEnvKey    = "TALLY_API_TOKEN"
	adminTokenEnvKey  = "TALLY_ADMIN_TOKEN"
	allowRemoteEnvKey = "TALLY_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 5 * time.Minute
	writeTimeout      = 5 * time.Minute
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 15 * time.Second
	gcConcurrency     = 1
)

// AuthorizationCheck decides whether actorID may access the attachments of
// the expense ownerID.
type AuthorizationCheck func(ctx context.Context, actorID, ownerID string) bool

// AllowAll grants every actor access to every expense.
func AllowAll(context.Context, string, string) bool { return true }

// Options configures optional server components. Zero values select defaults.
type Options struct {
	Logger      *slog.Logger
	BlobBackend string
	Collector   *gc.Collector
	Authorize   AuthorizationCheck
	// Registry enables GET /metrics and HTTP request metrics.
	Registry *prometheus.Registry

	MaxUploadBytes     int64
	MultipartMaxMemory int64
	AllowedMediaTypes  []string
	MaxNameLength      int
}

// Server wraps HTTP handlers for the tally API.
type Server struct {
	addr               string
	store              store.ServiceStore
	blobBackend        string
	attachmentService  *AttachmentService
	collector          *gc.Collector
	authorize          AuthorizationCheck
	logger             *slog.Logger
	apiToken           string
	adminToken         string
	metrics            *httpMetrics
	metricsHandler     http.Handler
	maxUploadBytes     int64
	multipartMaxMemory int64
	gcLimiter          chan struct{}
}

// New creates a new server instance.
func New(addr string, st store.ServiceStore, blobs blobstore.BlobStore, opts Options) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authorize := opts.Authorize
	if authorize == nil {
		authorize = AllowAll
	}

	attachments := NewAttachmentService(st, st, blobs, opts.Collector, logger)
	attachments.ConfigurePolicy(opts.AllowedMediaTypes, opts.MaxNameLength)

	s := &Server{
		addr:               addr,
		store:              st,
		blobBackend:        opts.BlobBackend,
		attachmentService:  attachments,
		collector:          opts.Collector,
		authorize:          authorize,
		logger:             logger,
		apiToken:           strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
		adminToken:         strings.TrimSpace(os.Getenv(adminTokenEnvKey)),
		maxUploadBytes:     opts.MaxUploadBytes,
		multipartMaxMemory: opts.MultipartMaxMemory,
		gcLimiter:          make(chan struct{}, gcConcurrency),
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	if s.multipartMaxMemory <= 0 {
		s.multipartMaxMemory = defaultMultipartMemory
	}
	if opts.Registry != nil {
		metrics, err := newHTTPMetrics(opts.Registry)
		if err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		s.metrics = metrics
		s.metricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	}
	return s, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.withRequestLogging(s.withAuth(s.routes())))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr, "blob_backend", s.blobBackend)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("a %s run is already in progress", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
