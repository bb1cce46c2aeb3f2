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

	"chatvault/internal/auth"
	"chatvault/internal/blobcache"
	"chatvault/internal/broker"
	"chatvault/internal/chunkstore"
	"chatvault/internal/metrics"
	"chatvault/internal/store"
)

const (
	apiTokenEnvKey    = "CHATVAULT_API_TOKEN"
	adminTokenEnvKey  = "CHATVAULT_ADMIN_TOKEN"
	allowRemoteEnvKey = "CHATVAULT_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second

	defaultMaxUploadBytes     = 256 << 20
	defaultMultipartMaxMemory = 8 << 20
	uploadConcurrencyLimit    = 8

	loginMaxFailures = 5
	loginWindow      = 5 * time.Minute
	loginBlockedFor  = 5 * time.Minute
)

// Options wires a Server. Store is required; everything else has a default.
type Options struct {
	Addr         string
	Store        *store.Store
	Chunks       chunkstore.ChunkStore
	// ChunkBackend names Chunks in /v1/info.
	ChunkBackend string
	Cache        *blobcache.Cache
	Broker       *broker.Broker
	Notifier     Notifier
	Verifier     auth.Verifier
	Registry     *prometheus.Registry
	// Metrics must be registered on Registry; nil creates them there.
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	ChunkSize          int
	MaxUploadBytes     int64
	MultipartMaxMemory int64
	Websocket          broker.WebsocketOptions
}

// Server wraps HTTP handlers for the chatvault API.
type Server struct {
	addr         string
	store        *store.Store
	chunkBackend string
	logger       *slog.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	broker       *broker.Broker
	events       http.Handler

	objects   *ObjectService
	messages  *MessageService
	retention *RetentionService
	saved     *SavedService
	notify    *NotifyService
	verifier  auth.Verifier

	maxUploadBytes     int64
	multipartMaxMemory int64
	apiToken           string
	adminToken         string
	uploadLimiter      chan struct{}
	loginLimiter       *loginRateLimiter
}

// New creates a server and the services behind it.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(registry)
	}

	chunks := opts.Chunks
	backend := opts.ChunkBackend
	if chunks == nil {
		chunks = opts.Store
		backend = "sqlite"
	}
	cache := opts.Cache
	if cache == nil {
		cache = blobcache.New(blobcache.DefaultConfig())
	}
	b := opts.Broker
	if b == nil {
		b = broker.New(broker.Options{Logger: logger, Metrics: m})
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = auth.NewStoreVerifier(opts.Store)
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	multipartMemory := opts.MultipartMaxMemory
	if multipartMemory <= 0 {
		multipartMemory = defaultMultipartMaxMemory
	}
	wsOpts := opts.Websocket
	if wsOpts.Logger == nil {
		wsOpts.Logger = logger
	}

	objects := NewObjectService(chunks, opts.Store, cache, ObjectOptions{
		ChunkSize:      opts.ChunkSize,
		MaxUploadBytes: maxUpload,
		Logger:         logger,
		Metrics:        m,
	})

	return &Server{
		addr:               opts.Addr,
		store:              opts.Store,
		chunkBackend:       backend,
		logger:             logger,
		registry:           registry,
		metrics:            m,
		broker:             b,
		events:             broker.NewWebsocketHandler(b, wsOpts),
		objects:            objects,
		messages:           NewMessageService(opts.Store, opts.Store, b, logger, m),
		retention:          NewRetentionService(opts.Store, opts.Store, objects, logger, m),
		saved:              NewSavedService(opts.Store, opts.Store),
		notify:             NewNotifyService(opts.Store, notifier),
		verifier:           verifier,
		maxUploadBytes:     maxUpload,
		multipartMaxMemory: multipartMemory,
		apiToken:           strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
		adminToken:         strings.TrimSpace(os.Getenv(adminTokenEnvKey)),
		uploadLimiter:      make(chan struct{}, uploadConcurrencyLimit),
		loginLimiter:       newLoginRateLimiter(loginMaxFailures, loginWindow, loginBlockedFor),
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.withAuth(s.routes()))
}

// ListenAndServe serves until ctx is done, then closes the broker so live
// subscribers get a going-away frame, and drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr, "chunk_backend", s.chunkBackend)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.broker.Close()
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	s.broker.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
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
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
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
