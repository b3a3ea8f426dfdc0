package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "claimrelay/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Host      string
	Port      int
	StaticDir string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) Addr() string {
	port := c.Port
	if port < 0 {
		port = 0
	}
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(port))
}

type Server struct {
	cfg Config
	log logx.Logger
	h   http.Handler

	mu        sync.Mutex
	ln        net.Listener
	srv       *http.Server
	ready     chan struct{}
	readyOnce sync.Once
}

func New(cfg Config, f Funnel, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))
	return &Server{
		cfg:   cfg,
		log:   log,
		h:     NewHandler(f, cfg.StaticDir, log, time.Now),
		ready: make(chan struct{}),
	}
}

// NewHandler builds the routed handler without a listener.
func NewHandler(f Funnel, staticDir string, log logx.Logger, now func() time.Time) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	h := &handlers{f: f, log: log, now: now}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/check-user", h.checkUser)
	mux.HandleFunc("POST /api/submit-claim", h.submitClaim)
	mux.HandleFunc("POST /api/timer-complete", h.timerComplete)
	mux.HandleFunc("GET /api/admin/users", h.adminUsers)
	mux.HandleFunc("GET /api/admin/stats", h.adminStats)
	mux.HandleFunc("POST /api/webhook", h.webhook)
	mux.HandleFunc("GET /health", h.health)
	if dir := strings.TrimSpace(staticDir); dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
	}

	return withRecover(log, withRequestLog(log, mux))
}

func (s *Server) Handler() http.Handler { return s.h }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or "" before Serve has listened.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve listens and serves until ctx is cancelled or Stop is called.
// A listen failure is returned as is; a clean stop returns nil.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:      s.h,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	stop := context.AfterFunc(ctx, func() {
		// Bounded; Stop(ctx) does the graceful part.
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	defer stop()

	s.log.Info("http listening", logx.String("addr", ln.Addr().String()), logx.String("static_dir", s.cfg.StaticDir))
	err = srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	s.log.Info("http stopped")
	return err
}
