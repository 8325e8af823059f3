// Package pprof runs the optional debug profiling listener.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "scraperd/internal/runtime/supervisor"
	logx "scraperd/pkg/logx"
)

// Config controls the pprof HTTP server.
//
// Security: prefer binding to loopback (the default). A non-loopback bind
// requires Token or an explicit AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start is idempotent; a disabled config is a no-op.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Optional observability; never take the app down with it.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	sup := s.sup
	s.srv = nil
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	_ = sup.Stop(ctx)
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("pprof refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", addr))
		return errors.New("pprof refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer ln.Close()

	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))

	srv := &http.Server{Handler: mux, ReadTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cur.Token != ""))

	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return context.Canceled
	}
	return err
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got == tok {
			h(w, r)
			return
		}
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") &&
			strings.TrimSpace(strings.TrimPrefix(ah, "Bearer ")) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
