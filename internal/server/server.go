// Package server is the preview server: it serves the output directory,
// renders templates that have not been built yet, and pushes reload signals
// to open pages.
package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/pug"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
)

// Server serves one configuration's output directory.
type Server struct {
	cfg       *config.Config
	templates *pug.Renderer
	reload    *ReloadServer

	mu   sync.Mutex
	http *http.Server
}

// New creates a server rendering missing pages with templates.
func New(cfg *config.Config, templates *pug.Renderer) *Server {
	return &Server{
		cfg:       cfg,
		templates: templates,
		reload:    NewReloadServer(),
	}
}

// Handler returns the router of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get(ReloadPath, s.reload.HandleWebSocket)

	files := http.FileServer(http.Dir(s.cfg.Path(s.cfg.Dest)))
	r.With(injectReload, s.compileTemplates).Handle("/*", files)
	return r
}

// Start listens on the configured port and serves in the background until
// ctx is done or Close is called. It returns the listening address.
func (s *Server) Start(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return "", eris.Wrapf(err, "failed to listen on port %d", s.cfg.Port)
	}

	srv := &http.Server{Handler: s.Handler()}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Preview server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	addr := ln.Addr().String()
	log.Infof("Serving %s at http://%s", s.cfg.Dest, addr)
	return addr, nil
}

// Reload signals every open page to reload.
func (s *Server) Reload(_ context.Context) error {
	log.Debugf("Reloading %d clients", s.reload.ClientCount())
	s.reload.NotifyReload()
	return nil
}

// Close stops the server and drops every reload connection.
func (s *Server) Close() error {
	s.reload.Close()

	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// compileTemplates renders a requested page from its template when the page
// has not been built into the output directory.
func (s *Server) compileTemplates(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/") {
			name = path.Join(name, "index.html")
		}
		if path.Ext(name) != ".html" {
			next.ServeHTTP(w, r)
			return
		}

		built := filepath.Join(s.cfg.Path(s.cfg.Dest), filepath.FromSlash(name))
		if _, err := os.Stat(built); err == nil {
			next.ServeHTTP(w, r)
			return
		}

		rel := strings.TrimPrefix(pug.SourceName(name), "/")
		src := filepath.Join(s.cfg.Path(s.cfg.Templates.Base), filepath.FromSlash(rel))
		data, err := os.ReadFile(src)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		out, err := s.templates.Render(rel, data)
		if err != nil {
			log.WithField("file", rel).Error(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(out)
	})
}

// bufferedWriter holds a response back so it can be rewritten.
type bufferedWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(status int) {
	b.status = status
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

// injectReload adds the reload client to every HTML response.
func injectReload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		bw := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(bw, r)

		body := bw.buf.Bytes()
		if strings.Contains(w.Header().Get("Content-Type"), "text/html") && bw.status == http.StatusOK {
			body = Inject(body)
			w.Header().Del("Last-Modified")
		}

		if bw.status != http.StatusNotModified && bw.status != http.StatusNoContent {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
		w.WriteHeader(bw.status)
		w.Write(body)
	})
}

// Inject inserts the reload client before the closing body tag, or the
// closing html tag, or at the end of the page.
func Inject(page []byte) []byte {
	s := string(page)
	if idx := strings.LastIndex(s, "</body>"); idx != -1 {
		return []byte(s[:idx] + ClientScript + s[idx:])
	}
	if idx := strings.LastIndex(s, "</html>"); idx != -1 {
		return []byte(s[:idx] + ClientScript + s[idx:])
	}
	return []byte(s + ClientScript)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"method": r.Method,
			"status": ww.Status(),
			"bytes":  ww.BytesWritten(),
		}).Debugf("%s in %s", r.URL.Path, time.Since(start).Round(time.Microsecond))
	})
}
