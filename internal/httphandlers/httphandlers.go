// Package httphandlers serves local files to receivers.
package httphandlers

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"go2tv.app/castkit/devices"
)

var (
	ErrNotStarted = errors.New("httphandlers: server is not listening")
	ErrNotRegular = errors.New("httphandlers: not a regular file")
)

// HTTPserver publishes registered files at /<id>/<name>. It implements
// devices.FileHost.
type HTTPserver struct {
	http *http.Server
	mux  *http.ServeMux

	mu    sync.RWMutex
	files map[string]string
	base  string

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

var _ devices.FileHost = (*HTTPserver)(nil)

// NewServer - create a new HTTP server for address a.
func NewServer(a string) *HTTPserver {
	mux := http.NewServeMux()
	srv := &HTTPserver{
		http:  &http.Server{Addr: a, Handler: mux},
		mux:   mux,
		files: make(map[string]string),
	}
	mux.HandleFunc("GET /{id}/{name}", srv.serveFileHandler)
	return srv
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (s *HTTPserver) Log() *zerolog.Logger {
	if s.LogOutput != nil {
		s.initLogOnce.Do(func() {
			s.Logger = zerolog.New(s.LogOutput).With().Timestamp().Logger()
		})
	}
	return &s.Logger
}

// StartServer listens and serves until StopServer. serverStarted receives
// once the listener is up.
func (s *HTTPserver) StartServer(serverStarted chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("server listen error: %w", err)
	}

	s.mu.Lock()
	s.base = "http://" + ln.Addr().String()
	s.mu.Unlock()

	s.Log().Debug().Str("Method", "StartServer").Str("Addr", ln.Addr().String()).Msg("listening")
	serverStarted <- struct{}{}

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve error: %w", err)
	}
	return nil
}

// StopServer closes the listener and every open connection.
func (s *HTTPserver) StopServer() {
	_ = s.http.Close()
}

// Serve registers path and returns the URL it is published at.
func (s *HTTPserver) Serve(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("serve file error: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == "" {
		return "", ErrNotStarted
	}

	id := uuid.NewString()
	s.files[id] = path
	return s.base + "/" + id + "/" + pathSegment(path), nil
}

func (s *HTTPserver) lookup(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.files[id]
	return p, ok
}

func (s *HTTPserver) serveFileHandler(w http.ResponseWriter, req *http.Request) {
	path, ok := s.lookup(req.PathValue("id"))
	if !ok || req.PathValue("name") != filepath.Base(path) {
		http.NotFound(w, req)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.Log().Error().Str("Method", "serveFileHandler").Err(err).Msg("open file")
		http.NotFound(w, req)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		http.NotFound(w, req)
		return
	}

	// Header bytes win over the extension.
	if ct := ContentType(path); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	s.Log().Debug().Str("Method", "serveFileHandler").Str("Path", path).Str("Range", req.Header.Get("Range")).Msg("serving")
	http.ServeContent(w, req, filepath.Base(path), fi.ModTime(), f)
}

// pathSegment escapes the base name of a local path as one URL path segment.
func pathSegment(p string) string {
	return url.PathEscape(filepath.Base(p))
}

// ContentType detects the MIME type of a local file from its header bytes.
// It returns "" when the type is unknown.
func ContentType(path string) string {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
