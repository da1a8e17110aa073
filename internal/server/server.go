// Package server exposes loaded networks over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/born-ml/dlnet/internal/envconfig"
	"github.com/born-ml/dlnet/internal/logutil"
	"github.com/born-ml/dlnet/internal/network"
	"github.com/born-ml/dlnet/internal/version"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrModelExists   = errors.New("model name already in use")
)

// model is one loaded network. mu serializes every call on net, which is
// single-caller.
type model struct {
	mu   sync.Mutex
	name string
	path string
	net  *network.Facade
}

// Server holds the loaded networks keyed by name.
type Server struct {
	addr     net.Addr
	reader   *network.Reader
	maxBatch int

	mu     sync.Mutex
	models map[string]*model
}

// New creates a server loading models through reader. A nil reader uses
// the default generations.
func New(reader *network.Reader) *Server {
	if reader == nil {
		reader = network.NewReader(nil)
	}
	return &Server{
		reader:   reader,
		maxBatch: int(envconfig.MaxBatchSize()),
		models:   make(map[string]*model),
	}
}

// Load opens path and registers it as name.
func (s *Server) Load(name, path string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid model name %q", name)
	}

	s.mu.Lock()
	_, taken := s.models[name]
	s.mu.Unlock()
	if taken {
		return fmt.Errorf("%w: %s", ErrModelExists, name)
	}

	f, err := s.reader.Open(path, network.WithMaxBatchSize(s.maxBatch))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.models[name]; taken {
		f.Close()
		return fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	s.models[name] = &model{name: name, path: path, net: f}
	slog.Info("model loaded", "name", name, "path", path)
	return nil
}

func (s *Server) lookup(name string) (*model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return m, nil
}

// Unload closes and forgets the model called name.
func (s *Server) Unload(name string) error {
	s.mu.Lock()
	m, ok := s.models[name]
	delete(s.models, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// forget drops m from the loaded models unless its name has since been
// taken by another model.
func (s *Server) forget(m *model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.models[m.name] == m {
		delete(s.models, m.name)
	}
}

// names returns the loaded model names, sorted.
func (s *Server) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close unloads every model.
func (s *Server) Close() error {
	var errs []error
	for _, name := range s.names() {
		if err := s.Unload(name); err != nil && !errors.Is(err, ErrModelNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Preload loads every export directly under dir, at most concurrency at a
// time. A model is named after its directory, or its file without the
// .onnx extension.
func (s *Server) Preload(ctx context.Context, dir string, concurrency int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(int64(max(concurrency, 1)))
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !e.IsDir() {
			if !strings.EqualFold(filepath.Ext(name), ".onnx") {
				continue
			}
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		path := filepath.Join(dir, e.Name())

		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			if err := s.Load(name, path); err != nil {
				return fmt.Errorf("preload %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Serve runs the HTTP server on ln until SIGINT or SIGTERM.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	s := New(nil)
	s.addr = ln.Addr()
	if dir := envconfig.Models(); dir != "" {
		if err := s.Preload(context.Background(), dir, int(envconfig.LoadConcurrency())); err != nil {
			s.Close()
			return err
		}
	}

	srvr := &http.Server{Handler: s.GenerateRoutes()}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	err := srvr.Serve(ln)
	if cerr := s.Close(); cerr != nil {
		slog.Warn("failed to release models", "error", cerr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
