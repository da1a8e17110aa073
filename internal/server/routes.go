package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/born-ml/dlnet/internal/buffer"
	"github.com/born-ml/dlnet/internal/envconfig"
	"github.com/born-ml/dlnet/internal/network"
	"github.com/born-ml/dlnet/internal/orderedmap"
	"github.com/born-ml/dlnet/internal/savedmodel"
	"github.com/born-ml/dlnet/internal/version"
)

// LoadRequest registers the export at Path as Name.
type LoadRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ModelResponse describes one loaded model.
type ModelResponse struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Generation string `json:"generation"`
	State      string `json:"state"`
}

// ListResponse is the body of GET /api/models.
type ListResponse struct {
	Models []ModelResponse `json:"models"`
}

// ExecuteRequest runs one batch. Inputs are keyed by input identifier;
// Outputs lists the output or hidden identifiers to return, all declared
// outputs when empty.
type ExecuteRequest struct {
	Inputs    map[string]buffer.Wire `json:"inputs"`
	BatchSize int                    `json:"batch_size"`
	Outputs   []string               `json:"outputs,omitempty"`
}

// ExecuteResponse holds the results in requested order.
type ExecuteResponse struct {
	Outputs *orderedmap.Map[string, buffer.Buffer] `json:"outputs"`
}

// SaveRequest writes a model to Path. The model keeps serving from the
// new export.
type SaveRequest struct {
	Path string `json:"path"`
}

// allowedHostsMiddleware rejects requests whose Host is not local when the
// server listens on a loopback address.
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}
		if ap, err := netip.ParseAddrPort(addr.String()); err == nil && !ap.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}
		if host == "" || host == "localhost" {
			c.Next()
			return
		}
		if ip, err := netip.ParseAddr(host); err == nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified()) {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusForbidden)
	}
}

// GenerateRoutes builds the HTTP handler.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With"}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "dlnet is running") })
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "dlnet is running") })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.GET("/api/models", s.ListHandler)
	r.POST("/api/models", s.LoadHandler)
	r.GET("/api/models/:name/spec", s.SpecHandler)
	r.POST("/api/models/:name/execute", s.ExecuteHandler)
	r.POST("/api/models/:name/save", s.SaveHandler)
	r.DELETE("/api/models/:name", s.DeleteHandler)
	return r
}

// status maps an error to the HTTP status reported for it.
func status(err error) int {
	var (
		ve *network.ValidationError
		fe *network.FormatError
		ue *network.UnsupportedTypeError
		ce *network.ConsistencyError
	)
	switch {
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrModelExists), errors.Is(err, savedmodel.ErrExists):
		return http.StatusConflict
	case errors.Is(err, network.ErrReleased):
		return http.StatusGone
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &fe), errors.As(err, &ue), errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	code := status(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func describe(m *model) ModelResponse {
	return ModelResponse{
		Name:       m.name,
		Path:       m.path,
		Generation: m.net.Handle().Generation(),
		State:      m.net.State().String(),
	}
}

func (s *Server) ListHandler(c *gin.Context) {
	resp := ListResponse{Models: []ModelResponse{}}
	for _, name := range s.names() {
		m, err := s.lookup(name)
		if err != nil {
			continue
		}
		m.mu.Lock()
		resp.Models = append(resp.Models, describe(m))
		m.mu.Unlock()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) LoadHandler(c *gin.Context) {
	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" || req.Path == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name and path are required"})
		return
	}
	if err := s.Load(req.Name, req.Path); err != nil {
		abort(c, err)
		return
	}

	m, err := s.lookup(req.Name)
	if err != nil {
		abort(c, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.JSON(http.StatusCreated, describe(m))
}

func (s *Server) SpecHandler(c *gin.Context) {
	m, err := s.lookup(c.Param("name"))
	if err != nil {
		abort(c, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	spec, err := m.net.Spec()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

func (s *Server) ExecuteHandler(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make(map[string]buffer.Buffer, len(req.Inputs))
	for id, w := range req.Inputs {
		b, err := w.Buffer()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("input %s: %v", id, err)})
			return
		}
		inputs[id] = b
	}

	m, err := s.lookup(c.Param("name"))
	if err != nil {
		abort(c, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := m.net.Execute(inputs, req.BatchSize, req.Outputs)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, ExecuteResponse{Outputs: out})
}

func (s *Server) SaveHandler(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	m, err := s.lookup(c.Param("name"))
	if err != nil {
		abort(c, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.net.Save(req.Path); err != nil {
		abort(c, err)
		return
	}

	// saving releases the network; keep serving from the new export
	f, err := s.reader.Open(req.Path, network.WithMaxBatchSize(s.maxBatch))
	if err != nil {
		s.forget(m)
		abort(c, err)
		return
	}
	m.net, m.path = f, req.Path
	c.JSON(http.StatusOK, describe(m))
}

func (s *Server) DeleteHandler(c *gin.Context) {
	if err := s.Unload(c.Param("name")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}
