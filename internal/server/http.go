package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	mcpsrv "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/epics-mcp-bridge/internal/config"
	"github.com/morezero/epics-mcp-bridge/pkg/db"
	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
)

// Router builds the HTTP surface. sse is nil when MCP runs on another transport.
func (s *Server) Router(sse *mcpsrv.SSEServer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	if sse != nil {
		r.GET(s.cfg.SSEPath, gin.WrapH(sse.SSEHandler()))
		r.POST(s.cfg.MessagePath, gin.WrapH(sse.MessageHandler()))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pages := newPages()
	r.GET("/", s.handleHome(pages))
	r.GET("/tools/:name", s.handleToolDetail(pages))
	r.GET("/tools/:name/openapi.json", s.handleToolOpenAPI)
	r.GET("/tools/:name/docs", s.handleToolDocs(pages))

	r.GET("/invocations", s.handleListInvocations)
	r.GET("/invocations/:id", s.handleGetInvocation)
	return r
}

func (s *Server) healthContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.HealthCheckTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.cfg.HealthCheckTimeout)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := s.healthContext(c.Request.Context())
	defer cancel()

	h := s.disp.Health(ctx)
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "transport": s.cfg.Transport})
}

// findTool returns the listing entry for name.
func (s *Server) findTool(name string) (dispatcher.ToolDescription, bool) {
	for _, td := range s.disp.ListOperations() {
		if td.Name == name {
			return td, true
		}
	}
	return dispatcher.ToolDescription{}, false
}

func (s *Server) handleHome(p *pages) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.healthContext(c.Request.Context())
		defer cancel()

		data := homeData{
			Name:      s.cfg.ServerName,
			Transport: s.cfg.Transport,
			Health:    s.disp.Health(ctx),
			Tools:     s.disp.ListOperations(),
			Journal:   s.store != nil,
		}
		if s.cfg.Transport == config.TransportSSE {
			data.SSEEndpoint = s.cfg.BaseURL() + s.cfg.SSEPath
		}
		if s.nc != nil {
			data.Subject = s.ToolSubject()
		}
		p.render(c, http.StatusOK, p.home, data)
	}
}

func (s *Server) handleToolDetail(p *pages) gin.HandlerFunc {
	return func(c *gin.Context) {
		td, ok := s.findTool(c.Param("name"))
		if !ok {
			c.String(http.StatusNotFound, "404 page not found")
			return
		}
		p.render(c, http.StatusOK, p.tool, toolData{Tool: td, Params: paramRows(td)})
	}
}

func (s *Server) handleToolOpenAPI(c *gin.Context) {
	td, ok := s.findTool(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Unknown tool: %s", c.Param("name"))})
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.JSON(http.StatusOK, buildOpenAPISpec(td, s.cfg.Version))
}

func (s *Server) handleToolDocs(p *pages) gin.HandlerFunc {
	return func(c *gin.Context) {
		td, ok := s.findTool(c.Param("name"))
		if !ok {
			c.String(http.StatusNotFound, "404 page not found")
			return
		}
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		specURL := scheme + "://" + c.Request.Host + "/tools/" + td.Name + "/openapi.json"
		p.render(c, http.StatusOK, p.swagger, map[string]string{"Name": td.Name, "SpecURL": specURL})
	}
}

func (s *Server) handleListInvocations(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit journal is disabled"})
		return
	}
	params := db.ListInvocationsParams{
		Tool:          c.Query("tool"),
		PVName:        c.Query("pv"),
		Outcome:       c.Query("outcome"),
		CorrelationID: c.Query("correlation"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		params.Limit = limit
	}

	rows, err := s.store.ListInvocations(c.Request.Context(), params)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - list invocations: %v", logPrefix, err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []db.Invocation{}
	}
	c.JSON(http.StatusOK, gin.H{"invocations": rows, "count": len(rows)})
}

func (s *Server) handleGetInvocation(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit journal is disabled"})
		return
	}
	inv, err := s.store.GetInvocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - get invocation: %v", logPrefix, err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invocation not found"})
		return
	}
	c.JSON(http.StatusOK, inv)
}

// render executes tmpl into the response.
func (p *pages) render(c *gin.Context, status int, tmpl *template.Template, data any) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(c.Writer, data); err != nil {
		slog.Error(fmt.Sprintf("%s - %s template execute: %v", logPrefix, tmpl.Name(), err))
	}
}
