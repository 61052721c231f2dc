// Package api exposes the catalog over HTTP with echo.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/jobs"
	"github.com/catvault/catvault/pkg/metrics"
	"github.com/catvault/catvault/pkg/query"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submitter starts ingestion runs.
type Submitter interface {
	Submit(ctx context.Context, source string) (*db.Run, error)
}

// RunReader looks up runs by id.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*db.Run, error)
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// JobAccepted is returned when a run is submitted.
type JobAccepted struct {
	JobID string `json:"jobId"`
}

// JobStatus is the external shape of a run.
type JobStatus struct {
	JobID        string     `json:"jobId"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	RecordsAdded int        `json:"recordsAdded"`
	LabelsAdded  int        `json:"labelsAdded"`
	Skipped      int        `json:"skipped"`
	Violations   int        `json:"violations"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Config wires the server's dependencies.
type Config struct {
	Engine  *query.Engine
	Runs    RunReader
	Jobs    Submitter
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front of catvault.
type Server struct {
	echo    *echo.Echo
	engine  *query.Engine
	runs    RunReader
	jobs    Submitter
	metrics *metrics.Metrics
}

// NewServer builds the echo instance and registers routes.
func NewServer(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		echo:    e,
		engine:  cfg.Engine,
		runs:    cfg.Runs,
		jobs:    cfg.Jobs,
		metrics: cfg.Metrics,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g := e.Group("/api")
	g.GET("/images", s.listImages)
	g.GET("/images/:id", s.getImage)
	g.POST("/images/fetch", s.fetchImages)
	g.GET("/jobs/:id", s.getJob)

	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	slog.Info("http_server_start", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("http_server_shutdown")
	return s.echo.Shutdown(ctx)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http_request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency)
			return nil
		},
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listImages(c echo.Context) error {
	params := query.Params{
		Label:    c.QueryParam("tag"),
		Page:     query.DefaultPage,
		PageSize: query.DefaultPageSize,
	}

	var err error
	if v := c.QueryParam("page"); v != "" {
		if params.Page, err = strconv.Atoi(v); err != nil {
			s.metrics.ObserveQuery("invalid")
			return s.fail(c, errors.InvalidArgument("query records", "page must be an integer, got %q", v))
		}
	}
	if v := c.QueryParam("pageSize"); v != "" {
		if params.PageSize, err = strconv.Atoi(v); err != nil {
			s.metrics.ObserveQuery("invalid")
			return s.fail(c, errors.InvalidArgument("query records", "pageSize must be an integer, got %q", v))
		}
	}

	page, err := s.engine.Query(c.Request().Context(), params)
	if err != nil {
		if errors.KindOf(err) == errors.KindInvalidArgument {
			s.metrics.ObserveQuery("invalid")
		} else {
			s.metrics.ObserveQuery("error")
		}
		return s.fail(c, err)
	}

	s.metrics.ObserveQuery("ok")
	return c.JSON(http.StatusOK, page)
}

func (s *Server) getImage(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return s.fail(c, errors.InvalidArgument("get record", "id must be an integer, got %q", c.Param("id")))
	}

	view, err := s.engine.Get(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) fetchImages(c echo.Context) error {
	run, err := s.jobs.Submit(c.Request().Context(), jobs.SourceHTTP)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, JobAccepted{JobID: run.ID})
}

func (s *Server) getJob(c echo.Context) error {
	id := c.Param("id")
	run, err := s.runs.GetRun(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if run == nil {
		return s.fail(c, errors.NotFound("get job", "job not found: id=%s", id))
	}

	return c.JSON(http.StatusOK, JobStatus{
		JobID:        run.ID,
		Source:       run.Source,
		Status:       run.Status,
		RecordsAdded: run.RecordsAdded,
		LabelsAdded:  run.LabelsAdded,
		Skipped:      run.Skipped,
		Violations:   run.Violations,
		Error:        run.ErrorMessage,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	})
}

// fail maps err to a status code and writes an ErrorResponse.
func (s *Server) fail(c echo.Context, err error) error {
	code := StatusCode(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("http_request_failed", "uri", c.Request().RequestURI, "error", err)
		message = "internal server error"
	}
	return c.JSON(code, ErrorResponse{Status: code, Message: message})
}

// StatusCode maps an error kind to an HTTP status.
func StatusCode(err error) int {
	switch errors.KindOf(err) {
	case errors.KindInvalidArgument:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
