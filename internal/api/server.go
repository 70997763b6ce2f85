// Package api exposes a node over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rudransh-shrivastava/nearby/internal/coordinator"
	"github.com/rudransh-shrivastava/nearby/internal/node"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

// Node is the part of node.Node the API serves.
type Node interface {
	DisplayName() string
	Peers() []transport.Peer
	Operations() []operation.View
	Query(id operation.ID) (operation.View, bool)
	Cancel(id operation.ID) bool
	RequestFile(ctx context.Context, fileID string, opts ...node.RequestOption) (operation.ID, error)
	StartListening(ctx context.Context) error
	StopListening()
	Listening() bool
}

var _ Node = (*node.Node)(nil)

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

type Server struct {
	e      *echo.Echo
	node   Node
	logger *slog.Logger
}

func New(n Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("Request failed", append(attrs, "error", v.Error)...)
			} else {
				logger.Debug("Request", attrs...)
			}
			return nil
		},
	}))

	s := &Server{e: e, node: n, logger: logger}
	e.GET("/health", s.health)
	e.GET("/peers", s.peers)
	e.GET("/operations", s.operations)
	e.GET("/operations/:id", s.operation)
	e.DELETE("/operations/:id", s.cancel)
	e.POST("/requests", s.request)
	e.POST("/listener/start", s.startListening)
	e.POST("/listener/stop", s.stopListening)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("API listening", "addr", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type healthResponse struct {
	Name      string `json:"name"`
	Listening bool   `json:"listening"`
	Peers     int    `json:"peers"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Name:      s.node.DisplayName(),
		Listening: s.node.Listening(),
		Peers:     len(s.node.Peers()),
	})
}

type peerResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) peers(c echo.Context) error {
	peers := s.node.Peers()
	resp := make([]peerResponse, 0, len(peers))
	for _, p := range peers {
		resp = append(resp, peerResponse{ID: string(p.ID), Name: p.DisplayName})
	}
	return c.JSON(http.StatusOK, resp)
}

type operationResponse struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	State         string    `json:"state"`
	FileID        string    `json:"file_id"`
	FileName      string    `json:"file_name,omitempty"`
	PeerID        string    `json:"peer_id,omitempty"`
	PeerName      string    `json:"peer_name,omitempty"`
	Progress      float64   `json:"progress"`
	Indeterminate bool      `json:"indeterminate"`
	Running       bool      `json:"running"`
	Error         string    `json:"error,omitempty"`
	URL           string    `json:"url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toResponse(v operation.View) operationResponse {
	resp := operationResponse{
		ID:            string(v.ID),
		Type:          v.Type.String(),
		State:         v.State.String(),
		FileID:        v.FileID,
		FileName:      v.FileName,
		PeerID:        string(v.Peer.ID),
		PeerName:      v.Peer.DisplayName,
		Progress:      v.Progress,
		Indeterminate: v.Indeterminate,
		Running:       v.Running,
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
	if v.Result != nil {
		if v.Result.Err != nil {
			resp.Error = v.Result.Err.Error()
		} else {
			resp.URL = v.Result.Resource.URL()
		}
	}
	return resp
}

func (s *Server) operations(c echo.Context) error {
	views := s.node.Operations()
	resp := make([]operationResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toResponse(v))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) operation(c echo.Context) error {
	v, ok := s.node.Query(operation.ID(c.Param("id")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "operation not found")
	}
	return c.JSON(http.StatusOK, toResponse(v))
}

func (s *Server) cancel(c echo.Context) error {
	id := operation.ID(c.Param("id"))
	if s.node.Cancel(id) {
		return c.NoContent(http.StatusNoContent)
	}
	if _, ok := s.node.Query(id); ok {
		return echo.NewHTTPError(http.StatusConflict, "operation already finished")
	}
	return echo.NewHTTPError(http.StatusNotFound, "operation not found")
}

type fileRequest struct {
	FileID string `json:"file_id" validate:"required,max=1024"`
}

type fileRequestResponse struct {
	ID string `json:"id"`
}

func (s *Server) request(c echo.Context) error {
	var req fileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := s.node.RequestFile(c.Request().Context(), req.FileID)
	switch {
	case errors.Is(err, coordinator.ErrInvalidFileID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, operation.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusAccepted, fileRequestResponse{ID: string(id)})
}

type listenerResponse struct {
	Listening bool `json:"listening"`
}

func (s *Server) startListening(c echo.Context) error {
	if err := s.node.StartListening(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, listenerResponse{Listening: true})
}

func (s *Server) stopListening(c echo.Context) error {
	s.node.StopListening()
	return c.JSON(http.StatusOK, listenerResponse{Listening: false})
}
