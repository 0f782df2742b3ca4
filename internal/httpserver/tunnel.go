package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/tunnelscope/internal/model"
	"github.com/tinytelemetry/tunnelscope/internal/tunnel"
)

type startRequest struct {
	Provider       string `json:"provider"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type tunnelResponse struct {
	model.TunnelStatus
	Process *ProcessStats `json:"process,omitempty"`
}

func (s *Server) tunnelOrAbort(c *gin.Context) bool {
	if s.deps.Tunnel == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tunnel control is disabled"})
		return false
	}
	return true
}

func (s *Server) tunnelStatus() tunnelResponse {
	resp := tunnelResponse{TunnelStatus: s.deps.Tunnel.Status()}
	if resp.Running && resp.PID > 0 {
		if ps, err := processStats(resp.PID); err == nil {
			resp.Process = ps
		}
	}
	return resp
}

func (s *Server) handleTunnelStatus(c *gin.Context) {
	if !s.tunnelOrAbort(c) {
		return
	}
	c.JSON(http.StatusOK, s.tunnelStatus())
}

func (s *Server) handleTunnelStart(c *gin.Context) {
	if !s.tunnelOrAbort(c) {
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = s.deps.DefaultTimeoutSeconds
	}

	cfg := model.TunnelConfig{
		Provider:       model.ParseProvider(req.Provider),
		TimeoutSeconds: req.TimeoutSeconds,
	}
	err := s.deps.Tunnel.Start(s.ctx, cfg)
	switch {
	case errors.Is(err, tunnel.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tunnel.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, s.tunnelStatus())
	}
}

func (s *Server) handleTunnelStop(c *gin.Context) {
	if !s.tunnelOrAbort(c) {
		return
	}
	s.deps.Tunnel.Stop()
	c.JSON(http.StatusOK, s.tunnelStatus())
}
