package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quizwire/internal/auth"
	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/store"
)

// APIHandlers serves the host control API.
type APIHandlers struct {
	host        Host
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(host Host, authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		host:        host,
		authService: authService,
		log:         logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// KickRequest names the peer to remove.
type KickRequest struct {
	Name      string `json:"name" binding:"required"`
	Permanent bool   `json:"permanent"`
}

// KickResponse carries the ban id; empty when the peer was disconnected
// without a ban.
type KickResponse struct {
	BanID string `json:"ban_id"`
}

// Login exchanges the admin password for a token.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrAdminDisabled):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin login disabled"})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.log.Warn().Str("remote", c.ClientIP()).Msg("failed admin login")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("remote", c.ClientIP()).Msg("admin logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Connections lists connected peers.
// GET /api/connections
func (h *APIHandlers) Connections(c *gin.Context) {
	conns := h.host.Connections()
	if conns == nil {
		conns = []core.ConnectionInfo{}
	}
	c.JSON(http.StatusOK, conns)
}

// Bans lists the ban table.
// GET /api/bans
func (h *APIHandlers) Bans(c *gin.Context) {
	bans := h.host.Bans()
	if bans == nil {
		bans = []store.Ban{}
	}
	c.JSON(http.StatusOK, bans)
}

// Kick removes a peer by user name and bans its address.
// POST /api/kick
func (h *APIHandlers) Kick(c *gin.Context) {
	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	found := false
	for _, info := range h.host.Connections() {
		if info.UserName == req.Name {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no such peer"})
		return
	}

	banID := h.host.Kick(req.Name, req.Permanent)
	h.log.Info().Str("user", req.Name).Str("ban_id", banID).Msg("kick via control API")
	c.JSON(http.StatusOK, KickResponse{BanID: banID})
}

// Unban lifts a ban by id.
// DELETE /api/bans/:id
func (h *APIHandlers) Unban(c *gin.Context) {
	if !h.host.Unban(c.Param("id")) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no such ban"})
		return
	}
	c.Status(http.StatusNoContent)
}
