package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/session"
)

type moveRequest struct {
	Move string `json:"move" binding:"required"`
}

type chatRequest struct {
	Text string `json:"text" binding:"required"`
}

// statusFor maps battle and session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, battle.ErrInvalidMove):
		return http.StatusBadRequest
	case errors.Is(err, battle.ErrNotYourTurn),
		errors.Is(err, battle.ErrTurnInProgress),
		errors.Is(err, battle.ErrGameOver),
		errors.Is(err, session.ErrNoBattle),
		errors.Is(err, session.ErrNoPeer):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// handleSubmitMove announces a move on the local peer's turn.
func (s *Server) handleSubmitMove(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.battle.SubmitMove(c.Request.Context(), req.Move); err != nil {
		s.logger.Warn().Err(err).Str("move", req.Move).Msg("API: move rejected")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "move": req.Move})
		return
	}

	s.logger.Info().Str("move", req.Move).Msg("API: move submitted")
	c.JSON(http.StatusAccepted, gin.H{
		"status": "announced",
		"move":   req.Move,
	})
}

// handleChat sends a chat line to the other side.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.battle.Say(c.Request.Context(), req.Text); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}
