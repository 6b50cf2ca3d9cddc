package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pokeproto/pokeproto/internal/db"
	"github.com/pokeproto/pokeproto/internal/session"
	"github.com/pokeproto/pokeproto/internal/util"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// handleStatus returns the battle snapshot, or the spectator view.
func (s *Server) handleStatus(c *gin.Context) {
	if view, ok := s.battle.View(); ok {
		c.JSON(http.StatusOK, gin.H{
			"role":  s.battle.Role(),
			"state": s.battle.State(),
			"view":  view,
		})
		return
	}

	snap, err := s.battle.Snapshot()
	if errors.Is(err, session.ErrNoBattle) {
		c.JSON(http.StatusOK, gin.H{
			"role":       s.battle.Role(),
			"state":      s.battle.State(),
			"session_id": s.battle.SessionID(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":       s.battle.Role(),
		"state":      s.battle.State(),
		"session_id": s.battle.SessionID(),
		"battle":     snap,
	})
}

// handleMoves lists the local combatant's moves.
func (s *Server) handleMoves(c *gin.Context) {
	moves, err := s.battle.Moves()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"moves": moves,
		"total": len(moves),
	})
}

// handleSpectators lists registered spectators.
func (s *Server) handleSpectators(c *gin.Context) {
	spectators := s.battle.Spectators()
	c.JSON(http.StatusOK, gin.H{
		"spectators": spectators,
		"total":      len(spectators),
	})
}

// handleTransportStats returns the reliable transport counters.
func (s *Server) handleTransportStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.battle.TransportStats())
}

// handleSystemUsage returns current CPU and memory usage.
func (s *Server) handleSystemUsage(c *gin.Context) {
	cpu, err := util.GetCPUUsage(200 * time.Millisecond)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": cpu,
		"memory":      mem,
	})
}

// handleListHistory returns recent battles, newest first.
func (s *Server) handleListHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "battle history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	battles, err := s.history.ListBattles(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list battles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"battles": battles,
		"total":   len(battles),
	})
}

// handleGetHistory returns one battle and its turns.
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "battle history is disabled"})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	record, err := s.history.Battle(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "battle not found", "id": id})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("battle", id).Msg("failed to read battle")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}

	turns, err := s.history.Turns(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("battle", id).Msg("failed to read turns")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"battle": record,
		"turns":  turns,
	})
}
