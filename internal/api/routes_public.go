package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pokeproto/pokeproto/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pokeproto",
		"version": s.version,
	})
}

// handleInfo returns host and peer information.
func (s *Server) handleInfo(c *gin.Context) {
	peer := s.cfg.GetPeer()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":         s.version,
		"role":            s.battle.Role(),
		"trainer":         peer.Trainer,
		"session_id":      s.battle.SessionID(),
		"state":           s.battle.State(),
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
		"local_ip":        sysInfo.LocalIP,
		"uptime_sec":      sysInfo.UptimeSec,
	})
}
