package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const redacted = "********"

// handleGetConfig returns the running configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	mqttCfg := s.cfg.GetMQTT()
	if mqttCfg.Password != "" {
		mqttCfg.Password = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"peer":      s.cfg.GetPeer(),
		"transport": s.cfg.GetTransport(),
		"api":       s.cfg.GetAPI(),
		"mqtt":      mqttCfg,
		"history":   s.cfg.GetHistory(),
		"health":    s.cfg.GetHealth(),
	})
}
