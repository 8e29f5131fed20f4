package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/swarm"
)

// GetTopic reports how many peers are on a topic. The Redis presence set is
// preferred since it spans relay instances.
func (h *Hub) GetTopic(c *gin.Context) {
	topic, err := swarm.ParseTopic(c.Param("topic"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := models.TopicInfo{Topic: topic.String(), PeerCount: h.PeerCount(topic.String())}

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		count, err := h.presence.PeerCount(ctx, topic.String())
		if err != nil {
			h.logger.Warn("Failed to read presence", zap.Error(err))
		} else if count > info.PeerCount {
			info.PeerCount = count
		}
	}

	c.JSON(http.StatusOK, info)
}
