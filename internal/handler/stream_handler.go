package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/internal/service"
	"github.com/al-shafii/registry-api/pkg/response"
)

const streamHeartbeat = 25 * time.Second

// StreamHandler exposes the live directory feed over server-sent events.
type StreamHandler struct {
	directory *service.DirectoryService
	metrics   *service.MetricsService
}

// NewStreamHandler constructs StreamHandler.
func NewStreamHandler(directory *service.DirectoryService, metrics *service.MetricsService) *StreamHandler {
	return &StreamHandler{directory: directory, metrics: metrics}
}

// Stream godoc
// @Summary Subscribe to live directory snapshots
// @Tags Students
// @Produce text/event-stream
// @Success 200
// @Router /students/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	ownerID := ownerFromContext(c)

	// Buffered bridge between the synchronous fan-out and this
	// connection. A slow client only ever misses intermediate
	// snapshots; the latest one always gets through.
	snapshots := make(chan []models.Student, 1)
	push := func(students []models.Student) {
		for {
			select {
			case snapshots <- students:
				return
			default:
				select {
				case <-snapshots:
				default:
				}
			}
		}
	}

	unsubscribe, err := h.directory.Subscribe(c.Request.Context(), ownerID, push)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer unsubscribe()

	h.metrics.SubscriberConnected(1)
	defer h.metrics.SubscriberConnected(-1)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case students := <-snapshots:
			c.SSEvent("snapshot", students)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
