package server

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/ascensum/genimagefactory/internal/eventbus"
)

// events streams job and retry progress as server-sent events. Each
// connection gets its own subscriber, keyed on the remote address, so a
// dropped client never leaks a stuck subscription on the bus.
func (h *handlers) events(c *gin.Context) {
	ctx := c.Request.Context()

	stream := h.adapter.Subscribe(ctx, h.bus, c.ClientIP(),
		eventbus.TopicJobProgress,
		eventbus.TopicJobLog,
		eventbus.TopicJobStatus,
		eventbus.TopicImageSettled,
		eventbus.TopicRetryQueueUpdated,
		eventbus.TopicRetryProgress,
		eventbus.TopicRetryJobStatus,
		eventbus.TopicRetryJobError,
		eventbus.TopicRetryStopped,
	)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-stream:
			if !ok {
				return false
			}
			payload, err := json.Marshal(evt.Data)
			if err != nil {
				h.logger.Warn("sse: dropping unmarshalable event", "topic", evt.Topic, "error", err)
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, payload)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
