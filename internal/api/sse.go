package api

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeSourceHub/internal/event"
)

// SSE 处理 Server-Sent Events 连接
func (h *Handler) SSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// InMemoryBus 是 callback 模式, 这里用一个 channel 做桥接
	clientChan := make(chan event.Event, 16)
	bridgeHandler := func(e event.Event) {
		// 非阻塞发送，避免慢客户端阻塞总线
		select {
		case clientChan <- e:
		default:
		}
	}

	subIDs := make(map[event.EventType]string)
	for _, t := range event.AllTypes {
		subIDs[t] = h.bus.Subscribe(t, bridgeHandler)
	}
	defer func() {
		for t, id := range subIDs {
			h.bus.Unsubscribe(t, id)
		}
		logFor(c).Debug("SSE client disconnected")
	}()

	c.SSEvent("message", "connected")
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-clientChan:
			data, err := json.Marshal(evt.Payload)
			if err != nil {
				logFor(c).Warnf("SSE marshal error: %v", err)
				return true
			}
			// 事件名即为 Topic
			c.SSEvent(string(evt.Type), string(data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
