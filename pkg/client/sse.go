package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/pkg/events"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 30 * time.Second
)

// relayEvents keeps one SSE connection open for the lifetime of the client,
// reconnecting with exponential backoff, and republishes every received
// event to local subscribers.
func (c *Client) relayEvents() {
	defer c.wg.Done()

	delay := reconnectMin
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		err := c.streamEvents()
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("event stream lost, reconnecting",
			zap.Error(err), zap.Duration("delay", delay))

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

func (c *Client) streamEvents() error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	resp, err := c.sseClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.log.Info("event stream connected", zap.String("url", c.baseURL))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data string
	for scanner.Scan() {
		if c.ctx.Err() != nil {
			return context.Canceled
		}
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				c.publishFrame(data)
				data = ""
			}
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}

// publishFrame relays one event verbatim; frames that do not decode to a
// valid event are dropped with a warning rather than poisoning the stream.
func (c *Client) publishFrame(data string) {
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		c.log.Warn("dropping malformed event frame", zap.Error(err))
		return
	}
	if err := events.Validate(ev); err != nil {
		c.log.Warn("dropping invalid event frame", zap.Error(err))
		return
	}
	c.bus.Publish(ev)
}
