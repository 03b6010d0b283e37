package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const (
	PriorityUrgent  = "urgent"
	PriorityHigh    = "high"
	PriorityDefault = "default"
	PriorityLow     = "low"
)

// Notifier delivers operator notifications.
type Notifier interface {
	Send(ctx context.Context, title, message, priority string) error
}

// NtfyClient is a client for sending notifications to an ntfy server.
type NtfyClient struct {
	serverURL  string
	topic      string
	httpClient *http.Client
}

// NewNtfyClient creates a new NtfyClient.
func NewNtfyClient(serverURL, topic string) *NtfyClient {
	return &NtfyClient{
		serverURL:  serverURL,
		topic:      topic,
		httpClient: http.DefaultClient,
	}
}

// Send sends a notification with a given priority.
func (c *NtfyClient) Send(ctx context.Context, title, message, priority string) error {
	url := fmt.Sprintf("%s/%s", c.serverURL, c.topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", title)
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ntfy request failed: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
