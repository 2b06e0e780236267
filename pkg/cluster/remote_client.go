package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	gossipPath        = "/api/internal/gossip"
	contentTypeBinary = "application/octet-stream"
	maxReplySize      = 64 << 20
)

// HTTPClient реализует Peer поверх HTTP: POST сообщения на /api/internal/gossip, в ответе
// состояние удалённой ноды
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient создает новый HTTP клиент для удаленной ноды. addr может быть без схемы.
func NewHTTPClient(addr string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(addr, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+gossipPath,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeBinary)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute POST request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("POST failed with status %d: %s", resp.StatusCode, string(body))
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("read gossip reply: %w", err)
	}
	return reply, nil
}
