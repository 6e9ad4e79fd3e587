// Command healthcheck probes the mlbridge health endpoint from inside the
// container. It exits non-zero when the bridge is unreachable or degraded.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr := normalizeAddr(os.Getenv("MLBRIDGE_LISTEN_ADDR"))
	if err := check(ctx, &http.Client{Timeout: 2 * time.Second}, "http://"+addr); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		os.Exit(1)
	}
}

// check fetches the health summary below baseURL and fails unless the
// bridge reports itself healthy.
func check(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status      string `json:"status"`
		Quarantined int    `json:"quarantined"`
		QueueDepth  int    `json:"queue_depth"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return fmt.Errorf("HTTP %d: decoding health response: %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: status %q, %d quarantined, queue depth %d",
			resp.StatusCode, body.Status, body.Quarantined, body.QueueDepth)
	}
	return nil
}

// normalizeAddr maps a bind-all listen address to loopback, since the probe
// runs inside the same container.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}

	return net.JoinHostPort(host, port)
}
