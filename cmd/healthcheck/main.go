// Command healthcheck exits 0 when a local mytotp daemon answers with a
// running device loop. It resolves the listen address the same way the
// daemon does, so container probes need no extra flags.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	httphandler "github.com/ericfisherdev/mytotp/internal/adapter/driving/http"
	"github.com/ericfisherdev/mytotp/internal/config"
)

const requestTimeout = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}

	client := &http.Client{Timeout: requestTimeout}
	if err := check(context.Background(), client, "http://"+loopbackAddr(cfg.ListenAddr)); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	return 0
}

// check queries the status endpoint. The daemon answers it with 503 once the
// device loop has stopped, even while HTTP is still being served.
func check(ctx context.Context, client *http.Client, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/status", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status httphandler.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	return nil
}

// loopbackAddr rewrites a bind-all listen address to loopback. The check runs
// next to the daemon, so loopback is always reachable.
func loopbackAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}

	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
