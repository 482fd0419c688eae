// Package influxdb writes security telemetry to InfluxDB.
//
// Pairing attempts, revocations and connection counts are written through
// the non-blocking batched API. Every write method is nil-safe so callers
// never guard on whether telemetry is configured; a disabled client
// swallows points silently.
package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/emberhaus/emberlink/internal/infrastructure/config"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// Client wraps the InfluxDB connection and its batched write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger
}

// Connect establishes the InfluxDB connection and verifies it with a ping.
// Returns nil (not an error) when telemetry is disabled.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *logging.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval * 1000))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok, err := client.Ping(pingCtx)
	if err != nil || !ok {
		client.Close()
		return nil, fmt.Errorf("pinging influxdb at %s: %w", cfg.URL, err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	// Surface async write failures in the log rather than dropping them.
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", "error", err)
		}
	}()

	logger.Info("influxdb connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return &Client{client: client, writeAPI: writeAPI, logger: logger}, nil
}

// RecordPairingAttempt writes one PIN verification outcome.
func (c *Client) RecordPairingAttempt(success bool, sourceIP string) {
	if c == nil {
		return
	}
	p := influxdb2.NewPoint("pairing_attempt",
		map[string]string{"success": fmt.Sprintf("%t", success)},
		map[string]any{"source_ip": sourceIP, "count": 1},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}

// RecordRevocation writes one credential revocation.
func (c *Client) RecordRevocation(clientID, reason string) {
	if c == nil {
		return
	}
	p := influxdb2.NewPoint("revocation",
		map[string]string{"client_id": clientID},
		map[string]any{"reason": reason, "count": 1},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}

// RecordConnections writes the current live WebSocket connection count.
func (c *Client) RecordConnections(count int) {
	if c == nil {
		return
	}
	p := influxdb2.NewPoint("ws_connections",
		nil,
		map[string]any{"count": count},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}

// Close flushes pending points and shuts the client down.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.writeAPI.Flush()
	c.client.Close()
}
