// Package bus maintains the durable push-event connection for an
// organization and fans decoded events out to typed handlers.
package bus

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

// Config holds event bus connection configuration.
type Config struct {
	URL              string
	CAFile           string
	CertFile         string
	KeyFile          string
	Token            string
	ReconnectMaxWait time.Duration
}

// Client wraps the NATS connection that carries org event streams.
type Client struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Connect establishes the transport connection. Reconnection is handled
// internally with exponential backoff capped at ReconnectMaxWait; a drop
// is never surfaced to subscribers as a semantic event.
func Connect(cfg Config, log *logger.Logger) (*Client, error) {
	maxWait := cfg.ReconnectMaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			d := time.Second
			for i := 0; i < attempts && d < maxWait; i++ {
				d *= 2
			}
			if d > maxWait {
				d = maxWait
			}
			return d
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("event bus disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.BusReconnects.Inc()
			log.Info("event bus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("event bus error", zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event bus: %w", err)
	}

	return &Client{conn: nc, logger: log}, nil
}

// Conn returns the underlying NATS connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// IsConnected reports whether the transport is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the transport connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
