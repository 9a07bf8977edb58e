// Package natsbus publishes orchestration records on NATS.
//
// A Bus runs an embedded NATS server for single-binary deployments; a Client
// connects to it (or to an external server) and implements core.Recorder by
// publishing every record as a JSON event on a per-kind subject.
package natsbus

import (
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// BusOptions configure the embedded server.
type BusOptions struct {
	// Host to listen on (empty means all interfaces).
	Host string
	// Port to listen on; natsserver.RANDOM_PORT picks a free port.
	Port int
	// DataDir enables JetStream storage when set.
	DataDir string
}

// Bus is an embedded NATS server.
type Bus struct {
	server *natsserver.Server
}

// NewBus starts an embedded NATS server and waits until it accepts clients.
func NewBus(cfg BusOptions) (*Bus, error) {
	opts := &natsserver.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
		opts.JetStream = true
		opts.StoreDir = cfg.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns}, nil
}

// ClientURL returns the URL clients use to connect.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close shuts the server down and waits for it to exit.
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
