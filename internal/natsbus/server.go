// Package natsbus embeds a NATS server used to fan agent messages and
// lifecycle events out to processes outside the router.
package natsbus

import (
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/mtzanidakis/vibe/internal/config"
)

type Server struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts an embedded server. Port 0 picks a random port; a negative
// port disables the TCP listener so only in-process clients can connect.
func New(cfg config.NATSConfig) (*Server, error) {
	opts := &natsserver.Options{
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}
	switch {
	case cfg.Port == 0:
		opts.Port = natsserver.RANDOM_PORT
	case cfg.Port < 0:
		opts.Port = natsserver.RANDOM_PORT
		opts.DontListen = true
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
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

	return &Server{server: ns, cfg: cfg}, nil
}

// ClientURL is empty when the server does not listen on TCP.
func (s *Server) ClientURL() string {
	if s.cfg.Port < 0 {
		return ""
	}
	return s.server.ClientURL()
}

func (s *Server) NumClients() int {
	return s.server.NumClients()
}

func (s *Server) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
