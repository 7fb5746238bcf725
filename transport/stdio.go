package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pithecene-io/nvplug/log"
)

// NewStdio creates a transport over the process's own stdin and stdout,
// for plugins launched by the editor with rpc channels on stdio.
func NewStdio(logger *log.Logger) *Stream {
	return NewStream(os.Stdin, os.Stdout, logger, os.Stdin)
}

// SocketNetwork picks the network for an editor listen address:
// "tcp" for host:port addresses, "unix" for filesystem paths.
func SocketNetwork(address string) string {
	if strings.HasPrefix(address, "/") || strings.HasPrefix(address, ".") || !strings.Contains(address, ":") {
		return "unix"
	}
	return "tcp"
}

// DialSocket connects to an editor listening on address
// (see :help serverstart()).
func DialSocket(ctx context.Context, address string, logger *log.Logger) (*Stream, error) {
	if address == "" {
		return nil, fmt.Errorf("socket address is required")
	}
	network := SocketNetwork(address)

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", network, address, err)
	}
	if logger != nil {
		logger.Info("connected to editor socket", map[string]any{
			"network": network,
			"address": address,
		})
	}
	return NewStream(conn, conn, logger, conn), nil
}
