// Package portutil provides loopback port selection for the MCP HTTP
// transport.
package portutil

import (
	"fmt"
	"net"
)

// FindAvailablePort returns the first free TCP port on host in the
// inclusive range [start, end]. The listener used for probing is closed
// before returning, so the caller must bind promptly.
func FindAvailablePort(host string, start, end int) (int, error) {
	if start <= 0 || end < start {
		return 0, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	for port := start; port <= end; port++ {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		_ = listener.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no available port in range %d-%d", start, end)
}

// AllocatePort allocates an available port using OS assignment.
func AllocatePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}
