package probe

import (
	"context"
	"net"
	"strings"

	"controlroom/internal/models"
)

// TCPChecker verifies that a TCP endpoint accepts connections.
type TCPChecker struct {
	dialer *net.Dialer
}

// NewTCPChecker builds a checker.
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{dialer: &net.Dialer{}}
}

// Check implements Checker. Targets without a port are dialed on 53, the
// way resolver reachability is usually checked.
func (c *TCPChecker) Check(ctx context.Context, p models.Probe) Observation {
	address := strings.TrimSpace(p.Target)
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "53")
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return failed(err)
	}
	_ = conn.Close()
	return ok(nil)
}
