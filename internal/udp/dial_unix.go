//go:build unix

package udp

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// dialBroadcast dials raddr with SO_BROADCAST set, so a subnet broadcast
// destination does not fail with EACCES.
func dialBroadcast(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	d := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	if laddr != nil {
		d.LocalAddr = laddr
	}
	return d.DialContext(context.Background(), network, raddr.String())
}
