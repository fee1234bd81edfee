//go:build !unix

package udp

import "net"

func dialBroadcast(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}
