// Package iptools picks the local address a receiver can reach us on.
package iptools

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// FirstPort is where the port search starts.
const FirstPort = 3500

const maxPortChecks = 1000

var ErrNoFreePort = errors.New("iptools: no free port")

// ListenAddrFor returns a host:port on the interface that routes to remote,
// with a port free for listening.
func ListenAddrFor(remote netip.Addr) (string, error) {
	local, err := LocalAddrFor(remote)
	if err != nil {
		return "", err
	}

	port, err := checkAndPickPort(local.String(), FirstPort)
	if err != nil {
		return "", fmt.Errorf("ListenAddrFor port error: %w", err)
	}
	return net.JoinHostPort(local.String(), strconv.Itoa(port)), nil
}

// LocalAddrFor returns the local address the kernel would use to reach
// remote. No packet is sent.
func LocalAddrFor(remote netip.Addr) (netip.Addr, error) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(remote, 9)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("LocalAddrFor UDP call error: %w", err)
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr().Unmap(), nil
}

func checkAndPickPort(ip string, port int) (int, error) {
	for range maxPortChecks {
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err == nil {
			ln.Close()
			return port, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return 0, fmt.Errorf("port pick error: %w", err)
		}
		port++
	}
	return 0, fmt.Errorf("%w: checked %d ports from %d", ErrNoFreePort, maxPortChecks, port-maxPortChecks)
}
