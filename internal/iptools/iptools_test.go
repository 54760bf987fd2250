package iptools

import (
	"net"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenAddrFor(t *testing.T) {
	addr, err := ListenAddrFor(netip.MustParseAddr("127.0.0.1"))
	require.NoError(t, err)

	ap, err := netip.ParseAddrPort(addr)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("127.0.0.1"), ap.Addr())
	require.GreaterOrEqual(t, int(ap.Port()), FirstPort)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln.Close()
}

func TestCheckAndPickPortSkipsBusyPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	busy := ln.Addr().(*net.TCPAddr).Port
	port, err := checkAndPickPort("127.0.0.1", busy)
	require.NoError(t, err)
	require.Greater(t, port, busy)

	_, err = net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(busy)))
	require.Error(t, err)
}

func TestCheckAndPickPortBadAddress(t *testing.T) {
	_, err := checkAndPickPort("192.0.2.55", FirstPort)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoFreePort)
}
