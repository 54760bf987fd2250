package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errSession = errors.New("session broke")

func TestLoopRetriesUntilSuccess(t *testing.T) {
	var calls, reconnects int
	work := func(ctx context.Context, established Established) error {
		calls++
		if calls <= 2 {
			return errSession
		}
		return nil
	}

	res := Loop(context.Background(), Policy{Interval: time.Millisecond, MaxRetries: 2}, work, func() { reconnects++ })
	require.Equal(t, Finished, res.Outcome)
	require.NoError(t, res.Err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, reconnects)
}

func TestLoopZeroBudgetReturnsFirstFailure(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		err     error
		outcome Outcome
	}{
		{"no retries", Policy{Interval: time.Millisecond, MaxRetries: 0}, errSession, Failed},
		{"no interval", Policy{MaxRetries: -1}, errSession, Failed},
		{"did not connect", Policy{MaxRetries: 0, Interval: time.Millisecond}, fmt.Errorf("%w: refused", ErrDidNotConnect), DidNotConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			work := func(ctx context.Context, established Established) error {
				calls++
				return tt.err
			}
			res := Loop(context.Background(), tt.policy, work, func() { t.Fatal("unexpected reconnect") })
			require.Equal(t, tt.outcome, res.Outcome)
			require.ErrorIs(t, res.Err, tt.err)
			require.Equal(t, 1, calls)
		})
	}
}

func TestLoopEstablishedResetsBudget(t *testing.T) {
	calls := 0
	work := func(ctx context.Context, established Established) error {
		calls++
		if calls == 5 {
			return nil
		}
		established()
		return errSession
	}

	res := Loop(context.Background(), Policy{Interval: time.Millisecond, MaxRetries: 1}, work, nil)
	require.Equal(t, Finished, res.Outcome)
	require.Equal(t, 5, calls)
}

func TestLoopDidNotConnectSkipsReconnectNotice(t *testing.T) {
	calls := 0
	work := func(ctx context.Context, established Established) error {
		calls++
		if calls < 3 {
			return ErrDidNotConnect
		}
		return nil
	}

	res := Loop(context.Background(), Policy{Interval: time.Millisecond, MaxRetries: -1}, work, func() { t.Fatal("unexpected reconnect") })
	require.Equal(t, Finished, res.Outcome)
	require.Equal(t, 3, calls)
}

func TestLoopCancelPreemptsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	work := func(ctx context.Context, established Established) error {
		cancel()
		return errSession
	}

	start := time.Now()
	res := Loop(ctx, Policy{Interval: time.Hour, MaxRetries: -1}, work, nil)
	require.Equal(t, Cancelled, res.Outcome)
	require.ErrorIs(t, res.Err, errSession)
	require.Less(t, time.Since(start), time.Minute)
}

type fakeConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func addrs(ports ...uint16) []netip.AddrPort {
	out := make([]netip.AddrPort, len(ports))
	for i, p := range ports {
		out[i] = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), p)
	}
	return out
}

func TestRaceFirstSuccessWins(t *testing.T) {
	fast := &fakeConn{}
	late := &fakeConn{}
	released := make(chan struct{})

	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		switch addr.Port() {
		case 1:
			return nil, errors.New("refused")
		case 2:
			return fast, nil
		default:
			<-released
			return late, nil
		}
	}

	conn, err := Race(context.Background(), addrs(1, 2, 3), time.Second, dial)
	require.NoError(t, err)
	require.Same(t, fast, conn)

	close(released)
	require.Eventually(t, late.closed.Load, time.Second, time.Millisecond)
	require.False(t, fast.closed.Load())
}

func TestRaceAllFail(t *testing.T) {
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		return nil, fmt.Errorf("port %d refused", addr.Port())
	}

	_, err := Race(context.Background(), addrs(1, 2), time.Second, dial)
	require.ErrorIs(t, err, ErrDidNotConnect)
}

func TestRaceTimeout(t *testing.T) {
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := Race(context.Background(), addrs(1), 10*time.Millisecond, dial)
	require.ErrorIs(t, err, ErrDidNotConnect)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRaceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := Race(ctx, addrs(1), time.Minute, dial)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrDidNotConnect)
}

func TestRaceNoAddresses(t *testing.T) {
	_, err := Race(context.Background(), nil, time.Second, nil)
	require.ErrorIs(t, err, ErrNoAddresses)
}

func TestRaceRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	ap := netip.MustParseAddrPort(ln.Addr().String())
	conn, err := Race(context.Background(), []netip.AddrPort{ap}, time.Second, nil)
	require.NoError(t, err)
	conn.Close()
}
