package connect

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds each dial of a race.
const DefaultTimeout = 5 * time.Second

var (
	ErrDidNotConnect = errors.New("connect: did not connect")
	ErrNoAddresses   = errors.New("connect: no addresses to connect to")
)

// DialFunc opens one connection candidate.
type DialFunc func(ctx context.Context, addr netip.AddrPort) (net.Conn, error)

// DialTCP is the default DialFunc.
func DialTCP(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr.String())
}

type dialResult struct {
	conn net.Conn
	err  error
}

// Race dials every address at once and returns the first connection that
// succeeds. Connections that complete after the winner are closed.
func Race(ctx context.Context, addrs []netip.AddrPort, timeout time.Duration, dial DialFunc) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	if dial == nil {
		dial = DialTCP
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan dialResult, len(addrs))
	for _, addr := range addrs {
		go func(addr netip.AddrPort) {
			dialCtx, cancel := context.WithTimeout(raceCtx, timeout)
			defer cancel()
			conn, err := dial(dialCtx, addr)
			results <- dialResult{conn: conn, err: err}
		}(addr)
	}

	var lastErr error
	for pending := len(addrs); pending > 0; pending-- {
		select {
		case r := <-results:
			if r.err == nil {
				go closeLate(results, pending-1)
				return r.conn, nil
			}
			lastErr = r.err
		case <-ctx.Done():
			go closeLate(results, pending)
			return nil, ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrDidNotConnect, lastErr)
}

func closeLate(results <-chan dialResult, n int) {
	for ; n > 0; n-- {
		if r := <-results; r.conn != nil {
			r.conn.Close()
		}
	}
}
