package queue

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// bind opens a listening TCP socket at addr with SO_REUSEADDR set, so a
// restarted daemon can rebind immediately instead of waiting out
// TIME_WAIT. It returns the concrete *net.TCPListener so callers can use
// its deadline-based non-blocking Accept.
func bind(addr string) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, errors.New("queue: listener is not a TCP listener")
	}
	return tcpLn, nil
}

// acceptNonBlocking accepts one pending connection without blocking. It
// reports (nil, false, nil) when no connection is currently pending, which
// is the expected common case, not a failure.
func acceptNonBlocking(ln *net.TCPListener) (net.Conn, bool, error) {
	if err := ln.SetDeadline(time.Now()); err != nil {
		return nil, false, err
	}

	conn, err := ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, false, err
		}
		return nil, false, err
	}
	return conn, true, nil
}

// dialOutbound opens an outbound connection to addr. Unlike reads and
// writes on an established session, this is a one-off blocking call made
// at most once per peer per pump — the same shape as the original
// TCPConn::connect, which blocks the calling thread for the handshake's
// SYN round trip.
func dialOutbound(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
