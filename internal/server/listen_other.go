//go:build unix && !linux

package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen binds 0.0.0.0:port with SO_REUSEADDR. The backlog is left to the
// platform default on this OS.
func Listen(port, _ int) (net.Listener, error) {
	listenConfig := new(net.ListenConfig)
	listenConfig.Control = func(network, address string, rawConn syscall.RawConn) (err error) {
		ctrlErr := rawConn.Control(func(fd uintptr) {
			err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if ctrlErr != nil {
			return ctrlErr
		}
		return err
	}

	ln, err := listenConfig.Listen(context.Background(), "tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}

	return ln, nil
}
