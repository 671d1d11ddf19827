//go:build linux

package fnet

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ApplySocketOptions returns a Control function for net.Dialer or
// net.ListenConfig applying the requested options.
func ApplySocketOptions(cfg *ListenConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			if cfg.SocketReusePort {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					optErr = err
					return
				}
			}
			if cfg.SocketFastOpen {
				if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 1); err != nil {
					optErr = err
					return
				}
			}
			if cfg.SocketDeferAccept {
				if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1); err != nil {
					optErr = err
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return optErr
	}
}
