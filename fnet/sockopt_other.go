//go:build !linux

package fnet

import "syscall"

// ApplySocketOptions is a no-op outside linux.
func ApplySocketOptions(cfg *ListenConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return nil
	}
}
