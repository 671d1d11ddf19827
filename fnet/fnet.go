package fnet

// ListenConfig selects kernel socket options for proxy sockets.
type ListenConfig struct {
	SocketReusePort   bool
	SocketFastOpen    bool
	SocketDeferAccept bool
}
