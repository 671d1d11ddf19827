package proxy

import (
	"net"
	"time"

	"github.com/HunanTV/redis-cerberus/fnet"
)

// ClusterConn dials cluster nodes. No handshake is sent after connect;
// nodes are expected to accept pipelined commands immediately.
type ClusterConn struct {
	connTimeout time.Duration
}

func NewClusterConn(connTimeout time.Duration) *ClusterConn {
	return &ClusterConn{connTimeout: connTimeout}
}

func (cp *ClusterConn) Conn(server string) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout: cp.connTimeout,
		Control: fnet.ApplySocketOptions(&fnet.ListenConfig{
			SocketReusePort: true,
			SocketFastOpen:  true,
		}),
	}
	return dialer.Dial("tcp", server)
}
