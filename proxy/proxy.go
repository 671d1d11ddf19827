package proxy

import (
	"context"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/HunanTV/redis-cerberus/fnet"
)

// Config carries the tunables main hands over.
type Config struct {
	StartupNodes       []Address
	ConnTimeout        time.Duration
	SlotReloadInterval time.Duration
	FetchTimeout       time.Duration
	BackendQueueDepth  int
	SessionQueueDepth  int
}

// Proxy accepts client connections and serves them against the cluster.
type Proxy struct {
	cfg        Config
	dispatcher *Dispatcher
}

func NewProxy(cfg Config) *Proxy {
	pool := NewClusterConn(cfg.ConnTimeout)
	return &Proxy{
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.StartupNodes, cfg.SlotReloadInterval, cfg.FetchTimeout, pool, cfg.BackendQueueDepth),
	}
}

// Init fetches the initial slot map; the proxy refuses to start blind.
func (p *Proxy) Init() error {
	return p.dispatcher.InitSlotTable()
}

// Listen binds the client port with the proxy socket options.
func (p *Proxy) Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: fnet.ApplySocketOptions(&fnet.ListenConfig{
			SocketReusePort:   true,
			SocketFastOpen:    true,
			SocketDeferAccept: true,
		}),
	}
	return lc.Listen(context.Background(), "tcp", addr)
}

// Serve runs the accept loop until the listener closes.
func (p *Proxy) Serve(ln net.Listener) error {
	go p.dispatcher.Run()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		acceptedTotal.Inc()
		clientsGauge.Inc()
		session := NewSession(conn, p.dispatcher, p.cfg.SessionQueueDepth)
		session.Prepare()
		go session.WritingLoop()
		go func() {
			session.ReadingLoop()
			clientsGauge.Dec()
			glog.V(2).Infof("client %s gone", conn.RemoteAddr())
		}()
	}
}

// Dispatcher exposes the routing core, mainly to tests.
func (p *Proxy) Dispatcher() *Dispatcher {
	return p.dispatcher
}
