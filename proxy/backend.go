package proxy

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/HunanTV/redis-cerberus/proto"
)

var (
	movedPrefix  = []byte("-MOVED ")
	askPrefix    = []byte("-ASK ")
	askCmdBytes  = []byte("*1\r\n$6\r\nASKING\r\n")
	dialFailWait = 100 * time.Millisecond
)

// inflightEntry pairs a request with its position on the wire. swallow
// entries are the +OK replies to ASKING prefixes; their response is
// consumed to keep the FIFO aligned and then dropped.
type inflightEntry struct {
	req     *PipelineRequest
	swallow bool
}

// BackendServer owns the single connection to one cluster node. Many
// client sessions stage commands on it; the writing loop sends them in
// arrival order and the reading loop zips replies with the inflight
// FIFO, so reply i always belongs to command i.
type BackendServer struct {
	addr       Address
	pool       *ClusterConn
	dispatcher *Dispatcher

	input    chan *PipelineRequest
	inflight chan inflightEntry
	quit     chan struct{}

	mu      sync.Mutex
	dead    bool
	evicted bool
	conn    net.Conn

	closeOnce  sync.Once
	writerDone chan struct{}
	readerDone chan struct{}
}

func NewBackendServer(addr Address, pool *ClusterConn, d *Dispatcher, queueDepth int) *BackendServer {
	b := &BackendServer{
		addr:       addr,
		pool:       pool,
		dispatcher: d,
		input:      make(chan *PipelineRequest, queueDepth),
		inflight:   make(chan inflightEntry, 2*queueDepth),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *BackendServer) Addr() Address {
	return b.addr
}

// Push stages a command. It blocks while the staged queue is at its
// high-water mark, which pauses the pushing client's reads. false means
// the backend is shut down and the command must be routed elsewhere.
func (b *BackendServer) Push(req *PipelineRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return false
	}
	select {
	case b.input <- req:
		return true
	case <-b.quit:
		return false
	}
}

func (b *BackendServer) run() {
	conn, err := b.pool.Conn(b.addr.String())
	if err != nil {
		glog.Errorf("backend %s: connect: %v", b.addr, err)
		close(b.readerDone)
		close(b.writerDone)
		// pace reconnect storms while the cluster is unreachable
		time.Sleep(dialFailWait)
		b.Shutdown()
		return
	}
	b.mu.Lock()
	if b.dead {
		b.mu.Unlock()
		conn.Close()
		close(b.readerDone)
		close(b.writerDone)
		return
	}
	b.conn = conn
	b.mu.Unlock()
	glog.Infof("backend %s: connected", b.addr)

	go b.readingLoop(conn)
	b.writingLoop(conn)
}

func (b *BackendServer) writingLoop(conn net.Conn) {
	defer close(b.writerDone)
	w := bufio.NewWriterSize(conn, 64*1024)
	for {
		var req *PipelineRequest
		select {
		case <-b.quit:
			return
		case req = <-b.input:
		}
		if !b.writeRequest(w, req) {
			return
		}
		// batch whatever else is already staged before flushing
	drain:
		for {
			select {
			case req = <-b.input:
				if !b.writeRequest(w, req) {
					return
				}
			default:
				break drain
			}
		}
		if err := w.Flush(); err != nil {
			glog.Errorf("backend %s: flush: %v", b.addr, err)
			b.Shutdown()
			return
		}
	}
}

// writeRequest moves one staged command to the wire, recording it (and
// its ASKING prefix, if any) on the inflight FIFO first so the reading
// loop can never observe a reply without its command.
func (b *BackendServer) writeRequest(w *bufio.Writer, req *PipelineRequest) bool {
	if req.ask {
		req.ask = false
		if !b.pushInflight(inflightEntry{req: req, swallow: true}) {
			b.dispatcher.Retry(req)
			return false
		}
		if _, err := w.Write(askCmdBytes); err != nil {
			glog.Errorf("backend %s: write: %v", b.addr, err)
			b.Shutdown()
			return false
		}
	}
	if !b.pushInflight(inflightEntry{req: req}) {
		b.dispatcher.Retry(req)
		return false
	}
	if _, err := w.Write(req.cmd); err != nil {
		glog.Errorf("backend %s: write: %v", b.addr, err)
		b.Shutdown()
		return false
	}
	return true
}

// pushInflight records an entry on the wire-order FIFO, giving up when
// the backend is shutting down and the reading loop is gone.
func (b *BackendServer) pushInflight(entry inflightEntry) bool {
	select {
	case b.inflight <- entry:
		return true
	case <-b.quit:
		return false
	}
}

func (b *BackendServer) readingLoop(conn net.Conn) {
	defer close(b.readerDone)
	var buffer []byte
	chunk := make([]byte, 64*1024)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			res, serr := proto.Split(buffer)
			if serr != nil {
				glog.Errorf("backend %s: protocol error: %v", b.addr, serr)
				b.Shutdown()
				return
			}
			for _, r := range res.Ranges {
				if !b.dispatchReply(buffer[r.Begin:r.End]) {
					return
				}
			}
			buffer = append(buffer[:0], buffer[res.Interrupt:]...)
		}
		if err != nil {
			glog.V(2).Infof("backend %s: read: %v", b.addr, err)
			b.Shutdown()
			return
		}
	}
}

// dispatchReply attaches one reply to the head of the inflight FIFO.
func (b *BackendServer) dispatchReply(raw []byte) bool {
	var entry inflightEntry
	select {
	case entry = <-b.inflight:
	default:
		glog.Errorf("backend %s: reply without inflight command", b.addr)
		b.Shutdown()
		return false
	}
	if entry.swallow {
		return true
	}
	req := entry.req
	if raw[0] == proto.T_Error {
		if bytes.HasPrefix(raw, movedPrefix) {
			if addr, ok := parseRedirect(raw); ok {
				redirectsTotal.WithLabelValues("moved").Inc()
				b.dispatcher.TriggerReloadSlots()
				b.dispatcher.Reroute(req, addr, false)
				return true
			}
		} else if bytes.HasPrefix(raw, askPrefix) {
			if addr, ok := parseRedirect(raw); ok {
				redirectsTotal.WithLabelValues("ask").Inc()
				b.dispatcher.Reroute(req, addr, true)
				return true
			}
		}
	}
	rsp := make([]byte, len(raw))
	copy(rsp, raw)
	req.backQ <- &PipelineResponse{ctx: req, rsp: rsp}
	return true
}

// Shutdown tears the backend down once: unblock everything, then hand
// every staged and inflight command back for rerouting. Commands staged
// but never written have not been observed by any node, so they are
// retried along with the inflight ones.
func (b *BackendServer) Shutdown() {
	b.closeOnce.Do(func() {
		close(b.quit)
		b.mu.Lock()
		b.dead = true
		conn := b.conn
		b.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		b.dispatcher.backendClosed(b)
		go b.reap()
	})
}

// Evict closes a backend dropped by a topology refresh. Unlike a socket
// failure it does not schedule another refresh.
func (b *BackendServer) Evict() {
	b.mu.Lock()
	b.evicted = true
	b.mu.Unlock()
	b.Shutdown()
}

func (b *BackendServer) wasEvicted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

func (b *BackendServer) reap() {
	<-b.writerDone
	<-b.readerDone
	for {
		select {
		case entry := <-b.inflight:
			if !entry.swallow {
				b.dispatcher.Retry(entry.req)
			}
		case req := <-b.input:
			b.dispatcher.Retry(req)
		default:
			return
		}
	}
}

// parseRedirect extracts the target address from "-MOVED <slot>
// <host:port>" or "-ASK <slot> <host:port>".
func parseRedirect(raw []byte) (Address, bool) {
	parts := strings.Fields(string(bytes.TrimSuffix(raw, []byte("\r\n"))))
	if len(parts) != 3 {
		return Address{}, false
	}
	addr, err := ParseAddress(parts[2])
	if err != nil {
		return Address{}, false
	}
	return addr, true
}
