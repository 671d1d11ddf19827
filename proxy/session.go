package proxy

import (
	"container/heap"
	"net"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/HunanTV/redis-cerberus/proto"
)

// Session serves one client connection. The reading loop splits the
// inbound byte stream into commands, groups every read event's commands
// into one CommandGroup, and routes each command through the
// dispatcher. The writing loop consumes backQ and releases groups in
// parse order, each only once all of its responses are recorded.
type Session struct {
	net.Conn
	buffer      []byte
	reqSeq      int64
	rspSeq      int64
	backQ       chan *PipelineResponse
	closed      atomic.Bool
	closeSignal sync.WaitGroup
	reqWg       sync.WaitGroup
	rspHeap     groupHeap
	dispatcher  *Dispatcher
}

func NewSession(conn net.Conn, d *Dispatcher, backQSize int) *Session {
	return &Session{
		Conn:       conn,
		backQ:      make(chan *PipelineResponse, backQSize),
		dispatcher: d,
	}
}

func (s *Session) Prepare() {
	s.closeSignal.Add(1)
}

// WritingLoop consumes backQ and sends responses to the client. It
// closes the connection to notify the reader on error and keeps
// draining until the reader has exited.
func (s *Session) WritingLoop() {
	for rsp := range s.backQ {
		if err := s.handleRespPipeline(rsp); err != nil {
			s.Close()
			continue
		}
	}
	s.Close()
	s.closeSignal.Done()
}

func (s *Session) ReadingLoop() {
	chunk := make([]byte, 16*1024)
	for {
		n, err := s.Conn.Read(chunk)
		if n > 0 {
			s.buffer = append(s.buffer, chunk[:n]...)
			if perr := s.processBuffer(); perr != nil {
				glog.V(2).Infof("client %s: %v", s.RemoteAddr(), perr)
				break
			}
		}
		if err != nil {
			glog.V(2).Infof("client %s: %v", s.RemoteAddr(), err)
			break
		}
	}
	s.Close()
	// wait for all requests done
	s.reqWg.Wait()
	// notify writer
	close(s.backQ)
	s.closeSignal.Wait()
}

// processBuffer turns every complete frame in the buffer into a routed
// command. All commands from one read event form one group, the unit of
// response ordering.
func (s *Session) processBuffer() error {
	res, err := proto.Split(s.buffer)
	if err != nil {
		return err
	}
	if len(res.Ranges) > 0 {
		reqs := make([]*PipelineRequest, 0, len(res.Ranges))
		group := newCommandGroup(s.reqSeq, len(res.Ranges))
		s.reqSeq++
		for i, r := range res.Ranges {
			frame := s.buffer[r.Begin:r.End]
			slot, ok := parseClientCommand(frame)
			if !ok {
				return proto.ErrBadFrame
			}
			cmd := make([]byte, len(frame))
			copy(cmd, frame)
			reqs = append(reqs, &PipelineRequest{
				cmd:    cmd,
				slot:   slot,
				seq:    group.seq,
				subSeq: i,
				group:  group,
				backQ:  s.backQ,
			})
		}
		commandsTotal.Add(float64(len(reqs)))
		s.reqWg.Add(len(reqs))
		for _, req := range reqs {
			s.dispatcher.Schedule(req)
		}
	}
	s.buffer = append(s.buffer[:0], s.buffer[res.Interrupt:]...)
	return nil
}

// handleRespPipeline records one response into its group and writes out
// every head group that has become complete. Groups completing early
// wait on the heap until their turn.
func (s *Session) handleRespPipeline(plRsp *PipelineResponse) error {
	raw := plRsp.rsp
	if plRsp.err != nil {
		raw = (&proto.Data{T: proto.T_Error, String: []byte("ERR " + plRsp.err.Error())}).Format()
	}
	group := plRsp.ctx.group
	group.record(plRsp.ctx.subSeq, raw)
	s.reqWg.Done()
	if !group.finished() {
		return nil
	}
	if group.seq != s.rspSeq {
		heap.Push(&s.rspHeap, group)
		return nil
	}
	if err := s.writeGroup(group); err != nil {
		return err
	}
	for {
		top := s.rspHeap.Top()
		if top == nil || top.seq != s.rspSeq {
			return nil
		}
		group = heap.Pop(&s.rspHeap).(*CommandGroup)
		if err := s.writeGroup(group); err != nil {
			return err
		}
	}
}

func (s *Session) writeGroup(g *CommandGroup) error {
	s.rspSeq++
	if s.closed.Load() {
		return nil
	}
	if _, err := s.Conn.Write(g.coalesce()); err != nil {
		glog.V(2).Infof("client %s: write: %v", s.RemoteAddr(), err)
		return err
	}
	return nil
}

func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.Conn.Close()
	}
}
