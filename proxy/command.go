package proxy

import (
	"github.com/HunanTV/redis-cerberus/proto"
)

// PipelineRequest is one client command on its way through the proxy:
// the raw frame bytes forwarded verbatim, the derived slot, and the
// position inside its group where the response must land.
type PipelineRequest struct {
	cmd    []byte
	slot   int // -1 when the command has no key
	seq    int64
	subSeq int
	group  *CommandGroup
	backQ  chan *PipelineResponse
	ask    bool // one-shot ASK redirect: prefix with ASKING on write
}

// PipelineResponse carries the raw reply bytes (or an internal error)
// back to the owning session.
type PipelineResponse struct {
	ctx *PipelineRequest
	rsp []byte
	err error
}

// CommandGroup collects the commands parsed from one client read event.
// Responses are recorded into fixed slots, so submission order inside
// the group survives out-of-order completion.
type CommandGroup struct {
	seq     int64
	rsps    [][]byte
	pending int
}

func newCommandGroup(seq int64, size int) *CommandGroup {
	return &CommandGroup{seq: seq, rsps: make([][]byte, size), pending: size}
}

func (g *CommandGroup) record(subSeq int, rsp []byte) {
	if g.rsps[subSeq] != nil {
		return
	}
	g.rsps[subSeq] = rsp
	g.pending--
}

func (g *CommandGroup) finished() bool {
	return g.pending == 0
}

func (g *CommandGroup) coalesce() []byte {
	size := 0
	for _, rsp := range g.rsps {
		size += len(rsp)
	}
	buf := make([]byte, 0, size)
	for _, rsp := range g.rsps {
		buf = append(buf, rsp...)
	}
	return buf
}

// groupHeap orders completed groups by sequence number so the writing
// loop releases them in parse order.
type groupHeap []*CommandGroup

func (h groupHeap) Len() int            { return len(h) }
func (h groupHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h groupHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *groupHeap) Push(x interface{}) { *h = append(*h, x.(*CommandGroup)) }

func (h *groupHeap) Pop() interface{} {
	old := *h
	n := len(old)
	g := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return g
}

func (h groupHeap) Top() *CommandGroup {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// commandVisitor extracts the routing key from a request frame
// while rejecting anything that is not a flat array of bulk strings.
type commandVisitor struct {
	inArray bool
	argc    int
	seen    int
	key     []byte
	bad     bool
}

func (v *commandVisitor) OnArray(n int) {
	if v.inArray || n <= 0 {
		v.bad = true
		return
	}
	v.inArray = true
	v.argc = n
}

func (v *commandVisitor) OnBulkString(s []byte) {
	if !v.inArray {
		v.bad = true
		return
	}
	v.seen++
	if v.seen == 2 {
		v.key = s
	}
}

func (v *commandVisitor) OnInteger(int64)      { v.bad = true }
func (v *commandVisitor) OnSimpleString([]byte) { v.bad = true }
func (v *commandVisitor) OnError([]byte)        { v.bad = true }
func (v *commandVisitor) OnNil()                { v.bad = true }

func (v *commandVisitor) valid() bool {
	return !v.bad && v.inArray && v.seen == v.argc
}

// parseClientCommand derives the routing slot for one complete request
// frame. ok is false when the frame is not a well-formed command.
func parseClientCommand(frame []byte) (slot int, ok bool) {
	var v commandVisitor
	if _, err := proto.Parse(frame, &v); err != nil || !v.valid() {
		return 0, false
	}
	if v.seen < 2 {
		return -1, true
	}
	return Key2Slot(string(v.key)), true
}
