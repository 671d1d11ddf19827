package proxy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/HunanTV/redis-cerberus/proto"
)

const (
	clusterNodesFieldAddr  = 1
	clusterNodesFieldFlags = 2
	clusterNodesSlotsFrom  = 8
)

var (
	clusterNodesCmdBytes []byte

	errNotBulkReply = errors.New("CLUSTER NODES reply is not a bulk string")
	errEmptySlotMap = errors.New("no master owns any slot")
)

func init() {
	cmd, _ := proto.NewCommand("CLUSTER", "NODES")
	clusterNodesCmdBytes = cmd.Format()
}

// SlotsMapUpdater fetches the cluster topology from one node. Its whole
// lifecycle is a single Fetch call.
type SlotsMapUpdater struct {
	addr Address
	pool *ClusterConn
}

func NewSlotsMapUpdater(addr Address, pool *ClusterConn) *SlotsMapUpdater {
	return &SlotsMapUpdater{addr: addr, pool: pool}
}

// Fetch queries CLUSTER NODES and parses the reply into slot ranges.
func (u *SlotsMapUpdater) Fetch(timeout time.Duration) ([]SlotRange, error) {
	conn, err := u.pool.Conn(u.addr.String())
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	if _, err := conn.Write(clusterNodesCmdBytes); err != nil {
		return nil, err
	}

	var buffer []byte
	chunk := make([]byte, 64*1024)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			res, err := proto.Split(buffer)
			if err != nil {
				return nil, err
			}
			if len(res.Ranges) > 0 {
				r := res.Ranges[0]
				return parseNodesReply(buffer[r.Begin:r.End])
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseNodesReply(frame []byte) ([]SlotRange, error) {
	data, _, err := proto.ParseData(frame)
	if err != nil {
		return nil, err
	}
	if data.T == proto.T_Error {
		return nil, fmt.Errorf("CLUSTER NODES error: %s", data.String)
	}
	if data.T != proto.T_BulkString || data.IsNil {
		return nil, errNotBulkReply
	}
	return ParseClusterNodes(string(data.String))
}

// ParseClusterNodes turns the CLUSTER NODES text into slot ranges keyed
// by exclusive upper bound. Only nodes flagged master and not fail own
// slots; importing/migrating descriptors in brackets are skipped.
func ParseClusterNodes(text string) ([]SlotRange, error) {
	type span struct {
		from, to int
		addr     Address
	}
	var spans []span
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		fields := strings.Fields(line)
		if len(fields) <= clusterNodesFieldFlags {
			continue
		}
		flags := fields[clusterNodesFieldFlags]
		if !strings.Contains(flags, "master") || strings.Contains(flags, "fail") {
			continue
		}
		addr, err := ParseAddress(fields[clusterNodesFieldAddr])
		if err != nil {
			glog.Warningf("cluster nodes: bad address %q: %v", fields[clusterNodesFieldAddr], err)
			continue
		}
		if len(fields) <= clusterNodesSlotsFrom {
			continue
		}
		for _, desc := range fields[clusterNodesSlotsFrom:] {
			from, to, ok := parseSlotDesc(desc)
			if !ok {
				continue
			}
			spans = append(spans, span{from: from, to: to, addr: addr})
		}
	}
	if len(spans) == 0 {
		return nil, errEmptySlotMap
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })

	var ranges []SlotRange
	for _, sp := range spans {
		n := len(ranges)
		if n > 0 && ranges[n-1].Addr == sp.addr && ranges[n-1].Upper == sp.from {
			ranges[n-1].Upper = sp.to + 1
			continue
		}
		ranges = append(ranges, SlotRange{Upper: sp.to + 1, Addr: sp.addr})
	}
	return ranges, nil
}

// parseSlotDesc reads a slot descriptor: N, N-M, or a bracketed
// migration entry (ignored).
func parseSlotDesc(desc string) (from, to int, ok bool) {
	if strings.HasPrefix(desc, "[") {
		return 0, 0, false
	}
	if i := strings.IndexByte(desc, '-'); i >= 0 {
		from, err := strconv.Atoi(desc[:i])
		if err != nil {
			return 0, 0, false
		}
		to, err := strconv.Atoi(desc[i+1:])
		if err != nil || to < from {
			return 0, 0, false
		}
		return from, to, true
	}
	s, err := strconv.Atoi(desc)
	if err != nil {
		return 0, 0, false
	}
	return s, s, true
}
