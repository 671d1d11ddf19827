package proxy

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
)

// dispatcher routes commands from all clients to the right backend and
// maintains the slot table

var (
	clusterDownBytes = []byte("-CLUSTERDOWN The cluster is down\r\n")

	errRetryOverflow = errors.New("retry queue overflow")
	errNoSeedWorked  = errors.New("no startup node produced a slot map")
)

const periodicReloadInterval = 60 * time.Second

// retryRequest is a command waiting to be routed again: after a
// redirection (forced target address, ask flag) or after its backend
// died (slot re-derived).
type retryRequest struct {
	req     *PipelineRequest
	addr    Address
	hasAddr bool
	ask     bool
}

type Dispatcher struct {
	startupNodes       []Address
	slotReloadInterval time.Duration
	fetchTimeout       time.Duration
	pool               *ClusterConn

	// notify slots changed; 1-buffered so concurrent triggers collapse
	slotReloadChan chan struct{}
	retryC         chan retryRequest

	lock    sync.Mutex
	slotMap *SlotMap
}

func NewDispatcher(startupNodes []Address, slotReloadInterval, fetchTimeout time.Duration, pool *ClusterConn, queueDepth int) *Dispatcher {
	d := &Dispatcher{
		startupNodes:       startupNodes,
		slotReloadInterval: slotReloadInterval,
		fetchTimeout:       fetchTimeout,
		pool:               pool,
		slotReloadChan:     make(chan struct{}, 1),
		retryC:             make(chan retryRequest, 4096),
	}
	d.slotMap = NewSlotMap(func(addr Address) *BackendServer {
		return NewBackendServer(addr, pool, d, queueDepth)
	})
	return d
}

// InitSlotTable fetches the first slot map from the startup nodes. The
// proxy cannot serve without one, so failure is fatal to the caller.
func (d *Dispatcher) InitSlotTable() error {
	for _, i := range rand.Perm(len(d.startupNodes)) {
		addr := d.startupNodes[i]
		ranges, err := NewSlotsMapUpdater(addr, d.pool).Fetch(d.fetchTimeout)
		if err != nil {
			glog.Errorf("startup node %s: %v", addr, err)
			continue
		}
		d.applySlotMap(ranges)
		return nil
	}
	return errNoSeedWorked
}

func (d *Dispatcher) Run() {
	go d.retryLoop()
	d.slotsReloadLoop()
}

// Schedule routes one command: derive the backend from the slot (or a
// random covered one for keyless commands) and stage it there.
func (d *Dispatcher) Schedule(req *PipelineRequest) {
	d.lock.Lock()
	var b *BackendServer
	if req.slot < 0 {
		if addr, ok := d.slotMap.RandomAddr(); ok {
			b = d.slotMap.GetByAddr(addr)
		}
	} else {
		b = d.slotMap.GetBySlot(req.slot)
	}
	d.lock.Unlock()

	if b == nil {
		d.TriggerReloadSlots()
		req.backQ <- &PipelineResponse{ctx: req, rsp: clusterDownBytes}
		return
	}
	if !b.Push(req) {
		d.Retry(req)
	}
}

// Retry queues a command whose backend went away; its slot is derived
// again at routing time, against a possibly refreshed map.
func (d *Dispatcher) Retry(req *PipelineRequest) {
	d.enqueueRetry(retryRequest{req: req})
}

// Reroute queues a redirected command for the node a MOVED or ASK
// response named.
func (d *Dispatcher) Reroute(req *PipelineRequest, addr Address, ask bool) {
	d.enqueueRetry(retryRequest{req: req, addr: addr, hasAddr: true, ask: ask})
}

func (d *Dispatcher) enqueueRetry(r retryRequest) {
	select {
	case d.retryC <- r:
	default:
		// shedding here breaks a waiting cycle between full backends
		// and the retry consumer
		r.req.backQ <- &PipelineResponse{ctx: r.req, err: errRetryOverflow}
	}
}

func (d *Dispatcher) retryLoop() {
	for r := range d.retryC {
		commandRetriesTotal.Inc()
		if r.hasAddr {
			d.lock.Lock()
			b := d.slotMap.GetByAddr(r.addr)
			d.lock.Unlock()
			r.req.ask = r.ask
			if b.Push(r.req) {
				continue
			}
			r.req.ask = false
		}
		d.Schedule(r.req)
	}
}

// backendClosed drops a dead backend from the address table. Anything
// other than an eviction by refresh also schedules a reload, since the
// topology evidently disagrees with the map.
func (d *Dispatcher) backendClosed(b *BackendServer) {
	d.lock.Lock()
	d.slotMap.Erase(b)
	uncovered := !d.slotMap.AllCovered()
	d.lock.Unlock()
	if !b.wasEvicted() {
		backendFailuresTotal.Inc()
		d.TriggerReloadSlots()
	}
	if uncovered {
		glog.Warningf("slot map no longer covered after losing %s", b.Addr())
	}
}

// wait for the reload chan and refresh the cluster topology at most
// every slotReloadInterval; a long periodic refresh runs regardless
func (d *Dispatcher) slotsReloadLoop() {
	for {
		select {
		case _, ok := <-d.slotReloadChan:
			if !ok {
				glog.Info("exit reload slot table loop")
				return
			}
			glog.Info("requested reload triggered")
		case <-time.After(periodicReloadInterval):
			glog.V(2).Info("periodic reload triggered")
		}
		d.reload()
		time.Sleep(d.slotReloadInterval)
	}
}

func (d *Dispatcher) reload() {
	var candidates []Address
	d.lock.Lock()
	if addr, ok := d.slotMap.RandomAddr(); ok {
		candidates = append(candidates, addr)
	}
	d.lock.Unlock()
	for _, i := range rand.Perm(len(d.startupNodes)) {
		candidates = append(candidates, d.startupNodes[i])
	}

	for _, addr := range candidates {
		ranges, err := NewSlotsMapUpdater(addr, d.pool).Fetch(d.fetchTimeout)
		if err != nil {
			glog.Errorf("reload from %s: %v", addr, err)
			continue
		}
		d.applySlotMap(ranges)
		slotReloadsTotal.Inc()
		return
	}
	glog.Error("reload slot table failed")
	d.lock.Lock()
	uncovered := !d.slotMap.AllCovered()
	d.lock.Unlock()
	if uncovered {
		d.TriggerReloadSlots()
	}
}

func (d *Dispatcher) applySlotMap(ranges []SlotRange) {
	d.lock.Lock()
	removed := d.slotMap.SetMap(ranges)
	covered := d.slotMap.AllCovered()
	d.lock.Unlock()
	for _, b := range removed {
		glog.Infof("backend %s dropped by topology refresh", b.Addr())
		b.Evict()
	}
	if !covered {
		glog.Warning("new slot map does not cover the keyspace")
	}
}

// TriggerReloadSlots schedules a topology reload. The call is
// inherently throttled: concurrent triggers collapse into one.
func (d *Dispatcher) TriggerReloadSlots() {
	select {
	case d.slotReloadChan <- struct{}{}:
	default:
	}
}
