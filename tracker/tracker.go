// Package tracker is the consumer side of the protocol: it watches a
// group's message stream and maintains a liveness state machine per edge
// node, with sequence-gap detection and backed-off rebirth requests for
// nodes that produce data without a preceding birth certificate.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/edgetele/sparkplug/log2"
	"github.com/edgetele/sparkplug/payload"
	"github.com/edgetele/sparkplug/publisher"
	"github.com/edgetele/sparkplug/topic"
)

type State uint8

const (
	StateUnknown State = iota
	StateAwake
	StateSleeping
	StateWakePending
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateSleeping:
		return "sleeping"
	case StateWakePending:
		return "wake-pending"
	}
	return "unknown"
}

const (
	DefaultWakeBackoffBase = 5 * time.Second
	DefaultWakeBackoffCap  = 60 * time.Second
)

// SequenceGap is an observational event: messages were likely lost between
// lastSeq and the received seq. Processing of the triggering message
// continues regardless.
type SequenceGap struct {
	Group    string
	EdgeNode string
	Expected uint8
	Got      uint8
}

// CommandFunc sends an outbound protocol message; wired to the transport
// by the owner. Called outside the tracker lock.
type CommandFunc func(topic string, payload []byte) error

type Options struct {
	Log         *log2.Log
	SendCommand CommandFunc
	// OnSequenceGap observes detected gaps; optional. Called outside the
	// tracker lock.
	OnSequenceGap   func(SequenceGap)
	WakeBackoffBase time.Duration
	WakeBackoffCap  time.Duration
	Now             func() time.Time
}

type nodeKey struct {
	group    string
	edgeNode string
}

type nodeEntry struct {
	state      State
	birthCount uint32
	deathCount uint32
	dataCount  uint32
	gapCount   uint32

	lastSeq   uint8
	haveSeq   bool
	bdSeq     uint64
	haveBdSeq bool

	lastDeathTime   time.Time
	lastWakeAttempt time.Time
	wakeAttempts    uint32

	// alias bindings per scope: "" is the node, otherwise device id
	aliases map[string]*payload.AliasRegistry
}

// NodeStatus is a point-in-time copy of one node's tracking state.
type NodeStatus struct {
	Group        string
	EdgeNode     string
	State        State
	BirthCount   uint32
	DeathCount   uint32
	DataCount    uint32
	GapCount     uint32
	BdSeq        uint64
	LastSeq      uint8
	WakeAttempts uint32
}

func (ns NodeStatus) String() string {
	return fmt.Sprintf("%s/%s state=%s births=%d deaths=%d data=%d gaps=%d bdSeq=%d seq=%d",
		ns.Group, ns.EdgeNode, ns.State, ns.BirthCount, ns.DeathCount, ns.DataCount, ns.GapCount, ns.BdSeq, ns.LastSeq)
}

// Tracker state transitions happen only on receive paths and sweep
// timeouts, never as a side effect of sending. One mutex guards the whole
// node map; every lookup-and-mutate runs under it, sends run after it is
// released.
type Tracker struct {
	mu    sync.Mutex
	log   *log2.Log
	nodes map[nodeKey]*nodeEntry

	send        CommandFunc
	onGap       func(SequenceGap)
	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
}

func New(opt Options) *Tracker {
	if opt.WakeBackoffBase <= 0 {
		opt.WakeBackoffBase = DefaultWakeBackoffBase
	}
	if opt.WakeBackoffCap <= 0 {
		opt.WakeBackoffCap = DefaultWakeBackoffCap
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Tracker{
		log:         opt.Log,
		nodes:       make(map[nodeKey]*nodeEntry),
		send:        opt.SendCommand,
		onGap:       opt.OnSequenceGap,
		backoffBase: opt.WakeBackoffBase,
		backoffCap:  opt.WakeBackoffCap,
		now:         opt.Now,
	}
}

// rebirthCmd is a send scheduled while the lock was held.
type rebirthCmd struct {
	key nodeKey
}

// Handle processes one inbound message. Malformed topics and payloads are
// logged and dropped; they never corrupt node state. Never blocks on the
// transport while holding the lock.
func (tr *Tracker) Handle(topicStr string, raw []byte) {
	t, err := topic.Parse(topicStr)
	if err != nil {
		tr.log.Debugf("tracker: ignore topic=%q: %v", topicStr, err)
		return
	}
	if t.Type == topic.State {
		tr.log.Infof("tracker: host %s reports %s", t.HostID, string(raw))
		return
	}
	p, err := payload.Parse(raw)
	if err != nil {
		tr.log.Errorf("tracker: drop %s: %v", topicStr, err)
		return
	}

	var gaps []SequenceGap
	var cmds []rebirthCmd

	tr.mu.Lock()
	key := nodeKey{group: t.Group, edgeNode: t.EdgeNode}
	e := tr.nodes[key]
	if e == nil {
		e = &nodeEntry{aliases: make(map[string]*payload.AliasRegistry)}
		tr.nodes[key] = e
	}

	switch {
	case t.Type == topic.NBirth:
		tr.handleBirth(key, e, t, p)
	case t.Type == topic.NDeath:
		tr.handleDeath(key, e, p)
	case t.Type.IsCommand():
		// commands are addressed to nodes, not to us
	default:
		// NDATA, DBIRTH, DDATA, DDEATH: all share the node's sequence
		gaps, cmds = tr.handleData(key, e, t, p)
	}
	tr.mu.Unlock()

	for _, g := range gaps {
		tr.log.Infof("tracker: sequence gap %s/%s expected=%d got=%d", g.Group, g.EdgeNode, g.Expected, g.Got)
		if tr.onGap != nil {
			tr.onGap(g)
		}
	}
	tr.sendRebirths(cmds)
}

func (tr *Tracker) handleBirth(key nodeKey, e *nodeEntry, t topic.Topic, p *payload.Payload) {
	prev := e.state
	e.state = StateAwake
	e.birthCount++
	e.wakeAttempts = 0
	if seq, ok := p.Seq(); ok {
		e.lastSeq = seq
		e.haveSeq = true
	} else {
		e.haveSeq = false
	}
	if bd, ok := birthBdSeq(p); ok {
		e.bdSeq = bd
		e.haveBdSeq = true
	}
	reg := e.aliases[""]
	if reg == nil {
		reg = payload.NewAliasRegistry()
		e.aliases[""] = reg
	}
	reg.LearnBirth(p)
	tr.log.Infof("tracker: %s/%s %s -> awake bdSeq=%d aliases=%d", key.group, key.edgeNode, prev, e.bdSeq, reg.Len())
}

func (tr *Tracker) handleDeath(key nodeKey, e *nodeEntry, p *payload.Payload) {
	if bd, ok := birthBdSeq(p); ok && e.haveBdSeq && bd != e.bdSeq {
		// a will from an earlier session delivered late; the node already
		// rebirthed past it
		tr.log.Infof("tracker: %s/%s stale death bdSeq=%d current=%d, ignored", key.group, key.edgeNode, bd, e.bdSeq)
		return
	}
	e.state = StateSleeping
	e.deathCount++
	e.haveSeq = false
	e.lastDeathTime = tr.now()
	e.wakeAttempts = 0
	tr.log.Infof("tracker: %s/%s -> sleeping", key.group, key.edgeNode)
}

func (tr *Tracker) handleData(key nodeKey, e *nodeEntry, t topic.Topic, p *payload.Payload) ([]SequenceGap, []rebirthCmd) {
	var gaps []SequenceGap
	var cmds []rebirthCmd
	e.dataCount++

	if t.Type == topic.DBirth {
		scope := t.Device
		reg := e.aliases[scope]
		if reg == nil {
			reg = payload.NewAliasRegistry()
			e.aliases[scope] = reg
		}
		reg.LearnBirth(p)
	}

	if seq, ok := p.Seq(); ok {
		if e.state == StateAwake && e.haveSeq {
			expected := e.lastSeq + 1
			// tolerate exact duplicates and the wrap boundary
			if seq != expected && seq != e.lastSeq && e.lastSeq != 255 {
				e.gapCount++
				gaps = append(gaps, SequenceGap{
					Group:    key.group,
					EdgeNode: key.edgeNode,
					Expected: expected,
					Got:      seq,
				})
			}
		}
		// observational, never corrective
		e.lastSeq = seq
		e.haveSeq = true
	}

	if t.Type.IsData() {
		tr.resolveAliases(key, e, t, p)
	}

	if e.state == StateSleeping || e.state == StateUnknown {
		// data without a preceding birth: the node restarted and we
		// missed its certificate
		prev := e.state
		e.state = StateWakePending
		e.lastWakeAttempt = tr.now()
		cmds = append(cmds, rebirthCmd{key: key})
		tr.log.Infof("tracker: %s/%s %s -> wake-pending, requesting rebirth", key.group, key.edgeNode, prev)
	}
	return gaps, cmds
}

// resolveAliases checks that alias-only data metrics map back to a birth
// binding. Unresolvable aliases are reported, never silently invented.
func (tr *Tracker) resolveAliases(key nodeKey, e *nodeEntry, t topic.Topic, p *payload.Payload) {
	scope := ""
	if t.Type.IsDeviceLevel() {
		scope = t.Device
	}
	reg := e.aliases[scope]
	for it := p.Metrics(); ; {
		m, ok := it.Next()
		if !ok {
			break
		}
		if m.HasName || !m.HasAlias {
			continue
		}
		if reg == nil {
			tr.log.Errorf("tracker: %s/%s alias %d without any birth", key.group, key.edgeNode, m.Alias)
			continue
		}
		if _, err := reg.Resolve(m.Alias); err != nil {
			tr.log.Errorf("tracker: %s/%s unresolvable alias %d", key.group, key.edgeNode, m.Alias)
		}
	}
}

// ResolveMetricName maps an alias from a node's data message back to the
// name bound at its last birth.
func (tr *Tracker) ResolveMetricName(group, edgeNode, device string, alias payload.Alias) (string, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	e := tr.nodes[nodeKey{group: group, edgeNode: edgeNode}]
	if e == nil {
		return "", errors.NotFoundf("node %s/%s", group, edgeNode)
	}
	reg := e.aliases[device]
	if reg == nil {
		return "", errors.NotFoundf("birth of %s/%s", group, edgeNode)
	}
	return reg.Resolve(alias)
}

// Sweep applies wake timeouts: a pending wake that produced no birth
// within its window gets the rebirth request repeated by the sweep that
// notices, with the next window doubled. The backoff governs only how
// long each attempt waits for the birth, not extra idle time between
// attempts. Attempts are unbounded; the window is capped.
func (tr *Tracker) Sweep(now time.Time) {
	var cmds []rebirthCmd

	tr.mu.Lock()
	for key, e := range tr.nodes {
		if e.state != StateWakePending {
			continue
		}
		if now.Sub(e.lastWakeAttempt) >= tr.wakeBackoff(e.wakeAttempts) {
			e.wakeAttempts++
			e.lastWakeAttempt = now
			cmds = append(cmds, rebirthCmd{key: key})
			tr.log.Infof("tracker: %s/%s wake timeout, retry %d", key.group, key.edgeNode, e.wakeAttempts)
		}
	}
	tr.mu.Unlock()

	tr.sendRebirths(cmds)
}

// wakeBackoff is min(cap, base * 2^attempts).
func (tr *Tracker) wakeBackoff(attempts uint32) time.Duration {
	d := tr.backoffBase
	for i := uint32(0); i < attempts; i++ {
		d *= 2
		if d >= tr.backoffCap {
			return tr.backoffCap
		}
	}
	if d > tr.backoffCap {
		return tr.backoffCap
	}
	return d
}

func (tr *Tracker) sendRebirths(cmds []rebirthCmd) {
	if tr.send == nil {
		return
	}
	for _, c := range cmds {
		raw, err := publisher.RebirthRequest(uint64(tr.now().UnixMilli()))
		if err != nil {
			tr.log.Errorf("tracker: rebirth payload: %v", err)
			continue
		}
		t := topic.NodeTopic(c.key.group, topic.NCmd, c.key.edgeNode)
		if err := tr.send(t.String(), raw); err != nil {
			tr.log.Errorf("tracker: rebirth send %s/%s: %v", c.key.group, c.key.edgeNode, err)
		}
	}
}

// Status returns a snapshot of one node.
func (tr *Tracker) Status(group, edgeNode string) (NodeStatus, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	e := tr.nodes[nodeKey{group: group, edgeNode: edgeNode}]
	if e == nil {
		return NodeStatus{}, false
	}
	return statusOf(group, edgeNode, e), true
}

// Nodes returns a snapshot of every tracked node.
func (tr *Tracker) Nodes() []NodeStatus {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]NodeStatus, 0, len(tr.nodes))
	for key, e := range tr.nodes {
		out = append(out, statusOf(key.group, key.edgeNode, e))
	}
	return out
}

func statusOf(group, edgeNode string, e *nodeEntry) NodeStatus {
	return NodeStatus{
		Group:        group,
		EdgeNode:     edgeNode,
		State:        e.state,
		BirthCount:   e.birthCount,
		DeathCount:   e.deathCount,
		DataCount:    e.dataCount,
		GapCount:     e.gapCount,
		BdSeq:        e.bdSeq,
		LastSeq:      e.lastSeq,
		WakeAttempts: e.wakeAttempts,
	}
}

// Run sweeps periodically until the lifecycle stops.
func (tr *Tracker) Run(a *alive.Alive, interval time.Duration) {
	defer a.Done()
	stopCh := a.StopChan()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-tick.C:
			tr.Sweep(now)
		}
	}
}

// birthBdSeq reads the session counter metric from a birth or death
// payload; both conventional names are accepted.
func birthBdSeq(p *payload.Payload) (uint64, bool) {
	m, ok := p.MetricByName(publisher.BdSeqMetricName)
	if !ok {
		m, ok = p.MetricByName("Node Control/bdSeq")
	}
	if !ok {
		return 0, false
	}
	if v, ok := m.Value.UInt64(); ok {
		return v, true
	}
	if v, ok := m.Value.Int64(); ok && v >= 0 {
		return uint64(v), true
	}
	return 0, false
}
