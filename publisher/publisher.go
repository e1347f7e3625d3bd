package publisher

import (
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/edgetele/sparkplug/log2"
	"github.com/edgetele/sparkplug/payload"
	"github.com/edgetele/sparkplug/topic"
	"github.com/edgetele/sparkplug/transport"
)

type Options struct {
	Group    string
	EdgeNode string
	Log      *log2.Log
	// Now returns milliseconds since epoch for message timestamps.
	// Defaults to wall clock.
	Now func() uint64
}

type deviceState struct {
	metrics *MetricSet
	born    bool
}

// Publisher owns one edge node's lifecycle: the bdSeq session counter, the
// mod-256 message sequence, the node metric set and any device metric
// sets. One mutex per instance, held across counter read-stamp-send-commit
// so concurrent callers cannot interleave sequence numbers.
//
// Counters advance only after a successful send. A failed send leaves
// seq/bdSeq untouched, so the next attempt reuses the same numbers and
// consumers never diagnose a false gap.
type Publisher struct {
	mu      sync.Mutex
	log     *log2.Log
	tp      transport.Transporter
	group   string
	node    string
	now     func() uint64
	metrics *MetricSet
	devices map[string]*deviceState

	bdSeq     uint64
	bornBdSeq uint64
	seq       uint8 // next value to stamp
	born      bool
}

func New(tp transport.Transporter, opt Options) (*Publisher, error) {
	if opt.Group == "" || opt.EdgeNode == "" {
		return nil, errors.NotValidf("publisher group/edge node empty")
	}
	now := opt.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	return &Publisher{
		log:     opt.Log,
		tp:      tp,
		group:   opt.Group,
		node:    opt.EdgeNode,
		now:     now,
		metrics: NewMetricSet(),
		devices: make(map[string]*deviceState),
	}, nil
}

// SetTransport wires the outbound transport. Needed when the transport's
// last-will must be built from this publisher before the transport itself
// exists; call before the first publish.
func (p *Publisher) SetTransport(tp transport.Transporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tp = tp
}

// Metrics is the node-level metric set. Define before Birth; Set from any
// goroutine, publishes included.
func (p *Publisher) Metrics() *MetricSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Device returns the metric set for a device id, creating it on first use.
func (p *Publisher) Device(id string) *MetricSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev, ok := p.devices[id]
	if !ok {
		dev = &deviceState{metrics: NewMetricSet()}
		p.devices[id] = dev
	}
	return dev.metrics
}

func (p *Publisher) Seq() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Publisher) BdSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bdSeq
}

// Birth publishes the NBIRTH certificate: bdSeq plus every node metric
// with its name-alias binding, seq=0. On success the message sequence
// restarts and every device is marked unborn, so device births must be
// republished after the node birth.
func (p *Publisher) Birth() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.birthLocked(p.bdSeq)
}

// Rebirth advances bdSeq and publishes a fresh NBIRTH. The new bdSeq is
// committed only when the send succeeds.
func (p *Publisher) Rebirth() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.birthLocked(p.bdSeq + 1)
}

func (p *Publisher) birthLocked(bdSeq uint64) error {
	b := payload.NewBuilder()
	b.SetTimestamp(p.now())
	b.SetSeq(0)
	if err := b.AddMetric(payload.BirthMetric(BdSeqMetricName, BdSeqAlias, payload.UInt64Value(bdSeq))); err != nil {
		return errors.Trace(err)
	}
	dirty, err := p.metrics.appendBirth(b)
	if err != nil {
		return errors.Trace(err)
	}
	raw, err := b.Serialize()
	if err != nil {
		p.metrics.markDirty(dirty)
		return errors.Annotate(err, "birth")
	}
	t := topic.NodeTopic(p.group, topic.NBirth, p.node)
	if err := p.tp.Send(t.String(), raw, false); err != nil {
		p.metrics.markDirty(dirty)
		return errors.Annotate(err, "birth send")
	}
	p.bdSeq = bdSeq
	p.bornBdSeq = bdSeq
	p.seq = 1
	p.born = true
	for _, dev := range p.devices {
		dev.born = false
	}
	p.log.Infof("publisher %s/%s born bdSeq=%d", p.group, p.node, bdSeq)
	return nil
}

// Data publishes NDATA carrying alias-only metrics for values changed
// since the last birth or data message. A call with nothing changed sends
// nothing and consumes no sequence number.
func (p *Publisher) Data() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.born {
		return errors.Errorf("data before birth")
	}
	b := payload.NewBuilder()
	b.SetTimestamp(p.now())
	b.SetSeq(p.seq)
	dirty, err := p.metrics.appendDirty(b)
	if err != nil {
		return errors.Trace(err)
	}
	if len(dirty) == 0 {
		return nil
	}
	raw, err := b.Serialize()
	if err != nil {
		p.metrics.markDirty(dirty)
		return errors.Annotate(err, "data")
	}
	t := topic.NodeTopic(p.group, topic.NData, p.node)
	if err := p.tp.Send(t.String(), raw, false); err != nil {
		p.metrics.markDirty(dirty)
		return errors.Annotate(err, "data send")
	}
	p.seq++
	return nil
}

// Death publishes NDEATH actively, for clean shutdown paths. The payload
// carries the bdSeq that was active at the last birth so consumers can
// tell this death from a stale will of an earlier session. NDEATH carries
// no seq field.
func (p *Publisher) Death() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := deathPayload(p.bornBdSeq, p.now())
	if err != nil {
		return errors.Trace(err)
	}
	t := topic.NodeTopic(p.group, topic.NDeath, p.node)
	if err := p.tp.Send(t.String(), raw, false); err != nil {
		return errors.Annotate(err, "death send")
	}
	p.born = false
	for _, dev := range p.devices {
		dev.born = false
	}
	p.log.Infof("publisher %s/%s death bdSeq=%d", p.group, p.node, p.bornBdSeq)
	return nil
}

// WillMessage builds the NDEATH last-will for the transport to register at
// connect time. It must carry the bdSeq of the session about to be born.
func (p *Publisher) WillMessage() (transport.Will, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := deathPayload(p.bdSeq, p.now())
	if err != nil {
		return transport.Will{}, errors.Trace(err)
	}
	t := topic.NodeTopic(p.group, topic.NDeath, p.node)
	return transport.Will{Topic: t.String(), Payload: raw}, nil
}

func deathPayload(bdSeq uint64, ts uint64) ([]byte, error) {
	b := payload.NewBuilder()
	b.SetTimestamp(ts)
	if err := b.AddMetric(payload.BirthMetric(BdSeqMetricName, BdSeqAlias, payload.UInt64Value(bdSeq))); err != nil {
		return nil, errors.Trace(err)
	}
	return b.Serialize()
}

// DeviceBirth publishes DBIRTH for one device: every device metric with
// its name-alias binding. Valid only after the node birth.
func (p *Publisher) DeviceBirth(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.born {
		return errors.Errorf("device %s birth before node birth", id)
	}
	dev, ok := p.devices[id]
	if !ok {
		return errors.NotFoundf("device %s", id)
	}
	b := payload.NewBuilder()
	b.SetTimestamp(p.now())
	b.SetSeq(p.seq)
	dirty, err := dev.metrics.appendBirth(b)
	if err != nil {
		return errors.Trace(err)
	}
	raw, err := b.Serialize()
	if err != nil {
		dev.metrics.markDirty(dirty)
		return errors.Annotatef(err, "device %s birth", id)
	}
	t := topic.DeviceTopic(p.group, topic.DBirth, p.node, id)
	if err := p.tp.Send(t.String(), raw, false); err != nil {
		dev.metrics.markDirty(dirty)
		return errors.Annotatef(err, "device %s birth send", id)
	}
	p.seq++
	dev.born = true
	return nil
}

// DeviceData publishes DDATA with the device's changed metrics,
// alias-only. Ordering is enforced per device: no data before that
// device's birth.
func (p *Publisher) DeviceData(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev, ok := p.devices[id]
	if !ok {
		return errors.NotFoundf("device %s", id)
	}
	if !dev.born {
		return errors.Errorf("device %s data before birth", id)
	}
	b := payload.NewBuilder()
	b.SetTimestamp(p.now())
	b.SetSeq(p.seq)
	dirty, err := dev.metrics.appendDirty(b)
	if err != nil {
		return errors.Trace(err)
	}
	if len(dirty) == 0 {
		return nil
	}
	raw, err := b.Serialize()
	if err != nil {
		dev.metrics.markDirty(dirty)
		return errors.Annotatef(err, "device %s data", id)
	}
	t := topic.DeviceTopic(p.group, topic.DData, p.node, id)
	if err := p.tp.Send(t.String(), raw, false); err != nil {
		dev.metrics.markDirty(dirty)
		return errors.Annotatef(err, "device %s data send", id)
	}
	p.seq++
	return nil
}

// DeviceDeath publishes DDEATH for one device.
func (p *Publisher) DeviceDeath(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.born {
		return errors.Errorf("device %s death before node birth", id)
	}
	dev, ok := p.devices[id]
	if !ok {
		return errors.NotFoundf("device %s", id)
	}
	b := payload.NewBuilder()
	b.SetTimestamp(p.now())
	b.SetSeq(p.seq)
	raw, err := b.Serialize()
	if err != nil {
		return errors.Annotatef(err, "device %s death", id)
	}
	t := topic.DeviceTopic(p.group, topic.DDeath, p.node, id)
	if err := p.tp.Send(t.String(), raw, false); err != nil {
		return errors.Annotatef(err, "device %s death send", id)
	}
	p.seq++
	dev.born = false
	return nil
}
