package payload

// Payload is a decoded, immutable payload envelope. Produced by Parse only.
type Payload struct {
	metrics []Metric
	ts      uint64
	hasTs   bool
	seq     uint64
	hasSeq  bool
	uuid    string
	hasUUID bool
}

// Parse decodes wire bytes. Unknown fields are skipped, the rest must be
// well-formed protobuf; anything else yields *ParseError.
func Parse(raw []byte) (*Payload, error) {
	return decodePayload(raw)
}

func (p *Payload) Timestamp() (uint64, bool) { return p.ts, p.hasTs }

// Seq returns the envelope sequence number. The wire field is a varint;
// values are masked to the protocol's mod-256 domain.
func (p *Payload) Seq() (uint8, bool) { return uint8(p.seq & 0xff), p.hasSeq }

func (p *Payload) UUID() (string, bool) { return p.uuid, p.hasUUID }

func (p *Payload) MetricCount() int { return len(p.metrics) }

// MetricAt returns the metric at index i in wire order.
func (p *Payload) MetricAt(i int) (Metric, error) {
	if i < 0 || i >= len(p.metrics) {
		return Metric{}, &InvalidMetricIndexError{Index: i, Count: len(p.metrics)}
	}
	return p.metrics[i], nil
}

// MetricByName returns the first metric whose name matches.
func (p *Payload) MetricByName(name string) (Metric, bool) {
	for _, m := range p.metrics {
		if m.HasName && m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Metrics returns a fresh iterator over the metrics in wire order. Each
// call starts from the beginning; iterators are independent.
func (p *Payload) Metrics() *MetricIter {
	return &MetricIter{metrics: p.metrics}
}

type MetricIter struct {
	metrics []Metric
	i       int
}

func (it *MetricIter) Next() (Metric, bool) {
	if it.i >= len(it.metrics) {
		return Metric{}, false
	}
	m := it.metrics[it.i]
	it.i++
	return m, true
}
