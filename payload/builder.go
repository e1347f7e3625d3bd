package payload

import (
	"strings"

	"github.com/juju/errors"
)

// DefaultMaxPayloadBytes bounds the serialization working buffer. Caps
// memory per message; not a protocol limit.
const DefaultMaxPayloadBytes = 64 * 1024

// Builder accumulates metrics in insertion order plus the optional
// envelope fields. Append-only: metrics are never removed or reordered.
type Builder struct {
	metrics  []Metric
	ts       uint64
	hasTs    bool
	seq      uint64
	hasSeq   bool
	uuid     string
	hasUUID  bool
	maxBytes int
}

func NewBuilder() *Builder {
	return &Builder{maxBytes: DefaultMaxPayloadBytes}
}

// SetMaxBytes overrides the serialization buffer bound, 0 restores default.
func (b *Builder) SetMaxBytes(n int) *Builder {
	if n == 0 {
		n = DefaultMaxPayloadBytes
	}
	b.maxBytes = n
	return b
}

func (b *Builder) SetTimestamp(ms uint64) *Builder {
	b.ts = ms
	b.hasTs = true
	return b
}

// SetSeq stamps the envelope sequence field. The protocol bounds seq to
// [0,255]; the uint8 argument makes overflow unrepresentable.
func (b *Builder) SetSeq(seq uint8) *Builder {
	b.seq = uint64(seq)
	b.hasSeq = true
	return b
}

func (b *Builder) SetUUID(uuid string) error {
	if strings.IndexByte(uuid, 0) >= 0 {
		return &UnrepresentableStringError{What: "uuid"}
	}
	b.uuid = uuid
	b.hasUUID = true
	return nil
}

// Add appends a name-only metric.
func (b *Builder) Add(name string, v Value) error {
	return b.AddMetric(NamedMetric(name, v))
}

// AddWithAlias appends a metric carrying both name and alias; this is the
// only form valid in birth messages, where the name-alias binding is
// established.
func (b *Builder) AddWithAlias(name string, alias Alias, v Value) error {
	return b.AddMetric(BirthMetric(name, alias, v))
}

// AddByAlias appends an alias-only metric. Never fails for numeric and
// boolean values; string values with embedded NUL are rejected.
func (b *Builder) AddByAlias(alias Alias, v Value) error {
	return b.AddMetric(AliasMetric(alias, v))
}

// AddMetric validates and appends an arbitrary metric.
func (b *Builder) AddMetric(m Metric) error {
	if !m.HasName && !m.HasAlias {
		return errors.NotValidf("metric with neither name nor alias")
	}
	if m.HasName && strings.IndexByte(m.Name, 0) >= 0 {
		return &UnrepresentableStringError{What: "metric name"}
	}
	if s, ok := m.Value.String(); ok && strings.IndexByte(s, 0) >= 0 {
		return &UnrepresentableStringError{What: "string value"}
	}
	b.metrics = append(b.metrics, m)
	return nil
}

func (b *Builder) MetricCount() int { return len(b.metrics) }

// Serialize encodes the payload to wire bytes. Fails with CapacityError
// when the result exceeds the configured bound.
func (b *Builder) Serialize() ([]byte, error) {
	raw, err := encodePayload(b)
	if err != nil {
		return nil, err
	}
	if len(raw) > b.maxBytes {
		return nil, &CapacityError{Size: len(raw), Limit: b.maxBytes}
	}
	return raw, nil
}
