package payload

// Alias is a compact numeric substitute for a metric name, valid only
// within the scope of the most recent birth certificate.
type Alias uint64

// Metric is one named or aliased sample. A valid metric carries a name, an
// alias, or both; the builder enforces that at construction and the parser
// at decode.
type Metric struct {
	Name         string
	HasName      bool
	Alias        Alias
	HasAlias     bool
	Timestamp    uint64 // milliseconds since epoch
	HasTimestamp bool
	Value        Value
}

func (m Metric) DataType() DataType { return m.Value.Type() }

// NamedMetric builds a name-only metric (data messages, commands).
func NamedMetric(name string, v Value) Metric {
	return Metric{Name: name, HasName: true, Value: v}
}

// BirthMetric builds a metric carrying both name and alias, as every
// birth-published metric must.
func BirthMetric(name string, alias Alias, v Value) Metric {
	return Metric{Name: name, HasName: true, Alias: alias, HasAlias: true, Value: v}
}

// AliasMetric builds an alias-only metric (bandwidth-efficient data).
func AliasMetric(alias Alias, v Value) Metric {
	return Metric{Alias: alias, HasAlias: true, Value: v}
}

// WithTimestamp returns a copy carrying a per-metric timestamp.
func (m Metric) WithTimestamp(ms uint64) Metric {
	m.Timestamp = ms
	m.HasTimestamp = true
	return m
}
