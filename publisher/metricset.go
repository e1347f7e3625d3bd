// Package publisher implements the edge-node side of the protocol: birth
// and death certificates, report-by-exception data, device lifecycles and
// command publishing. One Publisher is one edge node identity.
package publisher

import (
	"sync"

	"github.com/juju/errors"

	"github.com/edgetele/sparkplug/payload"
)

// BdSeqAlias is reserved for the birth/death session counter metric; Define
// rejects it.
const BdSeqAlias payload.Alias = 0

// BdSeqMetricName is the conventional name of the session counter metric in
// birth and death certificates.
const BdSeqMetricName = "bdSeq"

type metricDef struct {
	name  string
	alias payload.Alias
	value payload.Value
	dirty bool
}

// MetricSet is an ordered collection of metric definitions with
// report-by-exception dirty tracking. Definition order is preserved in
// every birth certificate. Safe for concurrent use: Set may run while
// the owning Publisher is building or sending a message; a change that
// lands after the message snapshot stays marked for the next one.
type MetricSet struct {
	mu      sync.Mutex
	defs    []metricDef
	byName  map[string]int
	byAlias map[payload.Alias]int
}

func NewMetricSet() *MetricSet {
	return &MetricSet{
		byName:  make(map[string]int),
		byAlias: make(map[payload.Alias]int),
	}
}

// Define registers a metric with its birth alias and initial value. The
// initial value travels in the birth certificate, not in data messages.
func (ms *MetricSet) Define(name string, alias payload.Alias, initial payload.Value) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if name == "" {
		return errors.NotValidf("metric name empty")
	}
	if alias == BdSeqAlias {
		return errors.NotValidf("alias 0 is reserved for %s", BdSeqMetricName)
	}
	if _, ok := ms.byName[name]; ok {
		return errors.AlreadyExistsf("metric %q", name)
	}
	if _, ok := ms.byAlias[alias]; ok {
		return errors.AlreadyExistsf("alias %d", alias)
	}
	ms.byName[name] = len(ms.defs)
	ms.byAlias[alias] = len(ms.defs)
	ms.defs = append(ms.defs, metricDef{name: name, alias: alias, value: initial})
	return nil
}

// Set updates a metric value. Marks the metric dirty only when the value
// actually changed; unchanged sets are free.
func (ms *MetricSet) Set(name string, v payload.Value) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	i, ok := ms.byName[name]
	if !ok {
		return errors.NotFoundf("metric %q", name)
	}
	if !ms.defs[i].value.Equal(v) {
		ms.defs[i].value = v
		ms.defs[i].dirty = true
	}
	return nil
}

func (ms *MetricSet) Get(name string) (payload.Value, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	i, ok := ms.byName[name]
	if !ok {
		return payload.Value{}, false
	}
	return ms.defs[i].value, true
}

func (ms *MetricSet) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.defs)
}

// appendBirth adds every defined metric, name plus alias, to a birth
// payload. The snapshot clears dirty flags for the values it captured;
// on a failed send the caller restores them with markDirty.
func (ms *MetricSet) appendBirth(b *payload.Builder) ([]int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for i := range ms.defs {
		d := &ms.defs[i]
		if err := b.AddWithAlias(d.name, d.alias, d.value); err != nil {
			return nil, errors.Annotatef(err, "metric %q", d.name)
		}
	}
	var cleared []int
	for i := range ms.defs {
		if ms.defs[i].dirty {
			ms.defs[i].dirty = false
			cleared = append(cleared, i)
		}
	}
	return cleared, nil
}

// appendDirty adds alias-only metrics for every changed value and clears
// their flags; the changes are now captured in the builder. On a failed
// send the caller restores the flags with markDirty.
func (ms *MetricSet) appendDirty(b *payload.Builder) ([]int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var added []int
	for i := range ms.defs {
		d := &ms.defs[i]
		if !d.dirty {
			continue
		}
		if err := b.AddByAlias(d.alias, d.value); err != nil {
			return nil, errors.Annotatef(err, "metric %q", d.name)
		}
		added = append(added, i)
	}
	for _, i := range added {
		ms.defs[i].dirty = false
	}
	return added, nil
}

// markDirty restores dirty flags after a failed send so the captured
// changes are retried by the next data message.
func (ms *MetricSet) markDirty(idx []int) {
	ms.mu.Lock()
	for _, i := range idx {
		ms.defs[i].dirty = true
	}
	ms.mu.Unlock()
}
