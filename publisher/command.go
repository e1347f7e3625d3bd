package publisher

import (
	"time"

	"github.com/juju/errors"

	"github.com/edgetele/sparkplug/payload"
	"github.com/edgetele/sparkplug/topic"
	"github.com/edgetele/sparkplug/transport"
)

// RebirthMetricName is the write-target an edge node watches for rebirth
// requests.
const RebirthMetricName = "Node Control/Rebirth"

// ScanRateMetricName is the write-target an edge node watches for scan
// interval changes; the value is the new interval in milliseconds.
const ScanRateMetricName = "Node Control/Scan Rate"

// RebirthRequest builds the NCMD payload asking a node to republish its
// birth certificate.
func RebirthRequest(ts uint64) ([]byte, error) {
	b := payload.NewBuilder()
	b.SetTimestamp(ts)
	if err := b.Add(RebirthMetricName, payload.BoolValue(true)); err != nil {
		return nil, errors.Trace(err)
	}
	return b.Serialize()
}

// IsRebirthRequest reports whether a decoded NCMD payload asks for a
// rebirth.
func IsRebirthRequest(p *payload.Payload) bool {
	m, ok := p.MetricByName(RebirthMetricName)
	if !ok {
		return false
	}
	v, ok := m.Value.Bool()
	return ok && v
}

// ScanRateRequest builds the NCMD payload asking a node to change its
// scan interval.
func ScanRateRequest(ts uint64, interval time.Duration) ([]byte, error) {
	b := payload.NewBuilder()
	b.SetTimestamp(ts)
	if err := b.Add(ScanRateMetricName, payload.Int64Value(interval.Milliseconds())); err != nil {
		return nil, errors.Trace(err)
	}
	return b.Serialize()
}

// ScanRateCommand extracts the requested scan interval from a decoded
// command payload. Non-positive rates are rejected.
func ScanRateCommand(p *payload.Payload) (time.Duration, bool) {
	m, ok := p.MetricByName(ScanRateMetricName)
	if !ok {
		return 0, false
	}
	ms, ok := m.Value.Int64()
	if !ok || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// NodeCommand publishes NCMD to another edge node. Commands are outside
// this publisher's lifecycle: no seq, no ordering requirement.
func (p *Publisher) NodeCommand(group, edgeNode string, metrics ...payload.Metric) error {
	raw, err := p.commandPayload(metrics)
	if err != nil {
		return errors.Trace(err)
	}
	t := topic.NodeTopic(group, topic.NCmd, edgeNode)
	return errors.Annotate(p.tp.Send(t.String(), raw, false), "node command send")
}

// DeviceCommand publishes DCMD to a device under another edge node.
func (p *Publisher) DeviceCommand(group, edgeNode, device string, metrics ...payload.Metric) error {
	raw, err := p.commandPayload(metrics)
	if err != nil {
		return errors.Trace(err)
	}
	t := topic.DeviceTopic(group, topic.DCmd, edgeNode, device)
	return errors.Annotate(p.tp.Send(t.String(), raw, false), "device command send")
}

func (p *Publisher) commandPayload(metrics []payload.Metric) ([]byte, error) {
	b := payload.NewBuilder()
	b.SetTimestamp(p.now())
	for _, m := range metrics {
		if err := b.AddMetric(m); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return b.Serialize()
}

// StateBirth publishes the retained online announcement of a host
// application. STATE payloads are plain text, not protobuf.
func StateBirth(tp transport.Transporter, hostID string) error {
	t := topic.StateTopic(hostID)
	return errors.Annotate(tp.Send(t.String(), []byte("ONLINE"), true), "state birth send")
}

// StateDeath publishes the retained offline announcement; also the usual
// last-will payload for host applications.
func StateDeath(tp transport.Transporter, hostID string) error {
	t := topic.StateTopic(hostID)
	return errors.Annotate(tp.Send(t.String(), []byte("OFFLINE"), true), "state death send")
}

// StateWill builds the host application's last-will message.
func StateWill(hostID string) transport.Will {
	t := topic.StateTopic(hostID)
	return transport.Will{Topic: t.String(), Payload: []byte("OFFLINE"), Retained: true}
}
