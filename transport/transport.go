// Package transport carries opaque (topic, payload) messages between the
// protocol layer and an MQTT broker. The protocol packages never see paho
// types; tests use the channel-backed Mock.
package transport

import (
	"context"
	"time"
)

const DefaultNetworkTimeout = 30 * time.Second

// OnMessage receives every inbound message matching a subscribed filter.
// Called from the transport's receive path; implementations must not call
// back into the transport's Disconnect.
type OnMessage func(topic string, payload []byte)

// Will is the message the broker publishes on ungraceful disconnect.
// Retained follows the message class: birth/death certificates are
// retained, data is not.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Transporter transport contract:
// - Connect fails only on timeout or broker refusal; auto-reconnect after
//   a successful first connect is the transport's problem, not the caller's
// - Send delivers within the network timeout or returns an error
// - Disconnect is idempotent; no OnMessage callback is dispatched after
//   Disconnect returns
// - assume worst network quality: loss, reorder, duplicates
type Transporter interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(topic string, payload []byte, retained bool) error
	Subscribe(filter string) error
}
