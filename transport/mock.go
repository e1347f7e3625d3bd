package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

// MockMessage is one outbound message captured by the Mock.
type MockMessage struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Mock is a channel-backed Transporter for package tests. Outbound messages
// land on Out; Inject feeds the OnMessage callback as if the broker
// delivered a message.
type Mock struct {
	t              testing.TB
	onMessage      OnMessage
	networkTimeout time.Duration

	Out chan MockMessage

	mu          sync.Mutex
	connected   bool
	closed      bool
	subscribed  []string
	FailSend    bool // when set, Send returns mockSendError without delivery
	FailConnect bool
}

type mockError string

func (e mockError) Error() string { return string(e) }

const (
	errMockSend    = mockError("mock send failure")
	errMockConnect = mockError("mock connect failure")
	errMockClosed  = mockError("mock transport closed")
)

var _ Transporter = (*Mock)(nil)

func NewMock(t testing.TB, onMessage OnMessage, outBuffer int) *Mock {
	return &Mock{
		t:              t,
		onMessage:      onMessage,
		networkTimeout: 5 * time.Second,
		Out:            make(chan MockMessage, outBuffer),
	}
}

func (self *Mock) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.FailConnect {
		return errMockConnect
	}
	self.connected = true
	return nil
}

func (self *Mock) Disconnect() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.closed = true
	self.connected = false
}

func (self *Mock) Send(topic string, payload []byte, retained bool) error {
	self.mu.Lock()
	fail := self.FailSend || self.closed
	self.mu.Unlock()
	if fail {
		self.t.Logf("mock send refused topic=%s", topic)
		return errMockSend
	}
	select {
	case self.Out <- MockMessage{Topic: topic, Payload: payload, Retained: retained}:
		self.t.Logf("mock delivered topic=%s payload=%x", topic, payload)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout topic=%s", topic)
		return errMockSend
	}
	return nil
}

func (self *Mock) Subscribe(filter string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return errMockClosed
	}
	self.subscribed = append(self.subscribed, filter)
	return nil
}

func (self *Mock) Subscriptions() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.subscribed...)
}

// Inject delivers an inbound message to the registered callback,
// synchronously, the way a broker delivery would.
func (self *Mock) Inject(topic string, payload []byte) {
	self.mu.Lock()
	closed := self.closed
	self.mu.Unlock()
	if closed || self.onMessage == nil {
		return
	}
	self.onMessage(topic, payload)
}

// TakeOne pops the next outbound message or fails the test after the
// network timeout.
func (self *Mock) TakeOne() MockMessage {
	select {
	case msg := <-self.Out:
		return msg
	case <-time.After(self.networkTimeout):
		self.t.Fatalf("mock: no outbound message within %v", self.networkTimeout)
		return MockMessage{}
	}
}
