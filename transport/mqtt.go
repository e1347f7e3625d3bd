package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"

	"github.com/edgetele/sparkplug/log2"
)

// MqttOptions is everything the MQTT transport needs from process config.
type MqttOptions struct {
	BrokerURL      string
	ClientID       string
	Password       string
	TlsCaFile      string
	KeepaliveSec   int
	NetworkTimeout time.Duration
	LogDebug       bool
	Will           *Will
	OnMessage      OnMessage
}

type transportMqtt struct {
	log       *log2.Log
	onMessage OnMessage
	m         mqtt.Client
	mopt      *mqtt.ClientOptions
	timeout   time.Duration

	mu        sync.Mutex
	connected bool
	closed    bool
}

var _ Transporter = (*transportMqtt)(nil)

// NewMqtt builds a transport over eclipse paho. No network activity until
// Connect.
func NewMqtt(opt MqttOptions, log *log2.Log) (Transporter, error) {
	if opt.BrokerURL == "" {
		return nil, errors.NotValidf("mqtt broker url empty")
	}
	if opt.ClientID == "" {
		return nil, errors.NotValidf("mqtt client id empty")
	}
	self := &transportMqtt{
		log:       log,
		onMessage: opt.OnMessage,
	}

	mqttLog := log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if opt.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	networkTimeout := opt.NetworkTimeout
	if networkTimeout < 1*time.Second {
		networkTimeout = DefaultNetworkTimeout
	}
	self.timeout = networkTimeout
	connectTimeout := networkTimeout * 3
	keepalive := time.Duration(opt.KeepaliveSec) * time.Second
	if keepalive == 0 {
		keepalive = networkTimeout / 2
	}

	credFun := func() (string, string) {
		return opt.ClientID, opt.Password
	}
	defaultHandler := func(_ mqtt.Client, msg mqtt.Message) {
		self.dispatch(msg)
	}

	tlsconf := new(tls.Config)
	if opt.TlsCaFile != "" {
		tlsconf.RootCAs = x509.NewCertPool()
		cabytes, err := ioutil.ReadFile(opt.TlsCaFile)
		if err != nil {
			return nil, errors.Annotate(err, "mqtt tls ca")
		}
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return nil, errors.NotValidf("mqtt tls ca file %s: no certificates", opt.TlsCaFile)
		}
	}

	self.mopt = mqtt.NewClientOptions().
		AddBroker(opt.BrokerURL).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(opt.ClientID).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetDefaultPublishHandler(defaultHandler).
		SetKeepAlive(keepalive).
		SetMaxReconnectInterval(connectTimeout).
		SetOrderMatters(true).
		SetPingTimeout(networkTimeout).
		SetTLSConfig(tlsconf).
		SetWriteTimeout(networkTimeout)
	if opt.Will != nil {
		self.mopt = self.mopt.SetBinaryWill(opt.Will.Topic, opt.Will.Payload, 1, opt.Will.Retained)
	}
	self.m = mqtt.NewClient(self.mopt)
	return self, nil
}

func (self *transportMqtt) Connect(ctx context.Context) error {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return errors.Errorf("mqtt transport closed")
	}
	if self.connected {
		self.mu.Unlock()
		return nil
	}
	self.mu.Unlock()

	t := self.m.Connect()
	if err := self.tokenWaitCtx(ctx, t, "connect"); err != nil {
		return err
	}
	self.mu.Lock()
	self.connected = true
	self.mu.Unlock()
	return nil
}

// Disconnect is idempotent. Blocks until paho stops dispatching inbound
// messages, so no OnMessage runs after return.
func (self *transportMqtt) Disconnect() {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return
	}
	self.closed = true
	self.connected = false
	self.mu.Unlock()

	self.m.Disconnect(uint(self.timeout / time.Millisecond))
}

func (self *transportMqtt) Send(topic string, payload []byte, retained bool) error {
	t := self.m.Publish(topic, 1, retained, payload)
	return self.tokenWait(t, "publish:"+topic)
}

func (self *transportMqtt) Subscribe(filter string) error {
	t := self.m.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		self.dispatch(msg)
	})
	return self.tokenWait(t, "subscribe:"+filter)
}

func (self *transportMqtt) dispatch(msg mqtt.Message) {
	self.mu.Lock()
	closed := self.closed
	self.mu.Unlock()
	if closed || self.onMessage == nil {
		return
	}
	self.onMessage(msg.Topic(), msg.Payload())
	msg.Ack()
}

func (self *transportMqtt) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.timeout) {
		err := errors.Timeoutf("mqtt %s", tag)
		self.log.Errorf("transport: %s", err.Error())
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		self.log.Errorf("transport: MQTT %s", err.Error())
		return err
	}
	return nil
}

func (self *transportMqtt) tokenWaitCtx(ctx context.Context, t mqtt.Token, tag string) error {
	done := make(chan error, 1)
	go func() { done <- self.tokenWait(t, tag) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), tag)
	}
}
