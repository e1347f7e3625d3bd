// sparkplug-node is a demo edge node: publishes a birth certificate,
// reports simulated metrics by exception on a scan interval and answers
// rebirth and scan rate commands.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/edgetele/sparkplug/config"
	"github.com/edgetele/sparkplug/helpers"
	"github.com/edgetele/sparkplug/log2"
	"github.com/edgetele/sparkplug/payload"
	"github.com/edgetele/sparkplug/publisher"
	"github.com/edgetele/sparkplug/topic"
	"github.com/edgetele/sparkplug/transport"
)

func main() {
	flagConfig := flag.String("config", "sparkplug-node.hcl", "")
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if sdnotify(log, "start") {
		// under systemd the journal stamps time
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	cfg := config.MustReadConfigFile(*flagConfig, log)
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	if cfg.Sparkplug.EdgeNode == "" {
		log.Fatal("config: sparkplug edge_node is required")
	}
	clientID := cfg.Mqtt.ClientID
	if clientID == "" {
		clientID = cfg.Sparkplug.EdgeNode
	}

	a := alive.NewAlive()

	pub, err := publisher.New(nil, publisher.Options{
		Group:    cfg.Sparkplug.Group,
		EdgeNode: cfg.Sparkplug.EdgeNode,
		Log:      log,
	})
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if err = defineMetrics(pub); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	rebirthCh := make(chan struct{}, 1)
	scanRateCh := make(chan time.Duration, 1)
	onMessage := func(topicStr string, raw []byte) {
		handleCommand(log, rebirthCh, scanRateCh, topicStr, raw)
	}

	will, err := pub.WillMessage()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	tp, err := transport.NewMqtt(transport.MqttOptions{
		BrokerURL:      cfg.Mqtt.Broker,
		ClientID:       clientID,
		Password:       cfg.Mqtt.Password,
		TlsCaFile:      cfg.Mqtt.TlsCaFile,
		KeepaliveSec:   cfg.Mqtt.KeepaliveSec,
		NetworkTimeout: cfg.NetworkTimeout(),
		LogDebug:       cfg.Mqtt.LogDebug,
		Will:           &will,
		OnMessage:      onMessage,
	}, log)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	pub.SetTransport(tp)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.NetworkTimeout()*3)
	err = tp.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer tp.Disconnect()

	nt := topic.NodeTopic(cfg.Sparkplug.Group, topic.NCmd, cfg.Sparkplug.EdgeNode)
	if err = tp.Subscribe(nt.String()); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	connectBackoff := &helpers.Backoff{Min: 1 * time.Second, Max: cfg.NetworkTimeout(), K: 2}
	for !a.IsStopping() {
		if err = pub.Birth(); err == nil {
			break
		}
		log.Errorf("birth: %v", errors.ErrorStack(err))
		time.Sleep(connectBackoff.DelayBefore())
		connectBackoff.Failure()
	}

	sdnotify(log, daemon.SdNotifyReady)
	log.Infof("node %s/%s running", cfg.Sparkplug.Group, cfg.Sparkplug.EdgeNode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.Stop()
	}()

	scanLoop(a, log, pub, rebirthCh, scanRateCh, cfg.ScanInterval())

	if err = pub.Death(); err != nil {
		log.Errorf("death: %v", err)
	}
	a.Wait()
}

func defineMetrics(pub *publisher.Publisher) error {
	ms := pub.Metrics()
	if err := ms.Define("temperature", 1, payload.DoubleValue(20)); err != nil {
		return err
	}
	if err := ms.Define("uptime_sec", 2, payload.UInt64Value(0)); err != nil {
		return err
	}
	return pub.Device("Sensor01").Define("vibration", 1, payload.FloatValue(0))
}

func scanLoop(a *alive.Alive, log *log2.Log, pub *publisher.Publisher, rebirthCh chan struct{}, scanRateCh chan time.Duration, interval time.Duration) {
	start := time.Now()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	stopCh := a.StopChan()
	deviceBorn := false

	for {
		select {
		case <-stopCh:
			return
		case <-rebirthCh:
			if err := pub.Rebirth(); err != nil {
				log.Errorf("rebirth: %v", err)
				continue
			}
			deviceBorn = false
		case d := <-scanRateCh:
			tick.Reset(d)
		case now := <-tick.C:
			if !deviceBorn {
				if err := pub.DeviceBirth("Sensor01"); err != nil {
					log.Errorf("device birth: %v", err)
					continue
				}
				deviceBorn = true
			}
			elapsed := now.Sub(start).Seconds()
			ms := pub.Metrics()
			_ = ms.Set("temperature", payload.DoubleValue(20+5*math.Sin(elapsed/60)))
			_ = ms.Set("uptime_sec", payload.UInt64Value(uint64(elapsed)))
			if err := pub.Data(); err != nil {
				log.Errorf("data: %v", err)
			}
			_ = pub.Device("Sensor01").Set("vibration", payload.FloatValue(float32(math.Abs(math.Sin(elapsed)))))
			if err := pub.DeviceData("Sensor01"); err != nil {
				log.Errorf("device data: %v", err)
			}
		}
	}
}

func handleCommand(log *log2.Log, rebirthCh chan struct{}, scanRateCh chan time.Duration, topicStr string, raw []byte) {
	t, err := topic.Parse(topicStr)
	if err != nil || !t.Type.IsCommand() {
		return
	}
	p, err := payload.Parse(raw)
	if err != nil {
		log.Errorf("command parse: %v", err)
		return
	}
	if publisher.IsRebirthRequest(p) {
		log.Infof("rebirth requested")
		select {
		case rebirthCh <- struct{}{}:
		default:
		}
	}
	if d, ok := publisher.ScanRateCommand(p); ok {
		log.Infof("scan rate changed to %v", d)
		select {
		case scanRateCh <- d:
		default:
		}
	}
}

func sdnotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
