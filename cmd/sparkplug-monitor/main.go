// sparkplug-monitor is a demo host application: it announces itself on the
// STATE topic, subscribes to a whole group and tracks every edge node's
// liveness, requesting rebirths from nodes that publish data without a
// birth certificate.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/edgetele/sparkplug/config"
	"github.com/edgetele/sparkplug/helpers"
	"github.com/edgetele/sparkplug/log2"
	"github.com/edgetele/sparkplug/publisher"
	"github.com/edgetele/sparkplug/topic"
	"github.com/edgetele/sparkplug/tracker"
	"github.com/edgetele/sparkplug/transport"
)

func main() {
	flagConfig := flag.String("config", "sparkplug-monitor.hcl", "")
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if sdnotify(log, "start") {
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	cfg := config.MustReadConfigFile(*flagConfig, log)
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	hostID := cfg.Sparkplug.HostID
	if hostID == "" {
		log.Fatal("config: sparkplug host_id is required")
	}
	clientID := cfg.Mqtt.ClientID
	if clientID == "" {
		clientID = hostID
	}

	a := alive.NewAlive()

	var tp transport.Transporter
	tr := tracker.New(tracker.Options{
		Log: log,
		SendCommand: func(topicStr string, raw []byte) error {
			return tp.Send(topicStr, raw, false)
		},
		OnSequenceGap: func(g tracker.SequenceGap) {
			log.Errorf("monitor: data loss %s/%s expected=%d got=%d", g.Group, g.EdgeNode, g.Expected, g.Got)
		},
		WakeBackoffBase: helpers.IntSecondDefault(cfg.Monitor.WakeBackoffBaseSec, tracker.DefaultWakeBackoffBase),
		WakeBackoffCap:  helpers.IntSecondDefault(cfg.Monitor.WakeBackoffCapSec, tracker.DefaultWakeBackoffCap),
	})

	will := publisher.StateWill(hostID)
	var err error
	tp, err = transport.NewMqtt(transport.MqttOptions{
		BrokerURL:      cfg.Mqtt.Broker,
		ClientID:       clientID,
		Password:       cfg.Mqtt.Password,
		TlsCaFile:      cfg.Mqtt.TlsCaFile,
		KeepaliveSec:   cfg.Mqtt.KeepaliveSec,
		NetworkTimeout: cfg.NetworkTimeout(),
		LogDebug:       cfg.Mqtt.LogDebug,
		Will:           &will,
		OnMessage:      tr.Handle,
	}, log)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.NetworkTimeout()*3)
	err = tp.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer tp.Disconnect()

	if err = tp.Subscribe(topic.GroupFilter(cfg.Sparkplug.Group)); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if err = publisher.StateBirth(tp, hostID); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	a.Add(1)
	go tr.Run(a, cfg.SweepInterval())

	sdnotify(log, daemon.SdNotifyReady)
	log.Infof("monitor %s watching group %s", hostID, cfg.Sparkplug.Group)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.Stop()
	}()

	statusLoop(a, log, tr, helpers.IntSecondDefault(cfg.Monitor.StatusIntervalSec, 30*time.Second))

	if err = publisher.StateDeath(tp, hostID); err != nil {
		log.Errorf("state death: %v", err)
	}
	a.Wait()
}

func statusLoop(a *alive.Alive, log *log2.Log, tr *tracker.Tracker, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	stopCh := a.StopChan()
	for {
		select {
		case <-stopCh:
			return
		case <-tick.C:
			nodes := tr.Nodes()
			sort.Slice(nodes, func(i, j int) bool {
				if nodes[i].Group != nodes[j].Group {
					return nodes[i].Group < nodes[j].Group
				}
				return nodes[i].EdgeNode < nodes[j].EdgeNode
			})
			log.Infof("monitor: tracking %d nodes", len(nodes))
			for _, ns := range nodes {
				log.Infof("monitor: %s", ns.String())
			}
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
