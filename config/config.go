// Package config reads HCL process configuration for the node and monitor
// programs.
package config

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/edgetele/sparkplug/helpers"
	"github.com/edgetele/sparkplug/log2"
)

const (
	defaultNetworkTimeout = 30 * time.Second
	defaultScanInterval   = 5 * time.Second
	defaultSweepInterval  = 1 * time.Second
)

type Config struct {
	Mqtt struct {
		Broker            string `hcl:"broker"`
		ClientID          string `hcl:"client_id"`
		Password          string `hcl:"password"`
		TlsCaFile         string `hcl:"tls_ca_file"`
		KeepaliveSec      int    `hcl:"keepalive_sec"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		LogDebug          bool   `hcl:"log_debug"`
	} `hcl:"mqtt"`

	Sparkplug struct {
		Group    string `hcl:"group"`
		EdgeNode string `hcl:"edge_node"`
		HostID   string `hcl:"host_id"`
	} `hcl:"sparkplug"`

	Node struct {
		ScanIntervalSec int `hcl:"scan_interval_sec"`
	} `hcl:"node"`

	Monitor struct {
		SweepIntervalSec   int `hcl:"sweep_interval_sec"`
		StatusIntervalSec  int `hcl:"status_interval_sec"`
		WakeBackoffBaseSec int `hcl:"wake_backoff_base_sec"`
		WakeBackoffCapSec  int `hcl:"wake_backoff_cap_sec"`
	} `hcl:"monitor"`

	LogDebug bool `hcl:"log_debug"`
}

func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Mqtt.NetworkTimeoutSec, defaultNetworkTimeout)
}

func (c *Config) ScanInterval() time.Duration {
	return helpers.IntSecondDefault(c.Node.ScanIntervalSec, defaultScanInterval)
}

func (c *Config) SweepInterval() time.Duration {
	return helpers.IntSecondDefault(c.Monitor.SweepIntervalSec, defaultSweepInterval)
}

func (c *Config) validate() error {
	if c.Mqtt.Broker == "" {
		return errors.NotValidf("config: mqtt broker empty")
	}
	if c.Sparkplug.Group == "" {
		return errors.NotValidf("config: sparkplug group empty")
	}
	return nil
}

func ReadConfig(r io.Reader) (*Config, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	c := new(Config)
	if err = hcl.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err = c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func ReadConfigFile(path string, log *log2.Log) (*Config, error) {
	if pathAbs, err := filepath.Abs(path); err != nil {
		log.Errorf("filepath.Abs(%s) error=%v", path, err)
	} else {
		path = pathAbs
	}
	log.Debugf("reading config file %s", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadConfig(f)
}

func MustReadConfigFile(path string, log *log2.Log) *Config {
	c, err := ReadConfigFile(path, log)
	if err != nil {
		log.Fatal(err)
	}
	return c
}
