/*
Copyright (c) The AWDL-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds the on-disk/CLI-overridable Config for the awdld
// daemon, following the same ReadConfig/PrepareConfig shape
// ptp/sptp/client.Config uses: a struct with yaml tags, a set of defaults,
// and a merge step that lets CLI flags win over whatever the file says.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/openwifid/awdl/frame"
)

// Supported fixed channels (the three opclass channels this implementation
// builds sequences out of).
const (
	Channel6   = 6
	Channel44  = 44
	Channel149 = 149
)

// Config is the full set of options for one awdld run.
type Config struct {
	Interface string `yaml:"interface"`
	Name      string `yaml:"name"`
	DevClass  uint8  `yaml:"dev_class"`
	Channel   uint8  `yaml:"channel"`
	AppendFCS bool   `yaml:"append_fcs"`

	PeerTimeout   time.Duration `yaml:"peer_timeout"`
	CleanInterval time.Duration `yaml:"clean_interval"`
	McastQueueCap int           `yaml:"mcast_queue_cap"`

	FilterRSSI    bool  `yaml:"filter_rssi"`
	RSSIThreshold int8  `yaml:"rssi_threshold"`
	RSSIGrace     int8  `yaml:"rssi_grace"`

	MetricsListenAddr  string `yaml:"metrics_listen_addr"`
	DumpPCAPPath       string `yaml:"dump_pcap_path"`
	MinProtocolVersion string `yaml:"min_protocol_version"`

	Verbose    bool `yaml:"verbose"`
	Daemonize  bool `yaml:"daemonize"`
}

// DefaultConfig returns a Config initialized with default values, mirroring
// client.DefaultConfig's role for sptp.
func DefaultConfig() *Config {
	return &Config{
		Interface:          "",
		Name:               "",
		DevClass:           1,
		Channel:            Channel6,
		AppendFCS:          false,
		PeerTimeout:        2 * time.Second,
		CleanInterval:      time.Second,
		McastQueueCap:      16,
		FilterRSSI:         false,
		RSSIThreshold:      -65,
		RSSIGrace:          -5,
		MetricsListenAddr:  ":9453",
		MinProtocolVersion: ">=1.0",
	}
}

// Validate reports whether c is internally consistent.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface must be specified")
	}
	switch c.Channel {
	case Channel6, Channel44, Channel149:
	default:
		return fmt.Errorf("channel must be one of {%d, %d, %d}, got %d", Channel6, Channel44, Channel149, c.Channel)
	}
	if c.PeerTimeout <= 0 {
		return fmt.Errorf("peer_timeout must be greater than zero")
	}
	if c.CleanInterval <= 0 {
		return fmt.Errorf("clean_interval must be greater than zero")
	}
	if c.McastQueueCap <= 0 {
		return fmt.Errorf("mcast_queue_cap must be greater than zero")
	}
	if len(c.Name) > 63 {
		return fmt.Errorf("name must be 63 bytes or fewer")
	}

	constraint, err := version.NewConstraint(c.MinProtocolVersion)
	if err != nil {
		return fmt.Errorf("invalid min_protocol_version %q: %w", c.MinProtocolVersion, err)
	}
	major, minor := frame.UnpackVersion(frame.VersionCompat)
	advertised, err := version.NewVersion(fmt.Sprintf("%d.%d", major, minor))
	if err != nil {
		return fmt.Errorf("invalid advertised protocol version: %w", err)
	}
	if !constraint.Check(advertised) {
		return fmt.Errorf("advertised protocol version %s does not satisfy min_protocol_version %q", advertised, c.MinProtocolVersion)
	}
	return nil
}

// ReadConfig reads a Config from a YAML file at path, starting from
// defaults so unspecified fields keep their default value.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Overrides carries the CLI-flag values PrepareConfig may apply on top of
// the file (or default) config. Set only holds the flags the user actually
// passed, the same setFlags map sptp's PrepareConfig takes.
type Overrides struct {
	Interface string
	Name      string
	Channel   uint8
	DumpPCAP  string
	Verbose   bool
	Daemonize bool
	Set       map[string]bool
}

// PrepareConfig builds the final Config from an optional on-disk file and
// CLI overrides, in the same load-then-warn-then-override shape as
// cmd/sptp/main.go's prepareConfig, then validates the result.
func PrepareConfig(cfgPath string, ov Overrides) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}

	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}

	if ov.Set["interface"] {
		warn("interface")
		cfg.Interface = ov.Interface
	}
	if ov.Set["name"] {
		warn("name")
		cfg.Name = ov.Name
	}
	if ov.Set["channel"] {
		warn("channel")
		cfg.Channel = ov.Channel
	}
	if ov.Set["dump"] {
		warn("dump_pcap_path")
		cfg.DumpPCAPPath = ov.DumpPCAP
	}
	if ov.Set["verbose"] {
		cfg.Verbose = ov.Verbose
	}
	if ov.Set["daemonize"] {
		cfg.Daemonize = ov.Daemonize
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
