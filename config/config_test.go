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

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig("/does/not/exist")
	require.Error(t, err)
}

func TestReadConfigDefaults(t *testing.T) {
	f, err := os.CreateTemp("", "awdld")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	cfg, err := ReadConfig(f.Name())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestReadConfigOverridesDefaults(t *testing.T) {
	f, err := os.CreateTemp("", "awdld")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.Write([]byte(`interface: wlan0
name: myhost
channel: 44
peer_timeout: 5s
`))
	require.NoError(t, err)

	cfg, err := ReadConfig(f.Name())
	require.NoError(t, err)
	require.Equal(t, "wlan0", cfg.Interface)
	require.Equal(t, "myhost", cfg.Name)
	require.Equal(t, uint8(Channel44), cfg.Channel)
	require.Equal(t, 5*time.Second, cfg.PeerTimeout)
	// Fields absent from the file keep their default.
	require.Equal(t, DefaultConfig().MetricsListenAddr, cfg.MetricsListenAddr)
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults with interface", mutate: func(c *Config) { c.Interface = "wlan0" }, wantErr: false},
		{name: "no interface", mutate: func(c *Config) { c.Interface = "" }, wantErr: true},
		{name: "bad channel", mutate: func(c *Config) { c.Interface = "wlan0"; c.Channel = 11 }, wantErr: true},
		{name: "zero peer timeout", mutate: func(c *Config) { c.Interface = "wlan0"; c.PeerTimeout = 0 }, wantErr: true},
		{name: "zero clean interval", mutate: func(c *Config) { c.Interface = "wlan0"; c.CleanInterval = 0 }, wantErr: true},
		{name: "zero mcast queue cap", mutate: func(c *Config) { c.Interface = "wlan0"; c.McastQueueCap = 0 }, wantErr: true},
		{name: "bad min protocol version", mutate: func(c *Config) { c.Interface = "wlan0"; c.MinProtocolVersion = ">=9.0" }, wantErr: true},
		{name: "unparseable min protocol version", mutate: func(c *Config) { c.Interface = "wlan0"; c.MinProtocolVersion = "not a constraint" }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPrepareConfigAppliesOnlySetOverrides(t *testing.T) {
	f, err := os.CreateTemp("", "awdld")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	_, err = f.Write([]byte(`interface: wlan0
name: fromfile
channel: 44
`))
	require.NoError(t, err)

	ov := Overrides{
		Name:    "fromflag",
		Channel: Channel149,
		Set: map[string]bool{
			"name": true,
			// channel intentionally not marked as set: the file's value
			// must survive.
		},
	}
	cfg, err := PrepareConfig(f.Name(), ov)
	require.NoError(t, err)
	require.Equal(t, "wlan0", cfg.Interface)
	require.Equal(t, "fromflag", cfg.Name)
	require.Equal(t, uint8(Channel44), cfg.Channel)
}

func TestPrepareConfigNoFileUsesDefaultsPlusOverrides(t *testing.T) {
	ov := Overrides{
		Interface: "wlan1",
		Channel:   Channel149,
		Set: map[string]bool{
			"interface": true,
			"channel":   true,
		},
	}
	cfg, err := PrepareConfig("", ov)
	require.NoError(t, err)
	require.Equal(t, "wlan1", cfg.Interface)
	require.Equal(t, uint8(Channel149), cfg.Channel)
	require.Equal(t, DefaultConfig().PeerTimeout, cfg.PeerTimeout)
}

func TestPrepareConfigInvalidFileErrors(t *testing.T) {
	_, err := PrepareConfig("/does/not/exist", Overrides{Set: map[string]bool{}})
	require.Error(t, err)
}

func TestPrepareConfigValidatesResult(t *testing.T) {
	ov := Overrides{
		Set: map[string]bool{},
	}
	// Interface is empty by default and never overridden, so validation
	// must fail.
	_, err := PrepareConfig("", ov)
	require.Error(t, err)
}
