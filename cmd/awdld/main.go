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

// Command awdld runs the AWDL daemon: it brings up a monitor-mode WLAN
// capture and a host-facing TAP device, drives the protocol state machine
// over them, and serves Prometheus metrics and a peer-table status report.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	sysd "github.com/coreos/go-systemd/daemon"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/openwifid/awdl/channel"
	"github.com/openwifid/awdl/config"
	awdldaemon "github.com/openwifid/awdl/daemon"
	"github.com/openwifid/awdl/frame"
	"github.com/openwifid/awdl/iface"
	"github.com/openwifid/awdl/peer"
	"github.com/openwifid/awdl/stats"
	"github.com/openwifid/awdl/wire"
)

var (
	flagInterface string
	flagHostTAP   string
	flagChannel   uint8
	flagDumpPCAP  string
	flagVerbose   bool
	flagConfig    string
	flagName      string
	flagDaemonize bool
)

var rootCmd = &cobra.Command{
	Use:   "awdld",
	Short: "AWDL core protocol daemon",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagInterface, "interface", "i", "", "monitor-mode WLAN interface to capture/inject on")
	flags.StringVarP(&flagHostTAP, "host-tap", "H", "awdl0", "host-facing TAP interface name")
	flags.Uint8VarP(&flagChannel, "channel", "c", 0, "fixed operating channel (6, 44 or 149)")
	flags.StringVarP(&flagDumpPCAP, "dump", "d", "", "pcap dump path, stored in the config as dump_pcap_path; no frames are written to it")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
	flags.StringVarP(&flagConfig, "config", "f", "", "path to a YAML config file")
	flags.StringVarP(&flagName, "name", "N", "", "node name advertised to peers")
	flags.BoolVarP(&flagDaemonize, "daemonize", "D", false, "notify systemd (NOTIFY_SOCKET) once running")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func channelToOpclass(c uint8) channel.Chan {
	switch c {
	case config.Channel44:
		return channel.Opclass44
	case config.Channel149:
		return channel.Opclass149
	default:
		return channel.Opclass6
	}
}

func selfAddr(ifaceName string) (wire.EtherAddr, error) {
	var addr wire.EtherAddr
	netIface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return addr, fmt.Errorf("resolving hardware address of %s: %w", ifaceName, err)
	}
	if len(netIface.HardwareAddr) != len(addr) {
		return addr, fmt.Errorf("%s has no 6-byte hardware address", ifaceName)
	}
	copy(addr[:], netIface.HardwareAddr)
	return addr, nil
}

// notifyReady tells systemd the daemon finished starting, the same
// SdNotify(false, SdNotifyReady) call facebook-time's c4u makes.
func notifyReady() error {
	supported, err := sysd.SdNotify(false, sysd.SdNotifyReady)
	if !supported && err != nil {
		return err
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ov := config.Overrides{
		Interface: flagInterface,
		Name:      flagName,
		Channel:   flagChannel,
		DumpPCAP:  flagDumpPCAP,
		Verbose:   flagVerbose,
		Daemonize: flagDaemonize,
		Set:       map[string]bool{},
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		ov.Set[f.Name] = true
	})

	cfg, err := config.PrepareConfig(flagConfig, ov)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	self, err := selfAddr(cfg.Interface)
	if err != nil {
		return err
	}

	wlan, err := iface.OpenPCAPWLAN(cfg.Interface, fmt.Sprintf("wlan addr3 %s", frame.BSSID))
	if err != nil {
		return fmt.Errorf("opening WLAN capture: %w", err)
	}
	host, err := iface.OpenTAP(flagHostTAP)
	if err != nil {
		wlan.Close()
		return fmt.Errorf("opening host TAP: %w", err)
	}
	platform := iface.NewLinuxPlatformControl(cfg.Interface)
	neighbors := iface.NewRTNLNeighborTable(flagHostTAP)

	opclass := channelToOpclass(cfg.Channel)
	d := awdldaemon.New(awdldaemon.Config{
		SelfAddr:        self,
		Name:            cfg.Name,
		Version:         frame.VersionCompat,
		DevClass:        cfg.DevClass,
		AppendFCS:       cfg.AppendFCS,
		PeerTimeoutUs:   uint64(cfg.PeerTimeout.Microseconds()),
		CleanIntervalUs: uint64(cfg.CleanInterval.Microseconds()),
		McastQueueCap:   cfg.McastQueueCap,
		FilterRSSI:      cfg.FilterRSSI,
		RSSIThreshold:   cfg.RSSIThreshold,
		RSSIGrace:       cfg.RSSIGrace,
		Channel: &channel.State{
			Encoding: channel.EncodingOpclass,
			Sequence: channel.InitStatic(opclass),
			Master:   opclass,
			Current:  opclass,
		},
	}, wlan, host, platform, neighbors)

	exporter := stats.NewPrometheusExporter(d.Stats(), cfg.MetricsListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				printStatus(d)
			default:
				cancel()
				return
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error { return exporter.Start() })
	g.Go(func() error { return d.Run(ctx) })

	if cfg.Daemonize {
		if err := notifyReady(); err != nil {
			log.WithError(err).Warn("systemd readiness notification failed")
		}
	}

	return g.Wait()
}

func printStatus(d *awdldaemon.Daemon) {
	d.Stats().PrintColored(os.Stderr)

	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"peer", "name", "valid", "dev class", "channel"})
	d.Peers().Range(func(p *peer.Peer) bool {
		table.Append([]string{
			p.Addr.String(),
			p.Name,
			fmt.Sprintf("%v", p.IsValid),
			fmt.Sprintf("%d", p.DevClass),
			fmt.Sprintf("%d", channel.Num(p.Sequence[0], channel.EncodingOpclass)),
		})
		return true
	})
	table.Render()
}
