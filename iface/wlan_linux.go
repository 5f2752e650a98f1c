//go:build linux

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

package iface

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen = 2048
	promiscuous = true
	recvTimeout = pcap.BlockForever
)

// pcapWLAN captures and injects radiotap-framed 802.11 on a monitor-mode
// interface via libpcap, the same OpenLive/SetBPFFilter/NewPacketSource
// bring-up ziffy uses for its LLDP and PTP-sweep captures, generalized from
// Ethernet capture to raw 802.11.
type pcapWLAN struct {
	handle *pcap.Handle
	frames chan []byte
	done   chan struct{}
}

// OpenPCAPWLAN opens device (already switched to monitor mode by the
// operator) for radiotap-framed 802.11 capture and injection, restricted by
// filter to the frames the daemon cares about.
func OpenPCAPWLAN(device, filter string) (WLAN, error) {
	handle, err := pcap.OpenLive(device, snapshotLen, promiscuous, recvTimeout)
	if err != nil {
		return nil, fmt.Errorf("iface: unable to open %s for capture: %w", device, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("iface: unable to set BPF filter %q: %w", filter, err)
		}
	}

	w := &pcapWLAN{
		handle: handle,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go w.capture()
	return w, nil
}

func (w *pcapWLAN) capture() {
	defer close(w.frames)
	pktSrc := gopacket.NewPacketSource(w.handle, w.handle.LinkType())
	for {
		select {
		case <-w.done:
			return
		case pkt, ok := <-pktSrc.Packets():
			if !ok {
				return
			}
			data := pkt.Data()
			cp := make([]byte, len(data))
			copy(cp, data)
			select {
			case w.frames <- cp:
			case <-w.done:
				return
			}
		}
	}
}

func (w *pcapWLAN) Frames() <-chan []byte { return w.frames }

func (w *pcapWLAN) Inject(frame []byte) error {
	if err := w.handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("iface: WritePacketData failed: %w", err)
	}
	return nil
}

func (w *pcapWLAN) Close() error {
	close(w.done)
	w.handle.Close()
	return nil
}
