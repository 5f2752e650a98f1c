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

// Package iface defines the narrow platform-collaborator surfaces the
// daemon's event loop multiplexes: raw 802.11 capture/injection, the
// host-facing TAP device, channel/link control, and the OS neighbor cache.
// Everything above this package (wire, frame, channel, election, syncstate,
// peer, tx, rx, daemon) is pure and platform-independent; only the
// implementations in this package touch an actual NIC.
package iface

import (
	"context"
	"net"

	"github.com/openwifid/awdl/wire"
)

// WLAN is the raw 802.11 capture/injection surface. Frames returns captured
// frames as they arrive; an implementation feeds it from an internal
// listener goroutine, the same shape as sptp's inbound-packet channel, so
// the daemon's event loop can select over it without polling a file
// descriptor directly.
type WLAN interface {
	// Frames returns the channel of captured frames -- each element is a
	// complete radiotap-prefixed 802.11 frame exactly as seen on the
	// medium. The channel is closed when the underlying capture handle is
	// closed.
	Frames() <-chan []byte

	// Inject transmits a fully-built radiotap+802.11 frame. Failure is
	// reported to the caller, logged and counted, and never tears down the
	// event loop.
	Inject(frame []byte) error

	Close() error
}

// HostTAP is the host-facing Ethernet surface: a TAP device carrying
// whatever IP traffic the local networking stack routes onto the AWDL
// interface.
type HostTAP interface {
	// Frames returns the channel of Ethernet frames read from the TAP
	// device, destined for the AWDL medium.
	Frames() <-chan []byte

	// Write delivers a decoded Ethernet frame to the host's networking
	// stack.
	Write(frame []byte) error

	Close() error
}

// PlatformControl drives the host OS's view of the wireless interface.
type PlatformControl interface {
	// SetChannel switches the radio to chanNum (center frequency freqMHz).
	SetChannel(ctx context.Context, chanNum uint8, freqMHz int) error

	// ChannelAvailable reports whether chanNum is clear to use under
	// regulatory constraints (e.g. DFS). The daemon logs but does not act
	// on a negative result, matching the "ask but proceed" contract of the
	// reference channel-switch timer.
	ChannelAvailable(ctx context.Context, chanNum uint8) (bool, error)

	// SetMonitorMode toggles 802.11 monitor mode on the capture interface.
	SetMonitorMode(ctx context.Context, enabled bool) error

	// SetLinkUp brings the interface administratively up or down.
	SetLinkUp(ctx context.Context, up bool) error
}

// NeighborTable maintains OS neighbor-cache (IPv6 NDP) entries for valid
// peers, keyed by the modified-EUI-64 link-local address derived from the
// peer's hardware address.
type NeighborTable interface {
	Add(ctx context.Context, addr wire.EtherAddr, ip net.IP) error
	Remove(ctx context.Context, addr wire.EtherAddr, ip net.IP) error
}
