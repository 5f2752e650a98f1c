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
	"context"
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"

	"github.com/openwifid/awdl/wire"
)

// rtnlNeighborTable maintains IPv6 NDP entries for valid AWDL peers,
// keyed by the modified-EUI-64 link-local address wire.EtherAddr.LinkLocalIPv6
// derives. It opens a fresh netlink socket per call, the same per-operation
// Dial/defer-Close discipline responder/server/ip.go uses for address
// management, since the daemon's neighbor churn rate is low (one call per
// peer validity transition, not per packet).
type rtnlNeighborTable struct {
	ifaceName string
}

// NewRTNLNeighborTable returns a NeighborTable that programs the kernel
// neighbor cache entry used for the named AWDL interface.
func NewRTNLNeighborTable(ifaceName string) NeighborTable {
	return &rtnlNeighborTable{ifaceName: ifaceName}
}

func (n *rtnlNeighborTable) index() (uint32, error) {
	iface, err := net.InterfaceByName(n.ifaceName)
	if err != nil {
		return 0, fmt.Errorf("iface: %w", err)
	}
	return uint32(iface.Index), nil
}

func (n *rtnlNeighborTable) Add(_ context.Context, addr wire.EtherAddr, ip net.IP) error {
	idx, err := n.index()
	if err != nil {
		return err
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return fmt.Errorf("iface: netlink dial: %w", err)
	}
	defer conn.Close()

	msg := rtnetlink.NeighMessage{
		Family: unix.AF_INET6,
		Index:  idx,
		State:  rtnetlink.NUD_REACHABLE,
		Type:   unix.RTN_UNICAST,
		Attributes: &rtnetlink.NeighAttributes{
			Address:   ip,
			LLAddress: net.HardwareAddr(addr[:]),
		},
	}
	if err := conn.Neigh.Replace(msg); err != nil {
		return fmt.Errorf("iface: neigh replace %s: %w", ip, err)
	}
	return nil
}

func (n *rtnlNeighborTable) Remove(_ context.Context, _ wire.EtherAddr, ip net.IP) error {
	idx, err := n.index()
	if err != nil {
		return err
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return fmt.Errorf("iface: netlink dial: %w", err)
	}
	defer conn.Close()

	msg := rtnetlink.NeighMessage{
		Family: unix.AF_INET6,
		Index:  idx,
		Attributes: &rtnetlink.NeighAttributes{
			Address: ip,
		},
	}
	if err := conn.Neigh.Delete(msg); err != nil {
		return fmt.Errorf("iface: neigh delete %s: %w", ip, err)
	}
	return nil
}
