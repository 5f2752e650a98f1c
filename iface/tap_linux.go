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
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	tunDevicePath = "/dev/net/tun"

	// iffTap | iffNoPi: an Ethernet-framed TAP device with no additional
	// per-packet header, matching what the daemon's handleHostFrame /
	// buildEthernetFrame already assume about frame shape.
	iffTap   = 0x0002
	iffNoPI  = 0x1000
	tunSetIFF = 0x400454ca // _IOW('T', 202, int), per if_tun.h
)

// ifreqFlags is the ifreq layout TUNSETIFF expects: an interface name
// followed by the requested flags, packed the same way
// facebook-time's phc/unix ifreqData wraps SIOCSHWTSTAMP/SIOCETHTOOL
// payloads for ioctl(2).
type ifreqFlags struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte // pad to the kernel's sizeof(struct ifreq)
}

// tunTAP is a host-facing Ethernet TAP device opened via TUNSETIFF.
type tunTAP struct {
	file   *os.File
	frames chan []byte
	done   chan struct{}
}

// OpenTAP creates (or attaches to) the named TAP device and starts reading
// Ethernet frames from it.
func OpenTAP(name string) (HostTAP, error) {
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("iface: open %s: %w", tunDevicePath, err)
	}

	var req ifreqFlags
	if len(name) >= unix.IFNAMSIZ {
		f.Close()
		return nil, fmt.Errorf("iface: interface name %q too long", name)
	}
	copy(req.name[:], name)
	req.flags = iffTap | iffNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunSetIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("iface: TUNSETIFF %s: %w", name, errno)
	}

	t := &tunTAP{
		file:   f,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go t.read()
	return t, nil
}

func (t *tunTAP) read() {
	defer close(t.frames)
	buf := make([]byte, 1<<16)
	for {
		n, err := t.file.Read(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case t.frames <- cp:
		case <-t.done:
			return
		}
	}
}

func (t *tunTAP) Frames() <-chan []byte { return t.frames }

func (t *tunTAP) Write(frame []byte) error {
	if _, err := t.file.Write(frame); err != nil {
		return fmt.Errorf("iface: tap write: %w", err)
	}
	return nil
}

func (t *tunTAP) Close() error {
	close(t.done)
	return t.file.Close()
}
