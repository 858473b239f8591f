// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package hostnet

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// resolveLink resolves a device name to its kernel link index via
// netlink RTM_GETLINK with a name filter. An empty name yields index -1
// ("no output interface constraint"), used by Routes whose device is
// omitted.
func resolveLink(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("resolving device %q: %w", name, err)
	}
	return link.Attrs().Index, nil
}

// resolveLLAddr resolves lladdr for a Neigh directive: if it already
// parses as a MAC address it's used as-is; otherwise it's treated as a
// device name whose own MAC is substituted.
func resolveLLAddr(lladdr string) (net.HardwareAddr, error) {
	if mac, err := net.ParseMAC(lladdr); err == nil {
		return mac, nil
	}
	link, err := netlink.LinkByName(lladdr)
	if err != nil {
		return nil, fmt.Errorf("lladdr %q is neither a MAC nor a known device: %w", lladdr, err)
	}
	return link.Attrs().HardwareAddr, nil
}

func familyOf(ip net.IP) int {
	if ip.To4() != nil {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}
