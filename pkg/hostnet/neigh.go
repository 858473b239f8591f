// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package hostnet

import (
	"fmt"
	"net"
	"time"

	"github.com/cni-kv/plugins/log"

	retry "github.com/avast/retry-go/v3"
	"github.com/vishvananda/netlink"
)

// RetryAttempts is the per-directive retry budget, configurable to 1-10.
var RetryAttempts uint = 3

// RetryDelay is the fixed backoff between attempts.
const RetryDelay = 50 * time.Millisecond

func retryOpts() []retry.Option {
	return []retry.Option{
		retry.Attempts(RetryAttempts),
		retry.Delay(RetryDelay),
		retry.DelayType(retry.FixedDelay),
	}
}

// applyNeigh installs n on the host: first the corresponding delete for
// idempotence, then RTM_NEWNEIGH.
func applyNeigh(n Neigh) error {
	ip := net.ParseIP(n.Address)
	if ip == nil {
		return fmt.Errorf("neigh: invalid address %q", n.Address)
	}
	linkIndex, err := resolveLink(n.Device)
	if err != nil {
		return err
	}
	mac, err := resolveLLAddr(n.LLAddr)
	if err != nil {
		return err
	}

	if err := deleteNeigh(linkIndex, familyOf(ip), ip, nil); err != nil {
		log.Printf("[hostnet] pre-emptive neigh delete for %s warned: %v", n.Address, err)
	}

	neigh := &netlink.Neigh{
		LinkIndex:    linkIndex,
		Family:       familyOf(ip),
		State:        netlink.NUD_PERMANENT,
		IP:           ip,
		HardwareAddr: mac,
	}

	return retry.Do(func() error {
		return netlink.NeighAdd(neigh)
	}, retryOpts()...)
}

// deleteNeigh enumerates neighbours for the address family, matches on
// (ifindex, optional lladdr, destination), and deletes each match.
func deleteNeigh(linkIndex, family int, address net.IP, lladdr net.HardwareAddr) error {
	existing, err := netlink.NeighList(linkIndex, family)
	if err != nil {
		return fmt.Errorf("listing neighbours: %w", err)
	}

	var lastErr error
	for _, n := range existing {
		if n.LinkIndex != linkIndex {
			continue
		}
		if !n.IP.Equal(address) {
			continue
		}
		if lladdr != nil && n.HardwareAddr.String() != lladdr.String() {
			continue
		}
		if err := netlink.NeighDel(&n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// removeNeigh is the DEL path for one Neigh, reached from cmd/host-neigh
// through Remove. applyNeigh's pre-emptive cleanup calls deleteNeigh
// directly instead.
func removeNeigh(n Neigh) error {
	ip := net.ParseIP(n.Address)
	if ip == nil {
		return fmt.Errorf("neigh: invalid address %q", n.Address)
	}
	linkIndex, err := resolveLink(n.Device)
	if err != nil {
		return err
	}
	var mac net.HardwareAddr
	if n.LLAddr != "" {
		mac, err = resolveLLAddr(n.LLAddr)
		if err != nil {
			return err
		}
	}

	return retry.Do(func() error {
		return deleteNeigh(linkIndex, familyOf(ip), ip, mac)
	}, retryOpts()...)
}

// checkNeigh reports whether n is already installed, without mutating
// anything.
func checkNeigh(n Neigh) error {
	ip := net.ParseIP(n.Address)
	if ip == nil {
		return fmt.Errorf("neigh: invalid address %q", n.Address)
	}
	linkIndex, err := resolveLink(n.Device)
	if err != nil {
		return err
	}
	mac, err := resolveLLAddr(n.LLAddr)
	if err != nil {
		return err
	}

	existing, err := netlink.NeighList(linkIndex, familyOf(ip))
	if err != nil {
		return fmt.Errorf("listing neighbours: %w", err)
	}
	for _, e := range existing {
		if e.LinkIndex == linkIndex && e.IP.Equal(ip) && e.HardwareAddr.String() == mac.String() {
			return nil
		}
	}
	return fmt.Errorf("neigh %s via %s not installed", n.Address, n.Device)
}
