// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package hostnet

import (
	"fmt"
	"net"

	"github.com/cni-kv/plugins/log"

	retry "github.com/avast/retry-go/v3"
	"github.com/vishvananda/netlink"
)

// applyRoute installs r on the host: a pre-emptive delete for
// idempotence, then RTM_NEWROUTE.
func applyRoute(r Route) error {
	_, dst, err := net.ParseCIDR(r.Prefix)
	if err != nil {
		return fmt.Errorf("route: invalid prefix %q: %w", r.Prefix, err)
	}
	linkIndex, err := resolveLink(r.Device)
	if err != nil {
		return err
	}
	var gw net.IP
	if r.Gateway != "" {
		gw = net.ParseIP(r.Gateway)
		if gw == nil {
			return fmt.Errorf("route: invalid gateway %q", r.Gateway)
		}
	}

	if err := deleteRoute(linkIndex, familyOf(dst.IP), dst, gw); err != nil {
		log.Printf("[hostnet] pre-emptive route delete for %s warned: %v", r.Prefix, err)
	}

	route := &netlink.Route{LinkIndex: linkIndex, Dst: dst, Gw: gw}

	return retry.Do(func() error {
		return netlink.RouteAdd(route)
	}, retryOpts()...)
}

// deleteRoute enumerates routes for the address family, matches on
// (output_interface, destination_prefix, gw), and deletes each match.
// linkIndex == -1 means "no output interface constraint".
func deleteRoute(linkIndex, family int, dst *net.IPNet, gw net.IP) error {
	existing, err := netlink.RouteList(nil, family)
	if err != nil {
		return fmt.Errorf("listing routes: %w", err)
	}

	var lastErr error
	for _, rt := range existing {
		if linkIndex != -1 && rt.LinkIndex != linkIndex {
			continue
		}
		if !sameCIDR(rt.Dst, dst) {
			continue
		}
		if gw != nil && !rt.Gw.Equal(gw) {
			continue
		}
		rt := rt
		if err := netlink.RouteDel(&rt); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// removeRoute is the DEL path for one Route, reached from cmd/host-routes
// through Remove. applyRoute's pre-emptive cleanup calls deleteRoute
// directly instead.
func removeRoute(r Route) error {
	_, dst, err := net.ParseCIDR(r.Prefix)
	if err != nil {
		return fmt.Errorf("route: invalid prefix %q: %w", r.Prefix, err)
	}
	linkIndex, err := resolveLink(r.Device)
	if err != nil {
		return err
	}
	var gw net.IP
	if r.Gateway != "" {
		gw = net.ParseIP(r.Gateway)
	}

	return retry.Do(func() error {
		return deleteRoute(linkIndex, familyOf(dst.IP), dst, gw)
	}, retryOpts()...)
}

// checkRoute reports whether r is already installed, without mutation.
func checkRoute(r Route) error {
	_, dst, err := net.ParseCIDR(r.Prefix)
	if err != nil {
		return fmt.Errorf("route: invalid prefix %q: %w", r.Prefix, err)
	}
	linkIndex, err := resolveLink(r.Device)
	if err != nil {
		return err
	}
	var gw net.IP
	if r.Gateway != "" {
		gw = net.ParseIP(r.Gateway)
	}

	existing, err := netlink.RouteList(nil, familyOf(dst.IP))
	if err != nil {
		return fmt.Errorf("listing routes: %w", err)
	}
	for _, rt := range existing {
		if linkIndex != -1 && rt.LinkIndex != linkIndex {
			continue
		}
		if !sameCIDR(rt.Dst, dst) {
			continue
		}
		if gw != nil && !rt.Gw.Equal(gw) {
			continue
		}
		return nil
	}
	return fmt.Errorf("route %s not installed", r.Prefix)
}

func sameCIDR(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Mask.String() == b.Mask.String()
}
