// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package allocator implements the IPAM allocator: the ADD and DEL
// protocols over the CAS KV store, including the bounded-retry selection
// loop that gives concurrent ADDs their correctness property.
package allocator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"

	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/cni-kv/plugins/pkg/ipamkv"
	"github.com/cni-kv/plugins/pkg/iprange"

	retry "github.com/avast/retry-go/v3"
)

// MaxSelectionAttempts bounds the CAS-retry loop so concurrent losers
// cannot live-lock.
const MaxSelectionAttempts = 3

// allocationTarget is the JSON body of a PoolAllocation entry.
type allocationTarget struct {
	Target string `json:"target"`
}

// Add implements the ADD protocol. servers is the ordered
// list to probe; pool is prevResult.pools[0].
func Add(ctx context.Context, servers []string, pool cniutil.Pool, containerID string) (cidr string, gateway string, err error) {
	store, err := ipamkv.Dial(ctx, servers)
	if err != nil {
		return "", "", err
	}

	ranges, err := fetchPoolDefinition(ctx, store, pool.Name)
	if err != nil {
		return "", "", err
	}

	if pool.RequestedIP != "" {
		return addRequested(ctx, store, pool, ranges, containerID)
	}
	return addFresh(ctx, store, pool, ranges, containerID)
}

func fetchPoolDefinition(ctx context.Context, store *ipamkv.Store, pool string) ([]iprange.IPRange, error) {
	entry, err := store.Get(ctx, "ipam/"+pool)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", fmt.Sprintf("pool %q has no definition", pool))
	}

	// KV envelopes wrap Value as base64; consul/api already decodes this
	// for us, but some deployments store the pool definition itself as a
	// base64-wrapped JSON document, so unwrap once more.
	decoded, err := base64.StdEncoding.DecodeString(string(entry.Value))
	if err != nil {
		decoded = entry.Value // already raw JSON, not double-wrapped
	}

	ranges, err := iprange.ParseRanges(decoded)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", fmt.Sprintf("pool %q has no ranges", pool))
	}
	return ranges, nil
}

// addRequested handles the requestedIp branch: find the unique range
// containing it, then PUT with cas=0 so a racing allocation of the same
// address fails loudly instead of silently stealing it.
func addRequested(ctx context.Context, store *ipamkv.Store, pool cniutil.Pool, ranges []iprange.IPRange, containerID string) (string, string, error) {
	requested := net.ParseIP(pool.RequestedIP)
	if requested == nil {
		return "", "", cniutil.NewError(cniutil.CodeInvalidField, "invalid field", fmt.Sprintf("requestedIp %q is not a valid address", pool.RequestedIP))
	}

	var match *iprange.IPRange
	for i := range ranges {
		if ranges[i].Contains(requested) {
			match = &ranges[i]
			break
		}
	}
	if match == nil {
		return "", "", cniutil.NewError(cniutil.CodeIPNotInPool, "IP not in pool", pool.RequestedIP)
	}

	key := fmt.Sprintf("ipam/%s/%s", pool.Name, requested.String())
	body, _ := json.Marshal(allocationTarget{Target: containerID})
	if err := store.PutCAS(ctx, key, body, 0); err != nil {
		return "", "", err
	}

	cidrStr := fmt.Sprintf("%s/%d", requested.String(), match.PrefixLen())
	gw := ""
	if match.Gateway != nil {
		gw = match.Gateway.String()
	}
	return cidrStr, gw, nil
}

// addFresh is the free-pick branch plus the bounded CAS-retry loop: a
// loser on CAS re-runs selection (re-reads taken addresses, re-picks) up
// to MaxSelectionAttempts times.
func addFresh(ctx context.Context, store *ipamkv.Store, pool cniutil.Pool, ranges []iprange.IPRange, containerID string) (string, string, error) {
	var cidrStr, gw string

	err := retry.Do(
		func() error {
			taken, err := takenAddresses(ctx, store, pool.Name)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			ip, rng, ok := pickFree(ranges, taken)
			if !ok {
				return retry.Unrecoverable(cniutil.NewError(cniutil.CodePoolFull, "Pool is full", pool.Name))
			}

			key := fmt.Sprintf("ipam/%s/%s", pool.Name, ip.String())
			body, _ := json.Marshal(allocationTarget{Target: containerID})
			if err := store.PutCAS(ctx, key, body, 0); err != nil {
				// CAS lost the race for this address; retry the whole selection.
				return err
			}

			cidrStr = fmt.Sprintf("%s/%d", ip.String(), rng.PrefixLen())
			if rng.Gateway != nil {
				gw = rng.Gateway.String()
			}
			return nil
		},
		retry.Attempts(MaxSelectionAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", "", cniutil.AsCNIError(err)
	}
	return cidrStr, gw, nil
}

// takenAddresses lists ipam/<pool>/ recursively, filters out tombstones,
// and parses the trailing key segments as the set of taken addresses.
func takenAddresses(ctx context.Context, store *ipamkv.Store, pool string) (map[string]bool, error) {
	entries, err := store.List(ctx, "ipam/"+pool+"/")
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(entries))
	for _, e := range entries {
		ip := lastKeySegment(e.Key)
		taken[ip] = true
	}
	return taken, nil
}

// pickFree walks ranges in declared order, returning the first address
// not in taken.
func pickFree(ranges []iprange.IPRange, taken map[string]bool) (net.IP, *iprange.IPRange, bool) {
	for i := range ranges {
		next := ranges[i].Cursor()
		for {
			ip, ok := next()
			if !ok {
				break
			}
			if !taken[ip.String()] {
				return ip, &ranges[i], true
			}
		}
	}
	return nil, nil, false
}

// Del implements the DEL protocol: list every allocation in the pool,
// collect the ones belonging to containerID, and release them. Release is
// best-effort per-key: ipamkv.DeleteCASBatch already falls back from the
// atomic transaction to individual deletes on conflict, so a partial
// release never blocks DEL from completing for the keys that do succeed.
func Del(ctx context.Context, servers []string, poolName, containerID string) error {
	store, err := ipamkv.Dial(ctx, servers)
	if err != nil {
		return err
	}

	entries, err := store.List(ctx, "ipam/"+poolName+"/")
	if err != nil {
		return err
	}

	var mine []ipamkv.Entry
	for _, e := range entries {
		var target allocationTarget
		if err := json.Unmarshal(e.Value, &target); err != nil {
			continue
		}
		if target.Target == containerID {
			mine = append(mine, e)
		}
	}
	if len(mine) == 0 {
		return nil
	}
	return store.DeleteCASBatch(ctx, mine)
}

func lastKeySegment(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

// DefaultRouteFor returns the default route (0.0.0.0/0 or ::/0 by the
// gateway's address family) via the given gateway, used by
// cmd/ipam-delegated's all-in-one path.
func DefaultRouteFor(gateway string) cniutil.Route {
	dst := "0.0.0.0/0"
	if ip := net.ParseIP(gateway); ip != nil && ip.To4() == nil {
		dst = "::/0"
	}
	return cniutil.Route{Dst: dst, GW: gateway}
}
