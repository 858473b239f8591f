// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package iprange implements the IP-range iterator: a restartable, lazy
// cursor over the addresses of an IPRange, skipping the gateway and, for
// IPv4 subnets, the network/broadcast addresses, without ever
// materialising the whole subnet.
package iprange

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net"

	cidr "github.com/apparentlymart/go-cidr/cidr"

	"github.com/cni-kv/plugins/pkg/cniutil"
)

// IPRange is a subnet plus an optional inclusive sub-range and gateway,
// all of one address family.
type IPRange struct {
	Subnet     *net.IPNet
	RangeStart net.IP
	RangeEnd   net.IP
	Gateway    net.IP
}

type ipRangeJSON struct {
	Subnet     string `json:"subnet"`
	RangeStart string `json:"rangeStart,omitempty"`
	RangeEnd   string `json:"rangeEnd,omitempty"`
	Gateway    string `json:"gateway,omitempty"`
}

// ParseRanges decodes a pool definition: a JSON-encoded list of IPRange
// objects. The base64 unwrap is the KV client's job; ParseRanges takes
// the already-decoded JSON bytes.
func ParseRanges(raw []byte) ([]IPRange, error) {
	var entries []ipRangeJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", err.Error())
	}

	ranges := make([]IPRange, 0, len(entries))
	for _, e := range entries {
		r, err := parseOne(e)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseOne(e ipRangeJSON) (IPRange, error) {
	_, subnet, err := net.ParseCIDR(e.Subnet)
	if err != nil {
		return IPRange{}, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", fmt.Sprintf("bad subnet %q: %v", e.Subnet, err))
	}

	network, broadcast := cidr.AddressRange(subnet)

	start := network
	if e.RangeStart != "" {
		start = net.ParseIP(e.RangeStart)
		if start == nil {
			return IPRange{}, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", fmt.Sprintf("bad rangeStart %q", e.RangeStart))
		}
	}
	end := broadcast
	if e.RangeEnd != "" {
		end = net.ParseIP(e.RangeEnd)
		if end == nil {
			return IPRange{}, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", fmt.Sprintf("bad rangeEnd %q", e.RangeEnd))
		}
	}
	var gateway net.IP
	if e.Gateway != "" {
		gateway = net.ParseIP(e.Gateway)
		if gateway == nil {
			return IPRange{}, cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", fmt.Sprintf("bad gateway %q", e.Gateway))
		}
	}

	r := IPRange{Subnet: subnet, RangeStart: start, RangeEnd: end, Gateway: gateway}
	if err := r.validate(); err != nil {
		return IPRange{}, err
	}
	return r, nil
}

// validate enforces the range invariant: start <= end, both within
// subnet, gateway within subnet, all of one IP family.
func (r IPRange) validate() error {
	fam := familyOf(r.Subnet.IP)
	if familyOf(r.RangeStart) != fam || familyOf(r.RangeEnd) != fam {
		return cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", "rangeStart/rangeEnd must be the same address family as subnet")
	}
	if r.Gateway != nil && familyOf(r.Gateway) != fam {
		return cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", "gateway must be the same address family as subnet")
	}
	if !r.Subnet.Contains(r.RangeStart) || !r.Subnet.Contains(r.RangeEnd) {
		return cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", "rangeStart/rangeEnd must lie within subnet")
	}
	if r.Gateway != nil && !r.Subnet.Contains(r.Gateway) {
		return cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", "gateway must lie within subnet")
	}
	if toBigInt(r.RangeStart).Cmp(toBigInt(r.RangeEnd)) > 0 {
		return cniutil.NewError(cniutil.CodeInvalidResource, "invalid resource", "rangeStart must not be greater than rangeEnd")
	}
	return nil
}

// Contains reports whether subnet contains ip (used by the allocator's
// requestedIp lookup: "find the unique IPRange whose subnet contains it").
func (r IPRange) Contains(ip net.IP) bool {
	return r.Subnet.Contains(ip)
}

// PrefixLen returns the subnet's mask length, for stamping the resulting CIDR.
func (r IPRange) PrefixLen() int {
	ones, _ := r.Subnet.Mask.Size()
	return ones
}

// Cursor returns a restartable iterator function: each call advances the
// cursor and returns the next eligible address, or (nil, false) once the
// range is exhausted. Re-calling Cursor() starts over from rangeStart.
func (r IPRange) Cursor() func() (net.IP, bool) {
	network, broadcast := cidr.AddressRange(r.Subnet)
	isV4 := r.Subnet.IP.To4() != nil

	cur := toBigInt(r.RangeStart)
	end := toBigInt(r.RangeEnd)
	ipLen := len(normalize(r.RangeStart))

	return func() (net.IP, bool) {
		for cur.Cmp(end) <= 0 {
			ip := fromBigInt(cur, ipLen)
			cur = new(big.Int).Add(cur, big.NewInt(1))

			if r.Gateway != nil && ip.Equal(r.Gateway) {
				continue
			}
			if isV4 && (ip.Equal(network) || ip.Equal(broadcast)) {
				continue
			}
			return ip, true
		}
		return nil, false
	}
}

// FreeIPs drains the cursor into a slice. Only used by tests and by small
// pools; the allocator itself always uses Cursor directly so large (or
// IPv6) ranges are never materialised.
func (r IPRange) FreeIPs() []net.IP {
	next := r.Cursor()
	var out []net.IP
	for {
		ip, ok := next()
		if !ok {
			return out
		}
		out = append(out, ip)
	}
}

func familyOf(ip net.IP) int {
	if ip == nil {
		return 0
	}
	if ip.To4() != nil {
		return 4
	}
	return 6
}

func normalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func toBigInt(ip net.IP) *big.Int {
	return new(big.Int).SetBytes(normalize(ip))
}

func fromBigInt(i *big.Int, ipLen int) net.IP {
	b := i.Bytes()
	out := make([]byte, ipLen)
	copy(out[ipLen-len(b):], b)
	return net.IP(out)
}
