// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package iprange

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, subnet, start, end, gw string) IPRange {
	t.Helper()
	raw, err := json.Marshal([]ipRangeJSON{{Subnet: subnet, RangeStart: start, RangeEnd: end, Gateway: gw}})
	require.NoError(t, err)
	ranges, err := ParseRanges(raw)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	return ranges[0]
}

func TestParseRangesDefaultsToSubnetBounds(t *testing.T) {
	r := mustRange(t, "10.0.0.0/29", "", "", "10.0.0.1")
	assert.Equal(t, "10.0.0.0", r.RangeStart.String())
	assert.Equal(t, "10.0.0.7", r.RangeEnd.String())
}

func TestParseRangesRejectsStartAfterEnd(t *testing.T) {
	raw, err := json.Marshal([]ipRangeJSON{{Subnet: "10.0.0.0/29", RangeStart: "10.0.0.6", RangeEnd: "10.0.0.2"}})
	require.NoError(t, err)
	_, err = ParseRanges(raw)
	assert.Error(t, err)
}

func TestParseRangesRejectsMixedFamily(t *testing.T) {
	raw, err := json.Marshal([]ipRangeJSON{{Subnet: "10.0.0.0/29", Gateway: "::1"}})
	require.NoError(t, err)
	_, err = ParseRanges(raw)
	assert.Error(t, err)
}

func TestParseRangesRejectsGatewayOutsideSubnet(t *testing.T) {
	raw, err := json.Marshal([]ipRangeJSON{{Subnet: "10.0.0.0/29", Gateway: "10.1.0.1"}})
	require.NoError(t, err)
	_, err = ParseRanges(raw)
	assert.Error(t, err)
}

// FreeIPs must only yield addresses within [start, end], excluding the
// gateway, with length == range size minus (gateway-in-range ? 1 : 0).
func TestFreeIPsStaysWithinBoundsAndSkipsGateway(t *testing.T) {
	r := mustRange(t, "10.0.0.0/29", "10.0.0.1", "10.0.0.6", "10.0.0.1")

	ips := r.FreeIPs()
	require.NotEmpty(t, ips)

	start := toBigInt(net.ParseIP("10.0.0.1"))
	end := toBigInt(net.ParseIP("10.0.0.6"))
	for _, ip := range ips {
		assert.False(t, ip.Equal(r.Gateway), "gateway must never be yielded")
		v := toBigInt(ip)
		assert.True(t, v.Cmp(start) >= 0 && v.Cmp(end) <= 0, "ip %s out of [start,end]", ip)
	}

	// range size: .1 through .6 inclusive = 6 addresses, minus gateway (.1),
	// minus broadcast .7 is already excluded by end=.6; network .0 also
	// outside [start,end]. So expect 5.
	assert.Len(t, ips, 5)
}

func TestFreeIPsSkipsNetworkAndBroadcast(t *testing.T) {
	r := mustRange(t, "10.0.0.0/29", "", "", "")
	ips := r.FreeIPs()
	for _, ip := range ips {
		assert.NotEqual(t, "10.0.0.0", ip.String())
		assert.NotEqual(t, "10.0.0.7", ip.String())
	}
}

func TestFreeIPsIPv6DoesNotMaterializeWholeSubnet(t *testing.T) {
	r := mustRange(t, "2001:db8::/64", "2001:db8::1", "2001:db8::5", "")
	ips := r.FreeIPs()
	assert.Len(t, ips, 5)
}

func TestCursorIsRestartable(t *testing.T) {
	r := mustRange(t, "10.0.0.0/29", "10.0.0.1", "10.0.0.6", "10.0.0.1")
	first := r.FreeIPs()
	second := r.FreeIPs()
	assert.Equal(t, first, second)
}

func TestPrefixLen(t *testing.T) {
	r := mustRange(t, "10.0.0.0/29", "", "", "")
	assert.Equal(t, 29, r.PrefixLen())
}

func TestContains(t *testing.T) {
	r := mustRange(t, "10.0.0.0/29", "", "", "")
	assert.True(t, r.Contains(net.ParseIP("10.0.0.3")))
	assert.False(t, r.Contains(net.ParseIP("10.0.1.3")))
}
