// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package cniutil holds the wire types and protocol runtime shared by every
// plugin binary in this repository: NetworkConfig parsing, CNI version
// negotiation and dispatch on top of github.com/containernetworking/cni/pkg/skel.
package cniutil

import (
	"encoding/json"

	cniTypes "github.com/containernetworking/cni/pkg/types"
)

// KVPair represents a K-V pair of a json object, used for additional args
// the runtime attaches to a NetworkConfig that this suite doesn't interpret.
type KVPair struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// IPAMConfig is the `ipam` stanza of a NetworkConfig. Type is required;
// everything else is plugin-specific and round-trips through Extra.
type IPAMConfig struct {
	Type          string          `json:"type"`
	Subnet        string          `json:"subnet,omitempty"`
	Gateway       string          `json:"gateway,omitempty"`
	Routes        []Route         `json:"routes,omitempty"`
	ConsulServers []string        `json:"consul_servers,omitempty"`
	NomadServers  []string        `json:"nomad_servers,omitempty"`
	Delegates     []string        `json:"delegates,omitempty"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields above, preserving every other key
// in Extra so it survives a round-trip.
func (c *IPAMConfig) UnmarshalJSON(b []byte) error {
	type alias IPAMConfig
	aux := alias{}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*c = IPAMConfig(aux)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"type": true, "subnet": true, "gateway": true, "routes": true,
		"consul_servers": true, "nomad_servers": true, "delegates": true,
	}
	c.Extra = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			c.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON re-emits the known fields plus whatever survived in Extra.
func (c IPAMConfig) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for k, v := range c.Extra {
		merged[k] = v
	}

	type alias IPAMConfig
	b, err := json.Marshal(alias(c))
	if err != nil {
		return nil, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Route is a single static route, CIDR destination plus optional gateway.
type Route struct {
	Dst string `json:"dst"`
	GW  string `json:"gw,omitempty"`
}

// RuntimeDNSConfig mirrors the kubelet runtimeConfig.dns shape.
// https://github.com/kubernetes/kubernetes/blob/master/pkg/kubelet/dockershim/network/cni/cni.go
type RuntimeDNSConfig struct {
	Servers  []string `json:"servers,omitempty"`
	Searches []string `json:"searches,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// RuntimeConfig is the CNI runtimeConfig stanza.
type RuntimeConfig struct {
	PortMappings []json.RawMessage `json:"portMappings,omitempty"`
	DNS          RuntimeDNSConfig  `json:"dns,omitempty"`
	Pools        []Pool            `json:"pools,omitempty"`
}

// NetworkConfig is the input document read from stdin.
type NetworkConfig struct {
	CNIVersion    string          `json:"cniVersion"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Args          map[string]json.RawMessage `json:"args,omitempty"`
	IPMasq        bool            `json:"ipMasq,omitempty"`
	IPAM          *IPAMConfig     `json:"ipam,omitempty"`
	DNS           *cniTypes.DNS   `json:"dns,omitempty"`
	RuntimeConfig RuntimeConfig   `json:"runtimeConfig,omitempty"`
	PrevResult    json.RawMessage `json:"prevResult,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ParseNetworkConfig unmarshals a NetworkConfig, preserving unknown keys in Extra.
func ParseNetworkConfig(b []byte) (*NetworkConfig, error) {
	if len(b) == 0 {
		return nil, ErrMissingPayload
	}

	type alias NetworkConfig
	aux := alias{}
	if err := json.Unmarshal(b, &aux); err != nil {
		return nil, NewError(CodeDecodingFailure, "failed to decode network configuration", err.Error())
	}
	nwCfg := NetworkConfig(aux)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, NewError(CodeDecodingFailure, "failed to decode network configuration", err.Error())
	}
	known := map[string]bool{
		"cniVersion": true, "name": true, "type": true, "args": true,
		"ipMasq": true, "ipam": true, "dns": true, "runtimeConfig": true,
		"prevResult": true,
	}
	nwCfg.Extra = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			nwCfg.Extra[k] = v
		}
	}

	return &nwCfg, nil
}

// MarshalJSON folds Extra back into the top-level object, so a marshalled
// NetworkConfig always carries the keys it was parsed with.
func (n NetworkConfig) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for k, v := range n.Extra {
		merged[k] = v
	}

	type alias NetworkConfig
	b, err := json.Marshal(alias(n))
	if err != nil {
		return nil, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Serialize marshals a NetworkConfig back to bytes.
func (n *NetworkConfig) Serialize() []byte {
	b, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	return b
}

// Pool names which IPAM pool to draw an address from, and optionally a
// specific address the caller wants reserved within it.
type Pool struct {
	Name        string `json:"name"`
	RequestedIP string `json:"requestedIp,omitempty"`
}

// IPConfig is one entry of a SuccessReply's ips[] array.
type IPConfig struct {
	Address   string `json:"address"`
	Gateway   string `json:"gateway,omitempty"`
	Interface *int   `json:"interface,omitempty"`
}

// SuccessReply is the common shape of a successful ADD reply. `Specific`
// carries whatever this plugin doesn't model explicitly (e.g. `pools`,
// `hostNeighbours`, `hostRoutes`) and round-trips unknown prevResult keys.
type SuccessReply struct {
	CNIVersion string                     `json:"cniVersion"`
	Interfaces []json.RawMessage          `json:"interfaces,omitempty"`
	IPs        []IPConfig                 `json:"ips,omitempty"`
	Routes     []Route                    `json:"routes,omitempty"`
	DNS        *cniTypes.DNS              `json:"dns,omitempty"`
	Specific   map[string]json.RawMessage `json:"-"`
}

// MarshalJSON folds Specific back into the top-level object.
func (s SuccessReply) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for k, v := range s.Specific {
		merged[k] = v
	}
	type alias SuccessReply
	b, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON preserves unknown keys into Specific.
func (s *SuccessReply) UnmarshalJSON(b []byte) error {
	type alias SuccessReply
	aux := alias{}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = SuccessReply(aux)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"cniVersion": true, "interfaces": true, "ips": true, "routes": true, "dns": true,
	}
	s.Specific = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			s.Specific[k] = v
		}
	}
	return nil
}

// ParsePrevResult decodes the opaque prevResult field of a NetworkConfig as
// a SuccessReply. A nil/empty PrevResult yields a zero-value reply, not an error.
func ParsePrevResult(raw json.RawMessage) (*SuccessReply, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &SuccessReply{}, nil
	}
	var r SuccessReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, NewError(CodeDecodingFailure, "failed to decode prevResult", err.Error())
	}
	return &r, nil
}

// Pools extracts prevResult.pools, the channel by which a selector plugin
// hands its decision to the allocator plugin.
func (s *SuccessReply) Pools() ([]Pool, error) {
	raw, ok := s.Specific["pools"]
	if !ok {
		return nil, nil
	}
	var pools []Pool
	if err := json.Unmarshal(raw, &pools); err != nil {
		return nil, NewError(CodeInvalidField, "prevResult.pools is not an array of pools", err.Error())
	}
	return pools, nil
}

// SetPools stashes pools[] into Specific so it serializes as prevResult.pools.
func (s *SuccessReply) SetPools(pools []Pool) error {
	b, err := json.Marshal(pools)
	if err != nil {
		return err
	}
	if s.Specific == nil {
		s.Specific = map[string]json.RawMessage{}
	}
	s.Specific["pools"] = b
	return nil
}

// AppendHostDirectives appends to prevResult.hostNeighbours or
// prevResult.hostRoutes, creating the array if absent.
func (s *SuccessReply) AppendHostDirectives(key string, directives []json.RawMessage) error {
	var existing []json.RawMessage
	if raw, ok := s.Specific[key]; ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return NewError(CodeInvalidField, "prevResult."+key+" is not an array", err.Error())
		}
	}
	existing = append(existing, directives...)
	b, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	if s.Specific == nil {
		s.Specific = map[string]json.RawMessage{}
	}
	s.Specific[key] = b
	return nil
}
