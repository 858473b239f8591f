// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package hostnet implements the host mutator: evaluating neigh/routing
// expressions into directives and programming them onto the host via
// netlink.
package hostnet

import (
	"encoding/json"
	"fmt"
)

// Neigh is a static neighbour (ARP/NDP) directive. Critical defaults to
// true when absent.
type Neigh struct {
	Address  string `json:"address"`
	Device   string `json:"device"`
	LLAddr   string `json:"lladdr,omitempty"`
	Critical *bool  `json:"critical,omitempty"`
}

// IsCritical applies the default=true rule.
func (n Neigh) IsCritical() bool {
	return n.Critical == nil || *n.Critical
}

// Route is a route directive. Invariant: at least one of Device or
// Gateway must be set (enforced by Validate, not by decoding).
type Route struct {
	Prefix  string `json:"prefix"`
	Device  string `json:"device,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

// Directive is exactly one of Neigh or Route, mirroring how jqlite
// evaluation yields a heterogeneous array of directive objects.
type Directive struct {
	Neigh *Neigh
	Route *Route
}

// Validate enforces the directive invariants: a Neigh requires lladdr
// for ADD/CHECK; a Route requires at least one of device or gateway.
func (d Directive) Validate() error {
	switch {
	case d.Neigh != nil:
		if d.Neigh.LLAddr == "" {
			return fmt.Errorf("neigh directive for %s requires lladdr", d.Neigh.Address)
		}
	case d.Route != nil:
		if d.Route.Device == "" && d.Route.Gateway == "" {
			return fmt.Errorf("route directive for %s requires device or gateway", d.Route.Prefix)
		}
	default:
		return fmt.Errorf("empty directive")
	}
	return nil
}

// directiveFromAny decodes one jqlite result value (a map[string]any) into
// a Directive, discriminating Neigh from Route by which required field is
// present ("address" for Neigh, "prefix" for Route).
func directiveFromAny(v any) (Directive, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Directive{}, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return Directive{}, fmt.Errorf("directive is not an object: %w", err)
	}

	switch {
	case probe["address"] != nil:
		var n Neigh
		if err := json.Unmarshal(b, &n); err != nil {
			return Directive{}, err
		}
		return Directive{Neigh: &n}, nil
	case probe["prefix"] != nil:
		var r Route
		if err := json.Unmarshal(b, &r); err != nil {
			return Directive{}, err
		}
		return Directive{Route: &r}, nil
	default:
		return Directive{}, fmt.Errorf("directive has neither address nor prefix field")
	}
}

// MarshalJSON re-emits whichever of Neigh/Route is set, flattened (not
// wrapped), so applied directives round-trip the same shape they were
// evaluated from.
func (d Directive) MarshalJSON() ([]byte, error) {
	if d.Neigh != nil {
		return json.Marshal(d.Neigh)
	}
	if d.Route != nil {
		return json.Marshal(d.Route)
	}
	return []byte("null"), nil
}

// SplitForReply groups applied directives into the two reply arrays,
// prevResult.hostNeighbours and prevResult.hostRoutes.
func SplitForReply(applied []Directive) (neighs, routes []json.RawMessage, err error) {
	for _, d := range applied {
		b, marshalErr := json.Marshal(d)
		if marshalErr != nil {
			return nil, nil, marshalErr
		}
		if d.Neigh != nil {
			neighs = append(neighs, b)
		} else {
			routes = append(routes, b)
		}
	}
	return neighs, routes, nil
}
