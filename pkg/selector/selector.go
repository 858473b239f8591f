// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package selector implements the IPAM selector component: pure
// translation from orchestrator metadata to a pools[] decision, with no
// allocation performed here.
package selector

import (
	"context"

	"github.com/cni-kv/plugins/pkg/cniutil"
)

// Backend isolates orchestrator-specific logic behind one method: given
// the request, decide which pool(s) to draw from.
type Backend interface {
	// Select returns the pools[] decision for req, or an error classified
	// via cniutil's error codes (missing resource, fetch failure, ...).
	Select(ctx context.Context, req *cniutil.Request) ([]cniutil.Pool, error)
}

// Run drives a selector plugin's ADD: ask b for the pools decision, carry
// forward prevResult verbatim otherwise, and stash pools[] under
// prevResult.pools for the next delegate in the chain.
func Run(ctx context.Context, b Backend, req *cniutil.Request) (*cniutil.SuccessReply, error) {
	reply, err := cniutil.ParsePrevResult(req.Config.PrevResult)
	if err != nil {
		return nil, err
	}
	reply.CNIVersion = req.Config.CNIVersion

	pools, err := b.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := reply.SetPools(pools); err != nil {
		return nil, err
	}
	return reply, nil
}
