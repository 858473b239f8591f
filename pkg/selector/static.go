// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package selector

import (
	"context"

	"github.com/cni-kv/plugins/pkg/cniutil"
)

// Static reads pools directly from runtimeConfig.pools, making no network
// calls. It covers the no-orchestrator case, useful for local testing and
// single-host deployments.
type Static struct{}

func (Static) Select(_ context.Context, req *cniutil.Request) ([]cniutil.Pool, error) {
	pools := req.Config.RuntimeConfig.Pools
	if len(pools) == 0 {
		return nil, cniutil.NewError(cniutil.CodeMissingResource, "missing resource", "runtimeConfig.pools is empty")
	}
	return pools, nil
}
