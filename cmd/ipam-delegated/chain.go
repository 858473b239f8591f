// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package main

import (
	"context"

	"github.com/cni-kv/plugins/log"
	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/cni-kv/plugins/pkg/delegate"
)

// delegateChain calls the delegation driver once per entry in
// ipam.delegates[], rolling back every previously-succeeded plugin in
// reverse order if any ADD fails.
func delegateChain(ctx context.Context, req *cniutil.Request) (*cniutil.SuccessReply, error) {
	return delegate.Chain(ctx, delegateChainNames(req), req.Config)
}

// delegateDelAll releases every delegate in reverse order, continuing past
// individual failures (each is logged) so a single bad sub-plugin can't
// block cleanup of the rest.
func delegateDelAll(req *cniutil.Request) error {
	names := delegateChainNames(req)
	var lastErr error
	for i := len(names) - 1; i >= 0; i-- {
		if err := delegate.Del(context.Background(), names[i], req.Config); err != nil {
			log.Printf("[ipam-delegated] DEL %s failed: %v", names[i], err)
			lastErr = err
		}
	}
	return lastErr
}
