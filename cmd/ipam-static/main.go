// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Command ipam-static is the no-orchestrator IPAM selector, reading
// runtimeConfig.pools directly. It performs no network calls, which makes
// it useful for local testing and single-host deployments.
package main

import (
	"context"

	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/cni-kv/plugins/pkg/selector"
)

func main() {
	cniutil.ParseFlags("ipam-static")
	cniutil.Run(cniutil.Handlers{
		Add: add,
		Del: del,
	})
}

func add(req *cniutil.Request) (*cniutil.SuccessReply, error) {
	return selector.Run(context.Background(), selector.Static{}, req)
}

func del(req *cniutil.Request) error {
	// The selector never allocates anything, so it has nothing to release.
	return nil
}
