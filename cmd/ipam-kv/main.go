// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Command ipam-kv is the IPAM allocator: it fetches the pool definition
// and current allocations from the CAS KV store, picks a free IP (or
// honors a requestedIp), writes the assignment with CAS, and releases it
// on DEL.
package main

import (
	"context"

	"github.com/cni-kv/plugins/pkg/allocator"
	"github.com/cni-kv/plugins/pkg/cniutil"
)

func main() {
	cniutil.ParseFlags("ipam-kv")
	cniutil.Run(cniutil.Handlers{
		Add: add,
		Del: del,
	})
}

func add(req *cniutil.Request) (*cniutil.SuccessReply, error) {
	reply, err := cniutil.ParsePrevResult(req.Config.PrevResult)
	if err != nil {
		return nil, err
	}
	reply.CNIVersion = req.Config.CNIVersion

	pools, err := reply.Pools()
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, cniutil.NewError(cniutil.CodeMissingResource, "missing resource", "prevResult.pools[0] is required")
	}

	servers := kvServers(req.Config.IPAM)
	cidr, gateway, err := allocator.Add(context.Background(), servers, pools[0], req.ContainerID)
	if err != nil {
		return nil, err
	}

	reply.IPs = append(reply.IPs, cniutil.IPConfig{Address: cidr, Gateway: gateway})
	return reply, nil
}

func del(req *cniutil.Request) error {
	reply, err := cniutil.ParsePrevResult(req.Config.PrevResult)
	if err != nil {
		return err
	}
	pools, err := reply.Pools()
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		// Nothing to release if the chain never recorded a pool decision.
		return nil
	}

	servers := kvServers(req.Config.IPAM)
	return allocator.Del(context.Background(), servers, pools[0].Name, req.ContainerID)
}

func kvServers(ipam *cniutil.IPAMConfig) []string {
	if ipam == nil {
		return nil
	}
	return ipam.ConsulServers
}
