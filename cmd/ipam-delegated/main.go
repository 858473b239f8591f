// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Command ipam-delegated is the delegating IPAM plugin: given
// ipam.delegates[], it chains to each sub-plugin in turn, rolling back on
// failure. When ipam.delegates is empty it instead runs the selector and
// allocator in-process as a single all-in-one plugin, additionally
// emitting a default route via the allocated gateway.
package main

import (
	"context"

	"github.com/cni-kv/plugins/pkg/allocator"
	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/cni-kv/plugins/pkg/selector"
)

func main() {
	cniutil.ParseFlags("ipam-delegated")
	cniutil.Run(cniutil.Handlers{
		Add: add,
		Del: del,
	})
}

func add(req *cniutil.Request) (*cniutil.SuccessReply, error) {
	ctx := context.Background()

	if ipam := req.Config.IPAM; ipam != nil && len(ipam.Delegates) > 0 {
		return delegateChain(ctx, req)
	}
	return inlineAllInOne(ctx, req)
}

func del(req *cniutil.Request) error {
	if ipam := req.Config.IPAM; ipam != nil && len(ipam.Delegates) > 0 {
		return delegateDelAll(req)
	}
	return inlineDel(req)
}

func inlineAllInOne(ctx context.Context, req *cniutil.Request) (*cniutil.SuccessReply, error) {
	reply, err := selector.Run(ctx, backendFor(req.Config.IPAM), req)
	if err != nil {
		return nil, err
	}

	pools, err := reply.Pools()
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, cniutil.NewError(cniutil.CodeMissingResource, "missing resource", "selector produced no pools")
	}

	servers := kvServers(req.Config.IPAM)
	cidr, gateway, err := allocator.Add(ctx, servers, pools[0], req.ContainerID)
	if err != nil {
		return nil, err
	}

	reply.IPs = append(reply.IPs, cniutil.IPConfig{Address: cidr, Gateway: gateway})
	if gateway != "" {
		reply.Routes = append(reply.Routes, allocator.DefaultRouteFor(gateway))
	}
	return reply, nil
}

func inlineDel(req *cniutil.Request) error {
	reply, err := cniutil.ParsePrevResult(req.Config.PrevResult)
	if err != nil {
		return err
	}
	pools, err := reply.Pools()
	if err != nil || len(pools) == 0 {
		return err
	}
	return allocator.Del(context.Background(), kvServers(req.Config.IPAM), pools[0].Name, req.ContainerID)
}

func delegateChainNames(req *cniutil.Request) []string {
	if req.Config.IPAM == nil {
		return nil
	}
	return req.Config.IPAM.Delegates
}

func backendFor(ipam *cniutil.IPAMConfig) selector.Backend {
	if ipam != nil && len(ipam.ConsulServers) > 0 {
		return selector.Consul{Servers: ipam.ConsulServers}
	}
	if ipam != nil && len(ipam.NomadServers) > 0 {
		return selector.Nomad{Servers: ipam.NomadServers}
	}
	return selector.Static{}
}

func kvServers(ipam *cniutil.IPAMConfig) []string {
	if ipam == nil {
		return nil
	}
	return ipam.ConsulServers
}
