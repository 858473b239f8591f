// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Command ipam-nomad is the orchestrator-backed IPAM selector: it queries
// Nomad task-group metadata for the pool/IP decision, or Consul KV when
// ipam.consul_servers is set instead.
package main

import (
	"context"

	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/cni-kv/plugins/pkg/selector"
)

func main() {
	cniutil.ParseFlags("ipam-nomad")
	cniutil.Run(cniutil.Handlers{
		Add: add,
		Del: del,
	})
}

func add(req *cniutil.Request) (*cniutil.SuccessReply, error) {
	backend := backendFor(req.Config.IPAM)
	return selector.Run(context.Background(), backend, req)
}

func del(req *cniutil.Request) error {
	return nil
}

func backendFor(ipam *cniutil.IPAMConfig) selector.Backend {
	if ipam != nil && len(ipam.ConsulServers) > 0 {
		return selector.Consul{Servers: ipam.ConsulServers}
	}
	var servers []string
	if ipam != nil {
		servers = ipam.NomadServers
	}
	return selector.Nomad{Servers: servers}
}
