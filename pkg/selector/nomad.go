// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package selector

import (
	"context"
	"fmt"

	"github.com/cni-kv/plugins/log"
	"github.com/cni-kv/plugins/pkg/cniutil"

	nomadapi "github.com/hashicorp/nomad/api"
)

// Nomad queries a Nomad agent for the allocation's task-group metadata,
// reading the "network-pool"/"network-ip" meta entries, with failover
// across Servers tried in order.
type Nomad struct {
	Servers []string
}

func (n Nomad) Select(ctx context.Context, req *cniutil.Request) ([]cniutil.Pool, error) {
	if len(n.Servers) == 0 {
		return nil, cniutil.NewError(cniutil.CodeMissingField, "missing resource", "ipam.nomad_servers is empty")
	}

	var errs []string
	for _, server := range n.Servers {
		pool, err := queryNomad(ctx, server, req.ContainerID)
		if err == nil {
			return []cniutil.Pool{pool}, nil
		}
		log.Printf("[selector/nomad] %s: %v", server, err)
		errs = append(errs, fmt.Sprintf("%s: %v", server, err))
	}
	return nil, cniutil.NewError(cniutil.CodeFetchFailure, "fetch failure", fmt.Sprintf("all nomad servers failed: %v", errs))
}

func queryNomad(ctx context.Context, server, allocID string) (cniutil.Pool, error) {
	client, err := nomadapi.NewClient(&nomadapi.Config{Address: server})
	if err != nil {
		return cniutil.Pool{}, err
	}

	alloc, _, err := client.Allocations().Info(allocID, (&nomadapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return cniutil.Pool{}, err
	}
	if alloc.Job == nil {
		return cniutil.Pool{}, fmt.Errorf("allocation %s has no job", allocID)
	}

	var meta map[string]string
	for _, tg := range alloc.Job.TaskGroups {
		if tg.Name != nil && *tg.Name == alloc.TaskGroup {
			meta = tg.Meta
			break
		}
	}
	if meta == nil {
		return cniutil.Pool{}, fmt.Errorf("task group %q not found in job %s", alloc.TaskGroup, allocID)
	}

	name, ok := meta["network-pool"]
	if !ok || name == "" {
		return cniutil.Pool{}, fmt.Errorf("task group %q has no network-pool meta", alloc.TaskGroup)
	}

	return cniutil.Pool{Name: name, RequestedIP: meta["network-ip"]}, nil
}
