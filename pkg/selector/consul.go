// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package selector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cni-kv/plugins/log"
	"github.com/cni-kv/plugins/pkg/cniutil"

	consulapi "github.com/hashicorp/consul/api"
)

// Consul reads the pool assignment from Consul KV at meta/<container-id>,
// for parity with the allocator's own KV backend (pkg/ipamkv).
type Consul struct {
	Servers []string
}

type consulMeta struct {
	Pool        string `json:"pool"`
	RequestedIP string `json:"requestedIp,omitempty"`
}

func (c Consul) Select(ctx context.Context, req *cniutil.Request) ([]cniutil.Pool, error) {
	if len(c.Servers) == 0 {
		return nil, cniutil.NewError(cniutil.CodeMissingField, "missing resource", "ipam.consul_servers is empty")
	}

	key := "meta/" + req.ContainerID

	var errs []string
	for _, server := range c.Servers {
		pool, err := queryConsul(ctx, server, key)
		if err == nil {
			return []cniutil.Pool{pool}, nil
		}
		log.Printf("[selector/consul] %s: %v", server, err)
		errs = append(errs, fmt.Sprintf("%s: %v", server, err))
	}
	return nil, cniutil.NewError(cniutil.CodeFetchFailure, "fetch failure", fmt.Sprintf("all consul servers failed: %v", errs))
}

func queryConsul(ctx context.Context, server, key string) (cniutil.Pool, error) {
	client, err := consulapi.NewClient(&consulapi.Config{Address: server})
	if err != nil {
		return cniutil.Pool{}, err
	}

	kv, _, err := client.KV().Get(key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return cniutil.Pool{}, err
	}
	if kv == nil || kv.Value == nil {
		return cniutil.Pool{}, fmt.Errorf("key %s not found", key)
	}

	var meta consulMeta
	if err := json.Unmarshal(kv.Value, &meta); err != nil {
		return cniutil.Pool{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	if meta.Pool == "" {
		return cniutil.Pool{}, fmt.Errorf("key %s has no pool field", key)
	}

	return cniutil.Pool{Name: meta.Pool, RequestedIP: meta.RequestedIP}, nil
}
