// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Command host-neigh is the neighbour half of the host mutator: it
// evaluates the `neigh` expression against the NetworkConfig and programs
// the resulting ARP/NDP entries via netlink.
package main

import (
	"context"
	"encoding/json"

	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/cni-kv/plugins/pkg/hostnet"
)

const exprField = "neigh"
const replyKey = "hostNeighbours"

func main() {
	cniutil.ParseFlags("host-neigh")
	cniutil.Run(cniutil.Handlers{
		Add:   add,
		Del:   del,
		Check: check,
	})
}

func add(req *cniutil.Request) (*cniutil.SuccessReply, error) {
	directives, err := evaluate(req)
	if err != nil {
		return nil, err
	}

	applied, err := hostnet.Apply(directives)
	if err != nil {
		return nil, cniutil.NewError(cniutil.CodeGeneric, "failed to apply neighbour directives", err.Error())
	}

	reply, err := cniutil.ParsePrevResult(req.Config.PrevResult)
	if err != nil {
		return nil, err
	}
	reply.CNIVersion = req.Config.CNIVersion

	neighs, _, err := hostnet.SplitForReply(applied)
	if err != nil {
		return nil, err
	}
	if err := reply.AppendHostDirectives(replyKey, neighs); err != nil {
		return nil, err
	}
	return reply, nil
}

// del re-evaluates the expression against the current config, the same
// way add does, so releasing never depends on a prevResult the runtime
// may not have threaded into the DEL invocation.
func del(req *cniutil.Request) error {
	directives, err := evaluate(req)
	if err != nil {
		return err
	}
	return hostnet.Remove(directives)
}

func check(req *cniutil.Request) error {
	directives, err := evaluate(req)
	if err != nil {
		return err
	}
	return hostnet.Check(directives)
}

func evaluate(req *cniutil.Request) ([]hostnet.Directive, error) {
	raw, ok := req.Config.Extra[exprField]
	if !ok {
		return nil, cniutil.NewError(cniutil.CodeMissingField, "missing field", exprField+" expression is required")
	}
	var expr string
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, cniutil.NewError(cniutil.CodeInvalidField, "invalid field", exprField+" must be a string expression")
	}

	directives, err := hostnet.Evaluate(context.Background(), expr, req.Config)
	if err != nil {
		return nil, cniutil.NewError(cniutil.CodeGeneric, "jq evaluation failed", err.Error())
	}
	return directives, nil
}
