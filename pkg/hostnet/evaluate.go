// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package hostnet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cni-kv/plugins/pkg/hostnet/jqlite"
)

// EvalTimeout is the hard timeout on expression evaluation.
const EvalTimeout = time.Second

// Evaluate runs expr (the `neigh` or `routing` field) against cfg through
// jqlite, on its own goroutine with a hard timeout so a runaway expression
// cannot block the invocation past the budget.
func Evaluate(ctx context.Context, expr string, cfg any) ([]Directive, error) {
	ctx, cancel := context.WithTimeout(ctx, EvalTimeout)
	defer cancel()

	type result struct {
		directives []Directive
		err        error
	}
	ch := make(chan result, 1)

	go func() {
		doc, err := toAny(cfg)
		if err != nil {
			ch <- result{err: err}
			return
		}
		values, err := jqlite.Eval(expr, doc)
		if err != nil {
			ch <- result{err: err}
			return
		}

		directives := make([]Directive, 0, len(values))
		for _, v := range values {
			if v == nil {
				continue
			}
			d, err := directiveFromAny(v)
			if err != nil {
				ch <- result{err: err}
				return
			}
			if err := d.Validate(); err != nil {
				ch <- result{err: err}
				return
			}
			directives = append(directives, d)
		}
		ch <- result{directives: directives}
	}()

	select {
	case r := <-ch:
		return r.directives, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("jq evaluation timed out")
	}
}

// toAny round-trips cfg through JSON so jqlite can walk it as a generic
// map/slice tree regardless of its static Go type.
func toAny(cfg any) (any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
