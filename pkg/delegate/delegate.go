// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package delegate implements the CNI delegation driver: invoking a
// sub-plugin binary with the CNI protocol, and rolling back ADDs that
// fail partway through a chain.
package delegate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cni-kv/plugins/log"
	"github.com/cni-kv/plugins/pkg/cniutil"

	cniInvoke "github.com/containernetworking/cni/pkg/invoke"
	cniTypes "github.com/containernetworking/cni/pkg/types"
)

// Add invokes pluginName's ADD command with cfg on stdin, using the
// official pkg/invoke helper for CNI_PATH lookup and subprocess plumbing.
func Add(ctx context.Context, pluginName string, cfg *cniutil.NetworkConfig) (*cniutil.SuccessReply, error) {
	log.Printf("[delegate] %s ADD", pluginName)

	res, err := cniInvoke.DelegateAdd(ctx, pluginName, cfg.Serialize(), nil)
	if err != nil {
		return nil, fmt.Errorf("delegate %s: %w", pluginName, err)
	}

	reply, err := decodeResult(res)
	if err != nil {
		return nil, fmt.Errorf("delegate %s: %w", pluginName, err)
	}
	return reply, nil
}

// Del invokes pluginName's DEL command. Failures here are returned to the
// caller, who must log-and-swallow them during rollback.
func Del(ctx context.Context, pluginName string, cfg *cniutil.NetworkConfig) error {
	log.Printf("[delegate] %s DEL", pluginName)

	if err := cniInvoke.DelegateDel(ctx, pluginName, cfg.Serialize(), nil); err != nil {
		return fmt.Errorf("delegate %s: %w", pluginName, err)
	}
	return nil
}

// AddWithRollback invokes ADD and, if it fails, immediately invokes DEL
// on the same sub-plugin/config before surfacing the original error. A
// failure of the cleanup DEL is logged, never masking the original error.
func AddWithRollback(ctx context.Context, pluginName string, cfg *cniutil.NetworkConfig) (*cniutil.SuccessReply, error) {
	reply, err := Add(ctx, pluginName, cfg)
	if err == nil {
		return reply, nil
	}

	if delErr := Del(ctx, pluginName, cfg); delErr != nil {
		log.Printf("[delegate] rollback DEL for %s failed: %v", pluginName, delErr)
	}
	return nil, err
}

// Chain runs each name in names through AddWithRollback in order, piping
// each reply as the next config's prevResult. If any step fails, every
// step that already succeeded is rolled back with DEL in reverse order
// before the outer error is returned.
func Chain(ctx context.Context, names []string, base *cniutil.NetworkConfig) (*cniutil.SuccessReply, error) {
	var succeeded []string
	cfg := *base

	var last *cniutil.SuccessReply
	for _, name := range names {
		reply, err := AddWithRollback(ctx, name, &cfg)
		if err != nil {
			rollbackChain(ctx, succeeded, base)
			return nil, fmt.Errorf("delegated chain failed at %s: %w", name, err)
		}

		succeeded = append(succeeded, name)
		last = reply

		b, marshalErr := encodeReply(reply)
		if marshalErr != nil {
			rollbackChain(ctx, succeeded, base)
			return nil, fmt.Errorf("delegated chain: re-encoding %s reply: %w", name, marshalErr)
		}
		cfg.PrevResult = b
	}

	return last, nil
}

// rollbackChain invokes DEL on every plugin in succeeded, in reverse order,
// continuing past individual failures (each is logged, never fatal).
func rollbackChain(ctx context.Context, succeeded []string, base *cniutil.NetworkConfig) {
	for i := len(succeeded) - 1; i >= 0; i-- {
		name := succeeded[i]
		if err := Del(ctx, name, base); err != nil {
			log.Printf("[delegate] chain rollback DEL for %s failed: %v", name, err)
		}
	}
}

// decodeResult re-marshals whatever concrete cniTypes.Result the delegate
// returned (e.g. a types100.Result) into this suite's SuccessReply, the
// same "decode via JSON round-trip" idiom cniutil.ParsePrevResult uses for
// prevResult.
func decodeResult(res cniTypes.Result) (*cniutil.SuccessReply, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("re-encoding delegate result: %w", err)
	}
	var reply cniutil.SuccessReply
	if err := json.Unmarshal(b, &reply); err != nil {
		return nil, fmt.Errorf("decoding delegate result: %w", err)
	}
	return &reply, nil
}

// encodeReply marshals a SuccessReply for use as the next delegate's
// prevResult input.
func encodeReply(reply *cniutil.SuccessReply) ([]byte, error) {
	return json.Marshal(reply)
}
