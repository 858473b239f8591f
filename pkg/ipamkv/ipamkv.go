// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package ipamkv wraps the CAS KV store that backs the IPAM allocator:
// GET, GET-with-recurse, PUT-with-CAS, and a batched delete-cas
// transaction, on top of github.com/hashicorp/consul/api.
package ipamkv

import (
	"context"
	"fmt"

	"github.com/cni-kv/plugins/log"
	"github.com/cni-kv/plugins/pkg/cniutil"

	consulapi "github.com/hashicorp/consul/api"
	pkgerrors "github.com/pkg/errors"
)

// Entry is one decoded KV envelope, with the base64(Value) already
// stripped off by the client library.
type Entry struct {
	Key         string
	Value       []byte
	ModifyIndex uint64
}

// Store is a dialed handle to one KV server: GET/recurse, PUT-with-cas
// and batched delete-cas transactions.
type Store struct {
	client *consulapi.Client
	addr   string
}

// Dial probes servers in order and uses the first that answers a
// v1/kv/ipam/ read. All failures are recorded for diagnostics.
func Dial(ctx context.Context, servers []string) (*Store, error) {
	if len(servers) == 0 {
		return nil, cniutil.NewError(cniutil.CodeMissingField, "missing resource", "no KV servers configured")
	}

	var errs []string
	for _, addr := range servers {
		client, err := consulapi.NewClient(&consulapi.Config{Address: addr})
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", addr, err))
			continue
		}
		if _, _, err := client.KV().List("ipam/", (&consulapi.QueryOptions{}).WithContext(ctx)); err != nil {
			log.Printf("[ipamkv] probe %s failed: %v", addr, err)
			errs = append(errs, fmt.Sprintf("%s: %v", addr, err))
			continue
		}
		return &Store{client: client, addr: addr}, nil
	}
	return nil, cniutil.NewError(cniutil.CodeFetchFailure, "fetch failure", fmt.Sprintf("no KV server reachable: %v", errs))
}

// Addr is the server this Store ended up dialed to, for diagnostics.
func (s *Store) Addr() string { return s.addr }

// Get fetches a single key. A missing key or a null-Value tombstone
// returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	kv, _, err := s.client.KV().Get(key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, cniutil.NewError(cniutil.CodeFetchFailure, "fetch failure", pkgerrors.Wrap(err, "KV.Get "+key).Error())
	}
	if kv == nil || kv.Value == nil {
		return nil, nil
	}
	return &Entry{Key: kv.Key, Value: kv.Value, ModifyIndex: kv.ModifyIndex}, nil
}

// List fetches every key under prefix (GET with recurse), filtering out
// null-Value tombstone/directory markers.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	pairs, _, err := s.client.KV().List(prefix, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, cniutil.NewError(cniutil.CodeFetchFailure, "fetch failure", pkgerrors.Wrap(err, "KV.List "+prefix).Error())
	}

	entries := make([]Entry, 0, len(pairs))
	for _, kv := range pairs {
		if kv.Value == nil {
			continue
		}
		entries = append(entries, Entry{Key: kv.Key, Value: kv.Value, ModifyIndex: kv.ModifyIndex})
	}
	return entries, nil
}

// PutCAS writes key=value, succeeding only if the key's current
// ModifyIndex equals cas (cas=0 means create-if-absent). A false response
// body or an HTTP conflict means the write lost the race.
func (s *Store) PutCAS(ctx context.Context, key string, value []byte, cas uint64) error {
	pair := &consulapi.KVPair{Key: key, Value: value, ModifyIndex: cas}
	ok, _, err := s.client.KV().CAS(pair, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return cniutil.NewError(cniutil.CodeKVWriteFailed, "ConsulWriteFailed", err.Error())
	}
	if !ok {
		return cniutil.NewError(cniutil.CodeKVWriteFailed, "ConsulWriteFailed", fmt.Sprintf("CAS mismatch on %s", key))
	}
	return nil
}

// Put writes key=value unconditionally.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	pair := &consulapi.KVPair{Key: key, Value: value}
	_, err := s.client.KV().Put(pair, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return cniutil.NewError(cniutil.CodeKVWriteFailed, "ConsulWriteFailed", err.Error())
	}
	return nil
}

// DeleteCASBatch submits a batched delete-cas transaction: every entry
// must match its recorded ModifyIndex or the whole batch fails with a
// 409. Release is best-effort per-key rather than atomic: on a 409 we
// fall back to deleting each key individually and return the joined
// per-key errors instead of aborting the whole DEL. An address that was
// legitimately reallocated between our read and our delete must not
// block the release of the rest.
func (s *Store) DeleteCASBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ops := make(consulapi.KVTxnOps, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, &consulapi.KVTxnOp{
			Verb:  consulapi.KVDeleteCAS,
			Key:   e.Key,
			Index: e.ModifyIndex,
		})
	}

	ok, resp, _, err := s.client.KV().Txn(ops, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err == nil && ok {
		return nil
	}

	var txnErrs []string
	if resp != nil {
		for _, e := range resp.Errors {
			txnErrs = append(txnErrs, e.What)
		}
	}
	if err != nil {
		txnErrs = append(txnErrs, err.Error())
	}
	log.Printf("[ipamkv] batched delete-cas failed (%v); falling back to best-effort per-key delete", txnErrs)

	var failed []string
	for _, e := range entries {
		pair := &consulapi.KVPair{Key: e.Key, ModifyIndex: e.ModifyIndex}
		ok, _, err := s.client.KV().DeleteCAS(pair, (&consulapi.WriteOptions{}).WithContext(ctx))
		if err != nil || !ok {
			failed = append(failed, e.Key)
			log.Printf("[ipamkv] best-effort delete of %s failed: %v", e.Key, err)
		}
	}
	if len(failed) > 0 {
		return cniutil.NewError(cniutil.CodeKVWriteFailed, "ConsulWriteFailed", fmt.Sprintf("failed to release: %v", failed))
	}
	return nil
}
