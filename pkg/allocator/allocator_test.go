// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package allocator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPoolServer spins up a fake KV server (a trimmed-down copy of the one
// pkg/ipamkv tests use, since that is a test-only helper unexported from
// that package) seeded with one pool definition at ipam/<pool>.
func newPoolServer(t *testing.T, pool string, rangesJSON string) *httptest.Server {
	t.Helper()
	kv := &fakeKV{values: map[string][]byte{}, indices: map[string]uint64{}}
	kv.values["ipam/"+pool] = []byte(rangesJSON)
	kv.indices["ipam/"+pool] = kv.bump()
	srv := httptest.NewServer(http.HandlerFunc(kv.handle))
	t.Cleanup(srv.Close)
	return srv
}

// fakeKV is a minimal stand-in for Consul's /v1/kv and /v1/txn endpoints,
// enough of the wire protocol for hashicorp/consul/api's client to drive
// the allocator end-to-end against.
type fakeKV struct {
	mu      sync.Mutex
	values  map[string][]byte
	indices map[string]uint64
	next    uint64
}

func (f *fakeKV) bump() uint64 {
	f.next++
	return f.next
}

type kvPair struct {
	Key         string
	Value       *string
	CreateIndex uint64
	ModifyIndex uint64
}

func (f *fakeKV) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/txn" {
		f.handleTxn(w, r)
		return
	}
	key := r.URL.Path[len("/v1/kv/"):]
	switch r.Method {
	case http.MethodGet:
		f.handleGet(w, key, r.URL.Query().Has("recurse"))
	case http.MethodPut:
		f.handlePut(w, key, r)
	}
}

func (f *fakeKV) handleGet(w http.ResponseWriter, key string, recurse bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pairs []kvPair
	add := func(k string, v []byte) {
		enc := encodeB64(v)
		pairs = append(pairs, kvPair{Key: k, Value: &enc, ModifyIndex: f.indices[k], CreateIndex: f.indices[k]})
	}
	if recurse {
		for k, v := range f.values {
			if len(k) >= len(key) && k[:len(key)] == key {
				add(k, v)
			}
		}
	} else if v, ok := f.values[key]; ok {
		add(key, v)
	}
	if len(pairs) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(pairs)
}

func (f *fakeKV) handlePut(w http.ResponseWriter, key string, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	casParam := r.URL.Query().Get("cas")
	f.mu.Lock()
	defer f.mu.Unlock()
	if casParam != "" {
		cas, _ := strconv.ParseUint(casParam, 10, 64)
		_, exists := f.values[key]
		if (cas == 0 && exists) || (cas != 0 && f.indices[key] != cas) {
			_, _ = w.Write([]byte("false"))
			return
		}
	}
	f.values[key] = body
	f.indices[key] = f.bump()
	_, _ = w.Write([]byte("true"))
}

type txnOp struct {
	KV *struct {
		Verb  string
		Key   string
		Index uint64
	}
}

func (f *fakeKV) handleTxn(w http.ResponseWriter, r *http.Request) {
	var ops []txnOp
	_ = json.NewDecoder(r.Body).Decode(&ops)
	f.mu.Lock()
	defer f.mu.Unlock()

	var conflicts []map[string]any
	for i, op := range ops {
		if op.KV != nil && f.indices[op.KV.Key] != op.KV.Index {
			conflicts = append(conflicts, map[string]any{"OpIndex": i, "What": "cas mismatch"})
		}
	}
	if len(conflicts) > 0 {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"Errors": conflicts})
		return
	}
	for _, op := range ops {
		if op.KV != nil {
			delete(f.values, op.KV.Key)
			delete(f.indices, op.KV.Key)
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"Results": []any{}})
}

func encodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Fresh allocation picks the first free IP.
func TestAddFreshAllocation(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/29","gateway":"10.0.0.1"}]`)
	cidr, gw, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "abc1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2/29", cidr)
	assert.Equal(t, "10.0.0.1", gw)
}

// A requestedIp inside the pool is honored verbatim.
func TestAddRequestedIPInsideRange(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/29","gateway":"10.0.0.1"}]`)
	cidr, gw, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4", RequestedIP: "10.0.0.5"}, "abc1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5/29", cidr)
	assert.Equal(t, "10.0.0.1", gw)
}

// A requestedIp outside every range fails with IPNotInPool.
func TestAddRequestedIPOutOfPool(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/29","gateway":"10.0.0.1"}]`)
	_, _, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4", RequestedIP: "10.1.0.5"}, "abc1")
	require.Error(t, err)
	cniErr := cniutil.AsCNIError(err)
	assert.EqualValues(t, cniutil.CodeIPNotInPool, cniErr.Code)
}

// A full pool fails with PoolFull.
func TestAddPoolFull(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/30","gateway":"10.0.0.1"}]`)
	// .0 through .3: .1 is gateway (skipped), .0/.3 are network/broadcast
	// (skipped) -- the only allocatable address is .2. Take it first.
	_, _, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "first")
	require.NoError(t, err)

	_, _, err = Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "second")
	require.Error(t, err)
	cniErr := cniutil.AsCNIError(err)
	assert.EqualValues(t, cniutil.CodePoolFull, cniErr.Code)
}

// DEL releases every allocation owned by the container id.
func TestDelReleasesOwnedAllocations(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/29","gateway":"10.0.0.1"}]`)
	_, _, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "abc1")
	require.NoError(t, err)

	require.NoError(t, Del(context.Background(), []string{srv.URL}, "v4", "abc1"))

	// Re-allocating the same container id should now get the same first
	// free address again, proving the earlier entry was actually released.
	cidr, _, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "abc1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2/29", cidr)
}

func TestDelIsNoopWhenNothingOwned(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/29","gateway":"10.0.0.1"}]`)
	assert.NoError(t, Del(context.Background(), []string{srv.URL}, "v4", "nobody"))
}

func TestAddMissingPoolDefinitionIsInvalidResource(t *testing.T) {
	kv := &fakeKV{values: map[string][]byte{}, indices: map[string]uint64{}}
	srv := httptest.NewServer(http.HandlerFunc(kv.handle))
	defer srv.Close()

	_, _, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "abc1")
	require.Error(t, err)
	cniErr := cniutil.AsCNIError(err)
	assert.EqualValues(t, cniutil.CodeInvalidResource, cniErr.Code)
}

// Of two concurrent ADDs racing for the same single-address pool with no
// requestedIp, at most one succeeds.
func TestConcurrentAddsForSameAddressAtMostOneSucceeds(t *testing.T) {
	srv := newPoolServer(t, "v4", `[{"subnet":"10.0.0.0/30","gateway":"10.0.0.1"}]`)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := Add(context.Background(), []string{srv.URL}, cniutil.Pool{Name: "v4"}, "racer")
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestDefaultRouteForPicksFamilyByGateway(t *testing.T) {
	assert.Equal(t, "0.0.0.0/0", DefaultRouteFor("10.0.0.1").Dst)
	assert.Equal(t, "::/0", DefaultRouteFor("2001:db8::1").Dst)
}
