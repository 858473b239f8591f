// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package ipamkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialProbesServersInOrderAndUsesFirstReachable(t *testing.T) {
	bad := "http://127.0.0.1:1" // nothing listens here
	fake := newFakeConsulKV()
	srv := fake.server()
	defer srv.Close()

	store, err := Dial(context.Background(), []string{bad, srv.URL})
	require.NoError(t, err)
	assert.Equal(t, srv.URL, store.Addr())
}

func TestDialFailsWhenNoServerReachable(t *testing.T) {
	_, err := Dial(context.Background(), []string{"http://127.0.0.1:1", "http://127.0.0.1:2"})
	assert.Error(t, err)
}

func TestDialFailsWhenNoServersConfigured(t *testing.T) {
	_, err := Dial(context.Background(), nil)
	assert.Error(t, err)
}

func TestGetReturnsNilForMissingKey(t *testing.T) {
	fake := newFakeConsulKV()
	srv := fake.server()
	defer srv.Close()
	store, err := Dial(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	entry, err := store.Get(context.Background(), "ipam/v4")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetReturnsDecodedValue(t *testing.T) {
	fake := newFakeConsulKV()
	fake.seed("ipam/v4", []byte(`[{"subnet":"10.0.0.0/29"}]`))
	srv := fake.server()
	defer srv.Close()
	store, err := Dial(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	entry, err := store.Get(context.Background(), "ipam/v4")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.JSONEq(t, `[{"subnet":"10.0.0.0/29"}]`, string(entry.Value))
	assert.NotZero(t, entry.ModifyIndex)
}

func TestListFiltersToPrefixOnly(t *testing.T) {
	fake := newFakeConsulKV()
	fake.seed("ipam/v4/10.0.0.2", []byte(`{"target":"c1"}`))
	fake.seed("ipam/v4/10.0.0.3", []byte(`{"target":"c2"}`))
	fake.seed("ipam/v6/::1", []byte(`{"target":"c3"}`))
	srv := fake.server()
	defer srv.Close()
	store, err := Dial(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	entries, err := store.List(context.Background(), "ipam/v4/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPutCASCreateIfAbsentSucceedsOnceThenFails(t *testing.T) {
	fake := newFakeConsulKV()
	srv := fake.server()
	defer srv.Close()
	store, err := Dial(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	require.NoError(t, store.PutCAS(context.Background(), "ipam/v4/10.0.0.2", []byte(`{"target":"c1"}`), 0))

	// A second cas=0 write to the same key must lose the race.
	err = store.PutCAS(context.Background(), "ipam/v4/10.0.0.2", []byte(`{"target":"c2"}`), 0)
	assert.Error(t, err)
}

func TestDeleteCASBatchReleasesMatchingEntries(t *testing.T) {
	fake := newFakeConsulKV()
	fake.seed("ipam/v4/10.0.0.2", []byte(`{"target":"c1"}`))
	srv := fake.server()
	defer srv.Close()
	store, err := Dial(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	entry, err := store.Get(context.Background(), "ipam/v4/10.0.0.2")
	require.NoError(t, err)

	require.NoError(t, store.DeleteCASBatch(context.Background(), []Entry{*entry}))

	after, err := store.Get(context.Background(), "ipam/v4/10.0.0.2")
	require.NoError(t, err)
	assert.Nil(t, after)
}

func TestDeleteCASBatchFallsBackToBestEffortOnConflict(t *testing.T) {
	fake := newFakeConsulKV()
	fake.seed("ipam/v4/10.0.0.2", []byte(`{"target":"c1"}`))
	fake.seed("ipam/v4/10.0.0.3", []byte(`{"target":"c1"}`))
	srv := fake.server()
	defer srv.Close()
	store, err := Dial(context.Background(), []string{srv.URL})
	require.NoError(t, err)

	e2, err := store.Get(context.Background(), "ipam/v4/10.0.0.2")
	require.NoError(t, err)
	e3, err := store.Get(context.Background(), "ipam/v4/10.0.0.3")
	require.NoError(t, err)

	// Simulate a concurrent writer bumping .2's ModifyIndex between our
	// read and our delete, so the batched transaction CAS-fails on it but
	// .3's release should still succeed via the best-effort fallback.
	require.NoError(t, store.PutCAS(context.Background(), "ipam/v4/10.0.0.2", []byte(`{"target":"c9"}`), e2.ModifyIndex))
	bumped, err := store.Get(context.Background(), "ipam/v4/10.0.0.2")
	require.NoError(t, err)
	require.NotEqual(t, e2.ModifyIndex, bumped.ModifyIndex)

	err = store.DeleteCASBatch(context.Background(), []Entry{*e2, *e3})
	assert.Error(t, err) // .2's stale CAS token fails

	after3, err := store.Get(context.Background(), "ipam/v4/10.0.0.3")
	require.NoError(t, err)
	assert.Nil(t, after3, ".3 should still be released despite .2's conflict")
}
