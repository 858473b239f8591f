// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package selector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cni-kv/plugins/pkg/cniutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConsulMetaServer fakes the single KV read the Consul selector performs:
// GET /v1/kv/meta/<container-id>, returning the given JSON body base64-wrapped
// in the KV envelope.
func newConsulMetaServer(t *testing.T, containerID string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kv/meta/"+containerID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		enc := base64.StdEncoding.EncodeToString(body)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"Key": "meta/" + containerID, "Value": enc, "CreateIndex": 1, "ModifyIndex": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsulSelectReadsPoolAssignment(t *testing.T) {
	srv := newConsulMetaServer(t, "abc1", []byte(`{"pool":"v4","requestedIp":"10.0.0.5"}`))

	pools, err := Consul{Servers: []string{srv.URL}}.Select(context.Background(), nomadRequest("abc1"))
	require.NoError(t, err)
	assert.Equal(t, []cniutil.Pool{{Name: "v4", RequestedIP: "10.0.0.5"}}, pools)
}

func TestConsulSelectFailsWhenKeyMissing(t *testing.T) {
	srv := newConsulMetaServer(t, "other", []byte(`{"pool":"v4"}`))

	_, err := Consul{Servers: []string{srv.URL}}.Select(context.Background(), nomadRequest("abc1"))
	assert.Error(t, err)
}

func TestConsulSelectFailsWhenPoolFieldAbsent(t *testing.T) {
	srv := newConsulMetaServer(t, "abc1", []byte(`{"requestedIp":"10.0.0.5"}`))

	_, err := Consul{Servers: []string{srv.URL}}.Select(context.Background(), nomadRequest("abc1"))
	assert.Error(t, err)
}

func TestConsulSelectFailsOverToNextServer(t *testing.T) {
	srv := newConsulMetaServer(t, "abc1", []byte(`{"pool":"v4"}`))

	pools, err := Consul{Servers: []string{"http://127.0.0.1:1", srv.URL}}.Select(context.Background(), nomadRequest("abc1"))
	require.NoError(t, err)
	assert.Equal(t, "v4", pools[0].Name)
}

func TestConsulSelectFailsWithNoServersConfigured(t *testing.T) {
	_, err := Consul{}.Select(context.Background(), nomadRequest("abc1"))
	assert.Error(t, err)
}
