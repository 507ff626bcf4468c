package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/scriptbridge/journal"
	"github.com/shaharia-lab/scriptbridge/rpc"
)

func TestRegistry(t *testing.T) {
	var published []string
	publish := func(_ context.Context, name string, data json.RawMessage) error {
		published = append(published, name+"="+string(data))
		return nil
	}
	registry, err := newRegistry(publish, journal.NewInMemoryJournal())
	require.NoError(t, err)

	d := rpc.NewDispatcher(registry)
	ctx := context.Background()

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{name: "ping", request: `{"id":1,"method":"ping","params":[]}`, want: `{"id":1,"result":"pong"}`},
		{name: "echo", request: `{"id":2,"method":"echo","params":[{"a":1}]}`, want: `{"id":2,"result":{"a":1}}`},
		{name: "post event", request: `{"id":3,"method":"postEvent","params":["battery",{"level":3}]}`, want: `{"id":3,"result":true}`},
		{name: "post event without data", request: `{"id":4,"method":"postEvent","params":["tick"]}`, want: `{"id":4,"result":true}`},
		{name: "empty history", request: `{"id":5,"method":"callHistory","params":["nobody"]}`, want: `{"id":5,"result":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := d.Serve(ctx, []byte(tt.request))
			require.True(t, ok)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
	assert.Equal(t, []string{`battery={"level":3}`, `tick=null`}, published)

	out, ok := d.Serve(ctx, []byte(`{"id":6,"method":"listCapabilities","params":[]}`))
	require.True(t, ok)
	var resp struct {
		Result []capabilityInfo `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	var names []string
	for _, info := range resp.Result {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"callHistory", "echo", "listCapabilities", "now", "ping", "postEvent"}, names)
}
