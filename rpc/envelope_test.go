package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     *Request
		wantErr  bool
		wantID   *int64
		errMatch string
	}{
		{
			name: "valid request",
			raw:  `{"id":7,"method":"getBattery","params":["a",1]}`,
			want: &Request{ID: 7, Method: "getBattery", Params: []json.RawMessage{json.RawMessage(`"a"`), json.RawMessage(`1`)}},
		},
		{
			name: "empty params",
			raw:  `{"id":1,"method":"ping","params":[]}`,
			want: &Request{ID: 1, Method: "ping", Params: []json.RawMessage{}},
		},
		{
			name: "integral float id",
			raw:  `{"id":3.0,"method":"ping","params":[]}`,
			want: &Request{ID: 3, Method: "ping", Params: []json.RawMessage{}},
		},
		{
			name:     "not json",
			raw:      `{"id":`,
			wantErr:  true,
			errMatch: "malformed request",
		},
		{
			name:     "not an object",
			raw:      `null`,
			wantErr:  true,
			errMatch: "envelope is not an object",
		},
		{
			name:     "missing id",
			raw:      `{"method":"ping","params":[]}`,
			wantErr:  true,
			errMatch: "missing id",
		},
		{
			name:     "string id",
			raw:      `{"id":"7","method":"ping","params":[]}`,
			wantErr:  true,
			errMatch: "id must be an integer",
		},
		{
			name:     "fractional id",
			raw:      `{"id":1.5,"method":"ping","params":[]}`,
			wantErr:  true,
			errMatch: "id must be an integer",
		},
		{
			name:     "id beyond int64",
			raw:      `{"id":9223372036854775808,"method":"nope","params":[]}`,
			wantErr:  true,
			errMatch: "id must be an integer",
		},
		{
			name:     "float id beyond int64",
			raw:      `{"id":9.3e18,"method":"nope","params":[]}`,
			wantErr:  true,
			errMatch: "id must be an integer",
		},
		{
			name: "smallest int64 id",
			raw:  `{"id":-9223372036854775808,"method":"ping","params":[]}`,
			want: &Request{ID: -9223372036854775808, Method: "ping", Params: []json.RawMessage{}},
		},
		{
			name:     "missing method keeps id",
			raw:      `{"id":9,"params":[]}`,
			wantErr:  true,
			wantID:   int64Ptr(9),
			errMatch: "missing method",
		},
		{
			name:     "params not an array keeps id",
			raw:      `{"id":4,"method":"ping","params":{"a":1}}`,
			wantErr:  true,
			wantID:   int64Ptr(4),
			errMatch: "params must be an array",
		},
		{
			name:     "null params",
			raw:      `{"id":4,"method":"ping","params":null}`,
			wantErr:  true,
			wantID:   int64Ptr(4),
			errMatch: "params must be an array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.raw))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.want, req)
				return
			}

			require.Error(t, err)
			assert.Nil(t, req)
			assert.True(t, errors.Is(err, ErrMalformedRequest))
			assert.Contains(t, err.Error(), tt.errMatch)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.wantID, decodeErr.ID)
		})
	}
}

func TestEncodeSuccess(t *testing.T) {
	assert.JSONEq(t, `{"id":7,"result":85}`, string(EncodeSuccess(7, 85)))
	assert.JSONEq(t, `{"id":1,"result":null}`, string(EncodeSuccess(1, nil)))
	assert.JSONEq(t, `{"id":2,"result":{"level":3}}`, string(EncodeSuccess(2, map[string]int{"level": 3})))
}

func TestEncodeSuccess_Unserializable(t *testing.T) {
	b := EncodeSuccess(5, make(chan int))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, float64(5), out["id"])
	assert.Contains(t, out["error"], "failed to serialize result")
	assert.NotContains(t, out, "result")
}

func TestEncodeError(t *testing.T) {
	assert.JSONEq(t, `{"id":3,"error":"Unknown RPC."}`, string(EncodeError(3, UnknownRPC)))
	assert.JSONEq(t, `{"id":3,"error":"boom"}`, string(EncodeError(3, errors.New("boom"))))
	assert.JSONEq(t, `{"id":3,"error":"Invocation error."}`, string(EncodeError(3, nil)))
}

func TestResponse_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Response{ID: 1, Result: json.RawMessage(`"x"`), Error: "failed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"error":"failed"}`, string(b))

	b, err = json.Marshal(Response{ID: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2,"result":null}`, string(b))
}

func int64Ptr(v int64) *int64 {
	return &v
}
