package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// UnknownRPC is the error text returned for methods that cannot be resolved.
const UnknownRPC = "Unknown RPC."

// ErrMalformedRequest is wrapped by every DecodeError.
var ErrMalformedRequest = errors.New("malformed request")

// Request represents a call envelope sent by the script side.
type Request struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Response represents the reply to exactly one Request. Exactly one of
// Result and Error is put on the wire.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IsError reports whether the response carries an error.
func (r Response) IsError() bool {
	return r.Error != ""
}

// MarshalJSON writes {"id","result"} or {"id","error"}; a missing result becomes null.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.IsError() {
		return json.Marshal(struct {
			ID    int64  `json:"id"`
			Error string `json:"error"`
		}{ID: r.ID, Error: r.Error})
	}

	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
	}{ID: r.ID, Result: result})
}

// DecodeError describes a request that could not be decoded. ID is set when
// the id could still be read from the envelope.
type DecodeError struct {
	ID     *int64
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedRequest.Error(), e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformedRequest
}

// Decode parses a raw request envelope.
func Decode(raw []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if fields == nil {
		return nil, &DecodeError{Reason: "envelope is not an object"}
	}

	rawID, ok := fields["id"]
	if !ok {
		return nil, &DecodeError{Reason: "missing id"}
	}
	id, err := decodeID(rawID)
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	rawMethod, ok := fields["method"]
	if !ok {
		return nil, &DecodeError{ID: &id, Reason: "missing method"}
	}
	var method string
	if err := json.Unmarshal(rawMethod, &method); err != nil || isNull(rawMethod) {
		return nil, &DecodeError{ID: &id, Reason: "method must be a string"}
	}

	rawParams, ok := fields["params"]
	if !ok {
		return nil, &DecodeError{ID: &id, Reason: "missing params"}
	}
	var params []json.RawMessage
	if err := json.Unmarshal(rawParams, &params); err != nil || isNull(rawParams) {
		return nil, &DecodeError{ID: &id, Reason: "params must be an array"}
	}
	if params == nil {
		params = []json.RawMessage{}
	}

	return &Request{ID: id, Method: method, Params: params}, nil
}

// EncodeSuccess encodes a success envelope. A value that cannot be serialized
// turns into an error envelope describing the failure.
func EncodeSuccess(id int64, value interface{}) []byte {
	result, err := json.Marshal(value)
	if err != nil {
		return EncodeError(id, fmt.Errorf("failed to serialize result: %w", err))
	}
	return encode(Response{ID: id, Result: result})
}

// EncodeError encodes an error envelope from an error or a message string.
func EncodeError(id int64, cause interface{}) []byte {
	return encode(Response{ID: id, Error: describe(cause)})
}

func encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Only reachable with an invalid RawMessage result.
		b, _ = json.Marshal(Response{ID: resp.ID, Error: fmt.Sprintf("failed to serialize result: %v", err)})
	}
	return b
}

func describe(cause interface{}) string {
	var msg string
	switch c := cause.(type) {
	case nil:
	case string:
		msg = c
	case error:
		msg = c.Error()
	case fmt.Stringer:
		msg = c.String()
	default:
		msg = fmt.Sprint(c)
	}
	if msg == "" {
		return "Invocation error."
	}
	return msg
}

func decodeID(raw json.RawMessage) (int64, error) {
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		return 0, fmt.Errorf("id must be an integer")
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, fmt.Errorf("id must be an integer")
	}
	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, fmt.Errorf("id must be an integer")
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
