package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is the decrypted client->server payload shape.
type Request struct {
	Action string         `json:"action"`
	Value  map[string]any `json:"value"`
}

// Response is the decrypted server->client payload shape. Value carries
// the operation result on success and a human-readable description on
// failure.
type Response struct {
	Success bool `json:"success"`
	Value   any  `json:"value"`
}

// OK builds a success response.
func OK(value any) Response {
	return Response{Success: true, Value: value}
}

// Fail builds an action-level failure response.
func Fail(format string, args ...any) Response {
	return Response{Success: false, Value: fmt.Sprintf(format, args...)}
}

// DecodeRequest parses a decrypted payload into a Request.
func DecodeRequest(plaintext []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if req.Action == "" {
		return Request{}, fmt.Errorf("%w: missing action", ErrPayloadInvalid)
	}
	return req, nil
}

// EncodeResponse serializes a Response to its plaintext payload bytes.
func EncodeResponse(resp Response) ([]byte, error) {
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	return out, nil
}

// DecodeResponse parses a decrypted payload into a Response. Used by the
// client side of the protocol.
func DecodeResponse(plaintext []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(plaintext, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	return resp, nil
}

// EncodeRequest serializes a Request to its plaintext payload bytes.
// Used by the client side of the protocol.
func EncodeRequest(req Request) ([]byte, error) {
	out, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	return out, nil
}
