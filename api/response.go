package api

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/dfmerror"
)

// Response body discriminators.
const (
	ClassValueResponse     = "dfm.api.response.ValueResponse"
	ClassStatusResponse    = "dfm.api.response.StatusResponse"
	ClassHeartbeatResponse = "dfm.api.response.HeartbeatResponse"
	ClassErrorResponse     = "dfm.api.response.ErrorResponse"
)

type (
	// ResponseBody is one variant of the response tagged union.
	ResponseBody interface {
		ResponseClass() string
	}

	// Response is one message streamed back to the submitting client. The
	// timestamp is server-assigned; the node identifier names the originating
	// graph node when there is one.
	Response struct {
		NodeID    *uuid.UUID   `json:"node_id,omitempty"`
		Timestamp time.Time    `json:"timestamp"`
		Body      ResponseBody `json:"body"`
	}

	// ValueResponse carries one value produced by an output node.
	ValueResponse struct {
		Value any `json:"value"`
	}

	// StatusResponse carries a human-readable progress message.
	StatusResponse struct {
		Site    string `json:"site"`
		Message string `json:"message"`
	}

	// HeartbeatResponse signals liveness while no value has advanced.
	HeartbeatResponse struct {
		Site string `json:"site"`
	}

	// ErrorResponse reports a failure tagged with an HTTP-like status code.
	ErrorResponse struct {
		HTTPStatusCode int    `json:"http_status_code"`
		Message        string `json:"message"`
		Traceback      string `json:"traceback,omitempty"`
	}
)

func (ValueResponse) ResponseClass() string     { return ClassValueResponse }
func (StatusResponse) ResponseClass() string    { return ClassStatusResponse }
func (HeartbeatResponse) ResponseClass() string { return ClassHeartbeatResponse }
func (ErrorResponse) ResponseClass() string     { return ClassErrorResponse }

// NewResponse stamps a response with the current time.
func NewResponse(nodeID *uuid.UUID, body ResponseBody) *Response {
	return &Response{NodeID: nodeID, Timestamp: time.Now().UTC(), Body: body}
}

// ErrorResponseFromError converts an error to its wire form, mapping the
// classified code and capturing a stack for unclassified failures.
func ErrorResponseFromError(err error) ErrorResponse {
	resp := ErrorResponse{
		HTTPStatusCode: dfmerror.StatusCode(err),
		Message:        err.Error(),
	}
	if dfmerror.StatusCode(err) == 500 {
		resp.Traceback = string(debug.Stack())
	}
	return resp
}

// MarshalJSON injects the body discriminator.
func (r Response) MarshalJSON() ([]byte, error) {
	body, err := MarshalResponseBody(r.Body)
	if err != nil {
		return nil, err
	}
	type alias struct {
		NodeID    *uuid.UUID      `json:"node_id,omitempty"`
		Timestamp time.Time       `json:"timestamp"`
		Body      json.RawMessage `json:"body"`
	}
	return json.Marshal(alias{NodeID: r.NodeID, Timestamp: r.Timestamp, Body: body})
}

// UnmarshalJSON materializes the concrete body variant from its
// discriminator.
func (r *Response) UnmarshalJSON(data []byte) error {
	type alias struct {
		NodeID    *uuid.UUID      `json:"node_id"`
		Timestamp time.Time       `json:"timestamp"`
		Body      json.RawMessage `json:"body"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	body, err := DecodeResponseBody(tmp.Body)
	if err != nil {
		return err
	}
	r.NodeID = tmp.NodeID
	r.Timestamp = tmp.Timestamp
	r.Body = body
	return nil
}

// MarshalResponseBody serializes a body variant with its discriminator.
func MarshalResponseBody(b ResponseBody) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("response body is required")
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["api_class"] = b.ResponseClass()
	return json.Marshal(fields)
}

// DecodeResponseBody materializes a body variant from its discriminator.
func DecodeResponseBody(raw []byte) (ResponseBody, error) {
	var head struct {
		APIClass string `json:"api_class"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode response body header: %w", err)
	}
	switch head.APIClass {
	case ClassValueResponse:
		var body ValueResponse
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode ValueResponse: %w", err)
		}
		return body, nil
	case ClassStatusResponse:
		var body StatusResponse
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode StatusResponse: %w", err)
		}
		return body, nil
	case ClassHeartbeatResponse:
		var body HeartbeatResponse
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode HeartbeatResponse: %w", err)
		}
		return body, nil
	case ClassErrorResponse:
		var body ErrorResponse
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode ErrorResponse: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unknown response body api_class %q", head.APIClass)
	}
}
