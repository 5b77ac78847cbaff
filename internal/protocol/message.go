// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package protocol defines the JSON-RPC 2.0 message model and the MCP wire
// types exchanged with a server.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only accepted value of the "jsonrpc" field.
const JSONRPCVersion = "2.0"

// Message represents a single JSON-RPC frame. Exactly one of Result/Error
// is set on a response; notifications carry a method and no id.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

var nullID = json.RawMessage("null")

// hasID reports whether the frame carries a non-null id.
func (m *Message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, nullID)
}

// IsRequest reports whether the frame is a request: it has a method and a
// non-null id.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.hasID()
}

// IsNotification reports whether the frame is a notification: it has a
// method and no id. A frame with id:null and a method counts as a
// notification so that no caller ever blocks on a null id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.hasID()
}

// IsResponse reports whether the frame is a response: no method, an id,
// and a result or error payload.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.hasID() && (m.Result != nil || m.Error != nil)
}

// NewRequest builds a request frame with the given numeric id. Params may
// be nil.
func NewRequest(id int64, method string, params interface{}) (*Message, error) {
	msg := &Message{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = data
	}
	return msg, nil
}

// NewNotification builds a notification frame. Params may be nil.
func NewNotification(method string, params interface{}) (*Message, error) {
	msg := &Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = data
	}
	return msg, nil
}

// NewResponse builds a success response echoing the raw inbound id.
func NewResponse(id json.RawMessage, result interface{}) (*Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      normalizeID(id),
		Result:  data,
	}, nil
}

// NewErrorResponse builds an error response echoing the raw inbound id.
func NewErrorResponse(id json.RawMessage, code int, message string, data interface{}) *Message {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      normalizeID(id),
		Error:   e,
	}
}

// normalizeID substitutes 0 for an absent or null id so that responses are
// always well formed.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || bytes.Equal(id, nullID) {
		return json.RawMessage("0")
	}
	return id
}

// IDKey returns a map key for a raw id. The key is the wire text itself,
// so the integer 1 and the string "1" are distinct keys.
func IDKey(id json.RawMessage) string {
	return string(id)
}

// Encode marshals the frame for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame and validates the jsonrpc version marker.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if msg.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("unexpected jsonrpc version %q", msg.JSONRPC)
	}
	return &msg, nil
}
