// Package dispatch routes named messages to a slot.
//
// Messages are JSON objects with exactly one key naming the operation, whose
// value holds the arguments:
//
//	{"submit_secret": {"name": "Gmail", "secret": "..."}}
//	{"reset": {}}
//	{"get_token": {}}
//	{"get_status": {}}
//
// Execute messages modify the slot; query messages only read it.
package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrBadMessage is reported for a message that cannot be decoded.
var ErrBadMessage = errors.New("invalid message")

// InstantiateMsg is the message that initializes a slot. It has no fields.
type InstantiateMsg struct{}

// ExecuteMsg is a message that modifies the slot. Exactly one field is set.
type ExecuteMsg struct {
	SubmitSecret *SubmitSecret `json:"submit_secret,omitempty"`
	Reset        *Reset        `json:"reset,omitempty"`
}

// SubmitSecret carries the arguments of a submit_secret message.
type SubmitSecret struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// Reset carries the (empty) arguments of a reset message.
type Reset struct{}

// QueryMsg is a message that reads the slot. Exactly one field is set.
type QueryMsg struct {
	GetToken  *GetToken  `json:"get_token,omitempty"`
	GetStatus *GetStatus `json:"get_status,omitempty"`
}

// GetToken carries the (empty) arguments of a get_token message.
type GetToken struct{}

// GetStatus carries the (empty) arguments of a get_status message.
type GetStatus struct{}

// DecodeExecute decodes an execute message from data.
func DecodeExecute(data []byte) (ExecuteMsg, error) {
	name, body, err := decodeOne(data, "submit_secret", "reset")
	if err != nil {
		return ExecuteMsg{}, err
	}
	var msg ExecuteMsg
	switch name {
	case "submit_secret":
		msg.SubmitSecret = new(SubmitSecret)
		err = decodeStrict(body, msg.SubmitSecret)
	case "reset":
		msg.Reset = new(Reset)
		err = decodeStrict(body, msg.Reset)
	}
	if err != nil {
		return ExecuteMsg{}, fmt.Errorf("%w: %s: %v", ErrBadMessage, name, err)
	}
	return msg, nil
}

// DecodeQuery decodes a query message from data.
func DecodeQuery(data []byte) (QueryMsg, error) {
	name, body, err := decodeOne(data, "get_token", "get_status")
	if err != nil {
		return QueryMsg{}, err
	}
	var msg QueryMsg
	switch name {
	case "get_token":
		msg.GetToken = new(GetToken)
		err = decodeStrict(body, msg.GetToken)
	case "get_status":
		msg.GetStatus = new(GetStatus)
		err = decodeStrict(body, msg.GetStatus)
	}
	if err != nil {
		return QueryMsg{}, fmt.Errorf("%w: %s: %v", ErrBadMessage, name, err)
	}
	return msg, nil
}

// decodeOne decodes a JSON object with exactly one key, which must be one of
// the names given, and returns that key and its value.
func decodeOne(data []byte, names ...string) (string, json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	} else if len(obj) != 1 {
		return "", nil, fmt.Errorf("%w: got %d operations, want 1", ErrBadMessage, len(obj))
	}
	for name, body := range obj {
		if !slices.Contains(names, name) {
			return "", nil, fmt.Errorf("%w: unknown operation %q (want %s)",
				ErrBadMessage, name, strings.Join(names, ", "))
		}
		return name, body, nil
	}
	panic("unreachable")
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
