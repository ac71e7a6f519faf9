// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package acp

import (
	"bytes"
	"encoding/json"
)

// wireEnvelope is the decode-side mirror of Envelope with the payload held
// raw until the msg_type discriminator selects the variant.
type wireEnvelope struct {
	SenderID      string          `json:"sender_id"`
	ReceiverID    string          `json:"receiver_id,omitempty"`
	Topic         string          `json:"topic,omitempty"`
	MsgType       MsgType         `json:"msg_type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     string          `json:"timestamp,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Encode produces the canonical JSON form of the envelope. The envelope is
// validated first so malformed messages never reach the wire.
func (e *Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses the canonical JSON form. Unknown msg_type values, missing
// required fields, and payloads that do not match the declared variant all
// fail with *MalformedEnvelopeError.
func Decode(data []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &MalformedEnvelopeError{Reason: "invalid JSON", Err: err}
	}
	if len(wire.Payload) == 0 {
		return nil, &MalformedEnvelopeError{Reason: "missing payload"}
	}

	payload, err := decodePayload(wire.MsgType, wire.Payload)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		SenderID:      wire.SenderID,
		ReceiverID:    wire.ReceiverID,
		Topic:         wire.Topic,
		MsgType:       wire.MsgType,
		Payload:       payload,
		Timestamp:     wire.Timestamp,
		CorrelationID: wire.CorrelationID,
	}
	if err := env.Validate(); err != nil {
		if me, ok := err.(*MalformedEnvelopeError); ok {
			return nil, me
		}
		return nil, &MalformedEnvelopeError{Reason: "validation failed", Err: err}
	}
	return env, nil
}

func decodePayload(msgType MsgType, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch msgType {
	case MsgTaskAssign:
		payload = &TaskAssign{}
	case MsgStatusUpdate:
		payload = &StatusUpdate{}
	case MsgDataSubmit:
		payload = &DataSubmit{}
	case MsgValidationRequest:
		payload = &ValidationRequest{}
	case MsgValidationResponse:
		payload = &ValidationResponse{}
	case MsgLogBroadcast:
		payload = &LogBroadcast{}
	default:
		return nil, &MalformedEnvelopeError{Reason: "unknown msg_type " + string(msgType)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, &MalformedEnvelopeError{
			Reason: "payload does not match variant " + string(msgType),
			Err:    err,
		}
	}

	// Wire defaults: a task_assign without an explicit priority means
	// highest, and validation requests default to fact_check.
	switch p := payload.(type) {
	case *TaskAssign:
		if p.Priority == 0 {
			p.Priority = 1
		}
	case *ValidationRequest:
		if p.ValidationType == "" {
			p.ValidationType = "fact_check"
		}
	}

	return payload, nil
}
