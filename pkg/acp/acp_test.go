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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeAddressing(t *testing.T) {
	payload := NewStatusUpdate("working", 50, "task1")

	// Direct message
	env, err := New("agent1", "agent2", "", payload)
	require.NoError(t, err)
	assert.Equal(t, "agent1", env.SenderID)
	assert.Equal(t, "agent2", env.ReceiverID)
	assert.Equal(t, MsgStatusUpdate, env.MsgType)

	// Broadcast
	env, err = New("agent1", "", "logs", &LogBroadcast{Level: LevelInfo, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "logs", env.Topic)

	// Both set
	_, err = New("agent1", "agent2", "logs", payload)
	assert.ErrorIs(t, err, ErrInvalidAddressing)

	// Neither set
	_, err = New("agent1", "", "", payload)
	assert.ErrorIs(t, err, ErrInvalidAddressing)

	// Empty sender
	_, err = New("", "agent2", "", payload)
	var malformed *MalformedEnvelopeError
	assert.ErrorAs(t, err, &malformed)
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"valid task", NewTaskAssign("web_search", map[string]any{"query": "q"}), false},
		{"empty task type", &TaskAssign{TaskData: map[string]any{}, Priority: 1}, true},
		{"priority too low", &TaskAssign{TaskType: "t", TaskData: map[string]any{}, Priority: 0}, true},
		{"priority too high", &TaskAssign{TaskType: "t", TaskData: map[string]any{}, Priority: 6}, true},
		{"valid status", NewStatusUpdate("searching", 10, ""), false},
		{"status no progress", NewStatusUpdate("searching", -1, ""), false},
		{"progress over 100", NewStatusUpdate("searching", 101, ""), true},
		{"empty status", &StatusUpdate{}, true},
		{"valid data submit", NewDataSubmit(DataSearchResults, map[string]any{"results": []any{}}, "", ""), false},
		{"unknown data type", &DataSubmit{DataType: "bogus", Data: map[string]any{}}, true},
		{"valid validation request", NewValidationRequest("the sky is blue", ""), false},
		{"empty claim", &ValidationRequest{ValidationType: "fact_check"}, true},
		{"valid validation response", &ValidationResponse{IsValid: true, Confidence: 0.9}, false},
		{"confidence out of range", &ValidationResponse{IsValid: true, Confidence: 1.5}, true},
		{"valid log", &LogBroadcast{Level: LevelError, Message: "boom"}, false},
		{"unknown level", &LogBroadcast{Level: "TRACE", Message: "boom"}, true},
		{"empty log message", &LogBroadcast{Level: LevelInfo}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := []Payload{
		NewTaskAssign("web_search", map[string]any{"query": "quantum computing", "max_results": float64(5)}),
		NewStatusUpdate("extracting_download: Downloading content...", 30, "abcd1234"),
		NewDataSubmit(DataExtractedContent, map[string]any{
			"url": "https://example.com/a", "word_count": float64(120), "extraction_successful": true,
		}, "https://example.com/a", "abcd1234"),
		NewValidationRequest("NIST selected CRYSTALS-Kyber for standardization", "https://example.com/nist"),
		&ValidationResponse{IsValid: true, Confidence: 0.92, Evidence: "confirmed", Source: "fact_checker_agent"},
		&LogBroadcast{Level: LevelWarning, Message: "slow handler", Component: "logger_agent"},
	}

	for _, payload := range payloads {
		env, err := New("sender", "receiver", "", payload)
		require.NoError(t, err)

		data, err := env.Encode()
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err, "payload %T", payload)
		assert.Equal(t, env, decoded, "payload %T", payload)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{`},
		{"unknown msg_type", `{"sender_id":"a","receiver_id":"b","msg_type":"gossip","payload":{}}`},
		{"missing payload", `{"sender_id":"a","receiver_id":"b","msg_type":"status_update"}`},
		{"payload wrong variant", `{"sender_id":"a","receiver_id":"b","msg_type":"log_broadcast","payload":{"task_type":"x","task_data":{}}}`},
		{"both destinations", `{"sender_id":"a","receiver_id":"b","topic":"t","msg_type":"status_update","payload":{"status":"ok"}}`},
		{"no destination", `{"sender_id":"a","msg_type":"status_update","payload":{"status":"ok"}}`},
		{"progress out of range", `{"sender_id":"a","receiver_id":"b","msg_type":"status_update","payload":{"status":"ok","progress":150}}`},
		{"bad level", `{"sender_id":"a","topic":"logs","msg_type":"log_broadcast","payload":{"level":"LOUD","message":"m"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			if !errors.Is(err, ErrInvalidAddressing) {
				var malformed *MalformedEnvelopeError
				assert.ErrorAs(t, err, &malformed)
			}
		})
	}
}

func TestDecodeDefaults(t *testing.T) {
	// Omitted priority defaults to highest.
	env, err := Decode([]byte(`{"sender_id":"a","receiver_id":"b","msg_type":"task_assign","payload":{"task_type":"web_search","task_data":{"query":"q"}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Payload.(*TaskAssign).Priority)

	// Omitted validation_type defaults to fact_check.
	env, err = Decode([]byte(`{"sender_id":"a","receiver_id":"b","msg_type":"validation_request","payload":{"claim":"water is wet"}}`))
	require.NoError(t, err)
	assert.Equal(t, "fact_check", env.Payload.(*ValidationRequest).ValidationType)
}
