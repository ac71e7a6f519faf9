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

// Package acp defines the Agent Communication Protocol: the typed envelope
// exchanged between agents, its payload variants, and the canonical JSON
// codec. Every inter-agent message in the system is an Envelope carrying
// exactly one payload variant, addressed either to a single agent
// (ReceiverID) or to a broadcast topic (Topic) - never both, never neither.
package acp

import (
	"errors"
	"fmt"
	"time"
)

// MsgType discriminates the payload variant carried by an Envelope.
type MsgType string

const (
	MsgTaskAssign         MsgType = "task_assign"
	MsgStatusUpdate       MsgType = "status_update"
	MsgDataSubmit         MsgType = "data_submit"
	MsgValidationRequest  MsgType = "validation_request"
	MsgValidationResponse MsgType = "validation_response"
	MsgLogBroadcast       MsgType = "log_broadcast"
)

// DataType discriminates the shape of a DataSubmit payload's Data field.
type DataType string

const (
	DataSearchResults    DataType = "search_results"
	DataExtractedContent DataType = "extracted_content"
	DataFactCheckResults DataType = "fact_check_results"
	DataSynthesisReport  DataType = "synthesis_report"
	DataFileSaveResult   DataType = "file_save_result"
	DataSystemAlert      DataType = "system_alert"
	DataLogReport        DataType = "log_report"
	DataLoggerStatus     DataType = "logger_status"
)

// Log levels accepted by LogBroadcast.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// ErrInvalidAddressing is returned when an envelope specifies both or
// neither of receiver_id and topic.
var ErrInvalidAddressing = errors.New("acp: envelope must have exactly one of receiver_id or topic")

// MalformedEnvelopeError reports an envelope that failed decoding or
// validation at a protocol boundary.
type MalformedEnvelopeError struct {
	Reason string
	Err    error
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acp: malformed envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("acp: malformed envelope: %s", e.Reason)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

// Payload is the sealed set of envelope payload variants.
type Payload interface {
	// Type returns the MsgType this variant is carried under.
	Type() MsgType
	// Validate checks the variant's own invariants.
	Validate() error
}

// Envelope is the uniform inter-agent message record. Envelopes are
// immutable after construction; the bus owns them while in flight.
type Envelope struct {
	SenderID      string  `json:"sender_id"`
	ReceiverID    string  `json:"receiver_id,omitempty"`
	Topic         string  `json:"topic,omitempty"`
	MsgType       MsgType `json:"msg_type"`
	Payload       Payload `json:"payload"`
	Timestamp     string  `json:"timestamp,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// New builds a validated envelope. Exactly one of receiver and topic must
// be non-empty; the payload's MsgType is derived from the variant.
func New(sender, receiver, topic string, payload Payload) (*Envelope, error) {
	env := &Envelope{
		SenderID:   sender,
		ReceiverID: receiver,
		Topic:      topic,
		Payload:    payload,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		env.MsgType = payload.Type()
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the envelope-level invariants: non-empty sender, the
// destination xor rule, and the payload's own invariants.
func (e *Envelope) Validate() error {
	if e.SenderID == "" {
		return &MalformedEnvelopeError{Reason: "empty sender_id"}
	}
	if (e.ReceiverID == "") == (e.Topic == "") {
		return ErrInvalidAddressing
	}
	if e.Payload == nil {
		return &MalformedEnvelopeError{Reason: "missing payload"}
	}
	if e.MsgType != e.Payload.Type() {
		return &MalformedEnvelopeError{
			Reason: fmt.Sprintf("msg_type %q does not match payload variant %q", e.MsgType, e.Payload.Type()),
		}
	}
	if err := e.Payload.Validate(); err != nil {
		return &MalformedEnvelopeError{Reason: "invalid payload", Err: err}
	}
	return nil
}

// TaskAssign assigns a task to an agent.
type TaskAssign struct {
	TaskType string         `json:"task_type"`
	TaskData map[string]any `json:"task_data"`
	Priority int            `json:"priority"` // 1 (highest) .. 5
}

// NewTaskAssign constructs a TaskAssign with the default priority.
func NewTaskAssign(taskType string, taskData map[string]any) *TaskAssign {
	if taskData == nil {
		taskData = map[string]any{}
	}
	return &TaskAssign{TaskType: taskType, TaskData: taskData, Priority: 1}
}

func (*TaskAssign) Type() MsgType { return MsgTaskAssign }

func (p *TaskAssign) Validate() error {
	if p.TaskType == "" {
		return errors.New("task_type is required")
	}
	if p.Priority < 1 || p.Priority > 5 {
		return fmt.Errorf("priority %d out of range 1..5", p.Priority)
	}
	return nil
}

// StatusUpdate reports progress or status changes. A status containing the
// substring "failed" signals failure to the orchestrator.
type StatusUpdate struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"` // 0..100
	TaskID   string   `json:"task_id,omitempty"`
}

// NewStatusUpdate constructs a StatusUpdate with an optional progress
// percentage. Pass a negative progress to omit it.
func NewStatusUpdate(status string, progress float64, taskID string) *StatusUpdate {
	p := &StatusUpdate{Status: status, TaskID: taskID}
	if progress >= 0 {
		p.Progress = &progress
	}
	return p
}

func (*StatusUpdate) Type() MsgType { return MsgStatusUpdate }

func (p *StatusUpdate) Validate() error {
	if p.Status == "" {
		return errors.New("status is required")
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		return fmt.Errorf("progress %v out of range 0..100", *p.Progress)
	}
	return nil
}

// DataSubmit carries processed data or results between agents.
type DataSubmit struct {
	DataType DataType       `json:"data_type"`
	Data     map[string]any `json:"data"`
	Source   string         `json:"source,omitempty"`
	TaskID   string         `json:"task_id,omitempty"`
}

// NewDataSubmit constructs a DataSubmit payload.
func NewDataSubmit(dataType DataType, data map[string]any, source, taskID string) *DataSubmit {
	if data == nil {
		data = map[string]any{}
	}
	return &DataSubmit{DataType: dataType, Data: data, Source: source, TaskID: taskID}
}

var validDataTypes = map[DataType]bool{
	DataSearchResults:    true,
	DataExtractedContent: true,
	DataFactCheckResults: true,
	DataSynthesisReport:  true,
	DataFileSaveResult:   true,
	DataSystemAlert:      true,
	DataLogReport:        true,
	DataLoggerStatus:     true,
}

func (*DataSubmit) Type() MsgType { return MsgDataSubmit }

func (p *DataSubmit) Validate() error {
	if !validDataTypes[p.DataType] {
		return fmt.Errorf("unknown data_type %q", p.DataType)
	}
	if p.Data == nil {
		return errors.New("data is required")
	}
	return nil
}

// ValidationRequest asks a peer to validate a claim.
type ValidationRequest struct {
	Claim          string `json:"claim"`
	SourceURL      string `json:"source_url,omitempty"`
	ValidationType string `json:"validation_type"`
}

// NewValidationRequest constructs a ValidationRequest with the default
// validation type.
func NewValidationRequest(claim, sourceURL string) *ValidationRequest {
	return &ValidationRequest{Claim: claim, SourceURL: sourceURL, ValidationType: "fact_check"}
}

func (*ValidationRequest) Type() MsgType { return MsgValidationRequest }

func (p *ValidationRequest) Validate() error {
	if p.Claim == "" {
		return errors.New("claim is required")
	}
	return nil
}

// ValidationResponse answers a ValidationRequest.
type ValidationResponse struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"` // 0..1
	Evidence   string  `json:"evidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}

func (*ValidationResponse) Type() MsgType { return MsgValidationResponse }

func (p *ValidationResponse) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range 0..1", p.Confidence)
	}
	return nil
}

// LogBroadcast carries a log record on the well-known logs topic.
type LogBroadcast struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
}

var validLevels = map[string]bool{
	LevelDebug:    true,
	LevelInfo:     true,
	LevelWarning:  true,
	LevelError:    true,
	LevelCritical: true,
}

func (*LogBroadcast) Type() MsgType { return MsgLogBroadcast }

func (p *LogBroadcast) Validate() error {
	if !validLevels[p.Level] {
		return fmt.Errorf("unknown log level %q", p.Level)
	}
	if p.Message == "" {
		return errors.New("message is required")
	}
	return nil
}
