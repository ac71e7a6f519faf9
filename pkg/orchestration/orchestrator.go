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

// Package orchestration drives the research workflow: it assigns the
// search task, fans extraction out over the top results, triggers one
// synthesis once enough content has arrived, and persists the final
// report. The orchestrator is itself a bus worker addressed as
// "orchestrator"; it never mutates data received from the other agents.
package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/agent"
	"github.com/teradata-labs/synapse/pkg/bus"
)

// State is the workflow stage.
type State string

const (
	StateIdle         State = "idle"
	StateSearching    State = "searching"
	StateExtracting   State = "extracting"
	StateSynthesizing State = "synthesizing"
	StatePersisting   State = "persisting"
	StateDone         State = "done"
)

const (
	// maxExtractions bounds the extraction fan-out per search.
	maxExtractions = 3
	// minSourcesForSynthesis is how many successful extraction results
	// must arrive before synthesis is dispatched. Failed records are
	// kept for the report but do not count toward the threshold.
	minSourcesForSynthesis = 2
	// searchRetryDelay is the pause before the single search retry.
	searchRetryDelay = 5 * time.Second
	// defaultMaxResults rides along on the search task.
	defaultMaxResults = 5
)

// Agent ids of the pipeline stages the orchestrator drives.
const (
	SearchAgentID     = "search_agent"
	ExtractionAgentID = "extraction_agent"
	SynthesisAgentID  = "synthesis_agent"
	FileSaveAgentID   = "file_save_agent"
)

// Workflow is a snapshot of one research run.
type Workflow struct {
	Query            string
	TaskID           string
	State            State
	StartTime        time.Time
	SearchResults    []map[string]any
	ExtractedContent []map[string]any
	SynthesisReport  map[string]any
	AgentStatus      map[string]string
	ReportPath       string
}

// Orchestrator is the workflow state machine. All mutable state sits
// behind the mutex; bus publishes happen outside it.
type Orchestrator struct {
	bus    bus.Bus
	logger *zap.Logger

	mu                  sync.Mutex
	wf                  Workflow
	synthesisDispatched bool
	searchRetried       bool
	done                chan struct{}

	retryDelay time.Duration
}

// New creates an orchestrator. A nil logger is replaced with a no-op
// logger.
func New(b bus.Bus, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		bus:        b,
		logger:     logger.With(zap.String("agent_id", agent.OrchestratorID)),
		wf:         Workflow{State: StateIdle, AgentStatus: make(map[string]string)},
		done:       make(chan struct{}),
		retryDelay: searchRetryDelay,
	}
}

func (o *Orchestrator) ID() string       { return agent.OrchestratorID }
func (o *Orchestrator) Topics() []string { return nil }

// Done is closed when the workflow reaches the done state.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// StartResearch resets the workflow record and assigns the search task.
func (o *Orchestrator) StartResearch(ctx context.Context, query string) error {
	if query == "" {
		return fmt.Errorf("orchestration: query cannot be empty")
	}

	o.mu.Lock()
	o.wf = Workflow{
		Query:       query,
		TaskID:      uuid.NewString()[:8],
		State:       StateSearching,
		StartTime:   time.Now(),
		AgentStatus: make(map[string]string),
	}
	o.synthesisDispatched = false
	o.searchRetried = false
	taskID := o.wf.TaskID
	o.mu.Unlock()

	o.logger.Info("starting research workflow",
		zap.String("query", query),
		zap.String("task_id", taskID))
	o.broadcastLog(ctx, acp.LevelInfo, fmt.Sprintf("Research workflow started: %q", query))

	return o.assignSearch(ctx, query, taskID)
}

// Status returns a copy of the workflow record safe for concurrent reads.
func (o *Orchestrator) Status() Workflow {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := o.wf
	snapshot.SearchResults = append([]map[string]any(nil), o.wf.SearchResults...)
	snapshot.ExtractedContent = append([]map[string]any(nil), o.wf.ExtractedContent...)
	snapshot.AgentStatus = make(map[string]string, len(o.wf.AgentStatus))
	for id, status := range o.wf.AgentStatus {
		snapshot.AgentStatus[id] = status
	}
	return snapshot
}

// Handle processes status updates and data submissions from the workers.
func (o *Orchestrator) Handle(ctx context.Context, env *acp.Envelope) {
	switch payload := env.Payload.(type) {
	case *acp.StatusUpdate:
		o.handleStatus(ctx, env.SenderID, payload)
	case *acp.DataSubmit:
		o.handleData(ctx, env.SenderID, payload)
	default:
		o.logger.Warn("unhandled message type", zap.String("msg_type", string(env.MsgType)))
	}
}

func (o *Orchestrator) handleStatus(ctx context.Context, senderID string, payload *acp.StatusUpdate) {
	o.mu.Lock()
	o.wf.AgentStatus[senderID] = payload.Status
	o.mu.Unlock()

	o.logger.Info("agent status",
		zap.String("sender_id", senderID),
		zap.String("status", payload.Status))

	if strings.Contains(strings.ToLower(payload.Status), "failed") {
		o.handleFailure(ctx, senderID, payload.Status)
	}
}

// handleFailure retries the search stage once when it fails before any
// results arrived. All other failures are logged and left to the
// remaining pipeline; synthesis tolerates unsuccessful extractions.
func (o *Orchestrator) handleFailure(ctx context.Context, senderID, status string) {
	o.logger.Warn("agent failure detected",
		zap.String("sender_id", senderID),
		zap.String("status", status))
	o.broadcastLog(ctx, acp.LevelWarning, fmt.Sprintf("Agent %s failed: %s", senderID, status))

	if !strings.Contains(senderID, "search") {
		return
	}

	o.mu.Lock()
	retry := len(o.wf.SearchResults) == 0 && !o.searchRetried
	if retry {
		o.searchRetried = true
	}
	query, taskID := o.wf.Query, o.wf.TaskID
	o.mu.Unlock()
	if !retry {
		return
	}

	o.logger.Info("retrying search task", zap.Duration("delay", o.retryDelay))
	// Timer, not a sleep: the handler must stay free for other traffic.
	time.AfterFunc(o.retryDelay, func() {
		if err := o.assignSearch(context.Background(), query, taskID); err != nil {
			o.logger.Error("search retry failed", zap.Error(err))
		}
	})
}

func (o *Orchestrator) handleData(ctx context.Context, senderID string, payload *acp.DataSubmit) {
	o.logger.Info("data received",
		zap.String("sender_id", senderID),
		zap.String("data_type", string(payload.DataType)))

	switch payload.DataType {
	case acp.DataSearchResults:
		o.handleSearchResults(ctx, payload)
	case acp.DataExtractedContent:
		o.handleExtractedContent(ctx, payload)
	case acp.DataSynthesisReport:
		o.handleSynthesisReport(ctx, payload)
	case acp.DataFileSaveResult:
		o.handleFileSaveResult(ctx, payload)
	case acp.DataSystemAlert:
		o.logger.Warn("system alert", zap.Any("alert", payload.Data))
	default:
		o.logger.Debug("unrouted data submission", zap.String("data_type", string(payload.DataType)))
	}
}

// handleSearchResults fans extraction out over the top results. The
// assignments run concurrently; replies are serialized by the bus.
func (o *Orchestrator) handleSearchResults(ctx context.Context, payload *acp.DataSubmit) {
	results, _ := payload.Data["results"].([]any)

	o.mu.Lock()
	for _, r := range results {
		if m, ok := r.(map[string]any); ok {
			o.wf.SearchResults = append(o.wf.SearchResults, m)
		}
	}
	o.wf.State = StateExtracting
	taskID := o.wf.TaskID
	o.mu.Unlock()

	o.logger.Info("search results received", zap.Int("count", len(results)))

	assigned := 0
	for i, r := range results {
		if assigned == maxExtractions {
			break
		}
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		url, _ := m["url"].(string)
		if url == "" {
			continue
		}
		assigned++
		go o.assignExtraction(ctx, url, fmt.Sprintf("source_%d", i+1), taskID)
	}
}

// handleExtractedContent records the result and triggers synthesis once
// enough successful extractions have arrived. The trigger is monotone:
// exactly one synthesis task per workflow, later arrivals are recorded
// only.
func (o *Orchestrator) handleExtractedContent(ctx context.Context, payload *acp.DataSubmit) {
	o.mu.Lock()
	o.wf.ExtractedContent = append(o.wf.ExtractedContent, payload.Data)
	successful := 0
	for _, rec := range o.wf.ExtractedContent {
		if ok, _ := rec["extraction_successful"].(bool); ok {
			successful++
		}
	}
	dispatch := successful >= minSourcesForSynthesis && !o.synthesisDispatched
	if dispatch {
		o.synthesisDispatched = true
		o.wf.State = StateSynthesizing
	}
	query, taskID := o.wf.Query, o.wf.TaskID
	searchResults := append([]map[string]any(nil), o.wf.SearchResults...)
	extracted := append([]map[string]any(nil), o.wf.ExtractedContent...)
	o.mu.Unlock()

	o.logger.Info("extracted content received", zap.Int("total", len(extracted)))
	if !dispatch {
		return
	}

	o.assignTask(ctx, SynthesisAgentID, "synthesize_research", map[string]any{
		"query":             query,
		"search_results":    anySlice(searchResults),
		"extracted_content": anySlice(extracted),
		"task_id":           taskID,
	})
	o.logger.Info("synthesis task assigned", zap.Int("sources", len(extracted)))
}

// handleSynthesisReport dispatches persistence at most once per
// workflow: delivery is at-least-once, so a redelivered report outside
// the synthesizing state is recorded as a no-op.
func (o *Orchestrator) handleSynthesisReport(ctx context.Context, payload *acp.DataSubmit) {
	reportPath := fmt.Sprintf("output/reports/research_report_%s.md",
		time.Now().UTC().Format("20060102_150405"))

	o.mu.Lock()
	if o.wf.State != StateSynthesizing {
		state := o.wf.State
		o.mu.Unlock()
		o.logger.Debug("ignoring synthesis report outside synthesizing state",
			zap.String("state", string(state)))
		return
	}
	o.wf.SynthesisReport = payload.Data
	o.wf.State = StatePersisting
	o.wf.ReportPath = reportPath
	taskID := o.wf.TaskID
	o.mu.Unlock()

	content, _ := payload.Data["report_content"].(string)
	o.logger.Info("synthesis report received",
		zap.Int("word_count", intField(payload.Data, "word_count")))

	o.assignTask(ctx, FileSaveAgentID, "save_file", map[string]any{
		"file_path": reportPath,
		"content":   content,
		"task_id":   taskID,
	})
	o.logger.Info("file save task assigned", zap.String("file_path", reportPath))
}

func (o *Orchestrator) handleFileSaveResult(ctx context.Context, payload *acp.DataSubmit) {
	o.mu.Lock()
	if o.wf.State == StateDone {
		o.mu.Unlock()
		return
	}
	o.wf.State = StateDone
	duration := time.Since(o.wf.StartTime).Truncate(time.Second)
	query := o.wf.Query
	sources := len(o.wf.ExtractedContent)
	wordCount := intField(o.wf.SynthesisReport, "word_count")
	o.mu.Unlock()

	completion := fmt.Sprintf(
		"Research workflow completed successfully! Query: %q | Duration: %s | Sources: %d | Report words: %d",
		query, duration, sources, wordCount)
	o.broadcastLog(ctx, acp.LevelInfo, completion)
	o.logger.Info("workflow completed",
		zap.Duration("duration", duration),
		zap.Int("sources", sources),
		zap.Int("report_words", wordCount))
	close(o.done)
}

func (o *Orchestrator) assignSearch(ctx context.Context, query, taskID string) error {
	return o.assignTask(ctx, SearchAgentID, "web_search", map[string]any{
		"query":       query,
		"task_id":     taskID,
		"max_results": defaultMaxResults,
	})
}

func (o *Orchestrator) assignExtraction(ctx context.Context, url, sourceDescription, taskID string) {
	if err := o.assignTask(ctx, ExtractionAgentID, "extract_content", map[string]any{
		"url":                url,
		"source_description": sourceDescription,
		"task_id":            taskID,
	}); err != nil {
		return
	}
	o.logger.Info("extraction task assigned", zap.String("url", url))
}

func (o *Orchestrator) assignTask(ctx context.Context, receiverID, taskType string, taskData map[string]any) error {
	env, err := acp.New(agent.OrchestratorID, receiverID, "", acp.NewTaskAssign(taskType, taskData))
	if err != nil {
		o.logger.Error("building task assignment failed", zap.String("task_type", taskType), zap.Error(err))
		return err
	}
	if err := o.bus.Publish(ctx, env); err != nil {
		o.logger.Error("publishing task assignment failed",
			zap.String("receiver_id", receiverID),
			zap.String("task_type", taskType),
			zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) broadcastLog(ctx context.Context, level, message string) {
	env, err := acp.New(agent.OrchestratorID, "", "logs", &acp.LogBroadcast{
		Level:     level,
		Message:   message,
		Component: agent.OrchestratorID,
	})
	if err != nil {
		o.logger.Error("building log broadcast failed", zap.Error(err))
		return
	}
	if err := o.bus.Publish(ctx, env); err != nil {
		o.logger.Error("publishing log broadcast failed", zap.Error(err))
	}
}

func anySlice(records []map[string]any) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
