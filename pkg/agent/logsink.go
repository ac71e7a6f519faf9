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
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/bus"
)

const (
	// logBufferSize bounds the retained log ring.
	logBufferSize = 1000
	// errorSpikeWindow and errorSpikeThreshold define the alert rule:
	// an alert fires when at least errorSpikeThreshold ERROR/CRITICAL
	// entries sit in the last errorSpikeWindow buffered entries.
	errorSpikeWindow    = 10
	errorSpikeThreshold = 3
)

// logEntry is one buffered broadcast or status observation.
type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component"`
	SenderID  string `json:"sender_id"`
}

// componentActivity tracks per-component log traffic.
type componentActivity struct {
	FirstSeen    string `json:"first_seen"`
	LastActivity string `json:"last_activity"`
	MessageCount int    `json:"message_count"`
	ErrorCount   int    `json:"error_count"`
}

// agentStatus is the latest status observed from one agent.
type agentStatus struct {
	Status     string   `json:"status"`
	Progress   *float64 `json:"progress,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
	LastUpdate string   `json:"last_update"`
}

var logLevelRank = map[string]int{
	acp.LevelDebug:    0,
	acp.LevelInfo:     1,
	acp.LevelWarning:  2,
	acp.LevelError:    3,
	acp.LevelCritical: 4,
}

// LogSinkWorker is the system's log aggregator: it subscribes to the logs
// topic, keeps a bounded ring of entries, tracks per-component activity
// and per-agent status, and raises a system alert when errors spike.
// Handle and Tick run on different goroutines; the mutex guards all state.
type LogSinkWorker struct {
	reporter

	mu           sync.Mutex
	buffer       []logEntry
	countByLevel map[string]int
	activity     map[string]*componentActivity
	statuses     map[string]agentStatus
	messageCount int
	filterLevel  string
	alerted      bool
}

// NewLogSinkWorker creates the logging agent.
func NewLogSinkWorker(id string, b bus.Bus, logger *zap.Logger) *LogSinkWorker {
	return &LogSinkWorker{
		reporter:     newReporter(id, b, logger),
		countByLevel: make(map[string]int),
		activity:     make(map[string]*componentActivity),
		statuses:     make(map[string]agentStatus),
		filterLevel:  acp.LevelInfo,
	}
}

func (w *LogSinkWorker) ID() string       { return w.id }
func (w *LogSinkWorker) Topics() []string { return []string{"logs"} }

func (w *LogSinkWorker) Handle(ctx context.Context, env *acp.Envelope) {
	w.mu.Lock()
	w.messageCount++
	w.mu.Unlock()

	switch payload := env.Payload.(type) {
	case *acp.LogBroadcast:
		w.recordBroadcast(env.SenderID, payload)
	case *acp.StatusUpdate:
		w.recordStatus(env.SenderID, payload)
	case *acp.TaskAssign:
		w.handleTask(ctx, payload)
	default:
		w.logger.Debug("message activity",
			zap.String("msg_type", string(env.MsgType)),
			zap.String("sender_id", env.SenderID))
	}
}

// Tick checks the error-spike rule once a second. The alert fires once
// per spike; it re-arms after the window drains below the threshold.
func (w *LogSinkWorker) Tick(ctx context.Context) {
	w.mu.Lock()
	recent := w.recentErrorsLocked()
	fire := len(recent) >= errorSpikeThreshold && !w.alerted
	if fire {
		w.alerted = true
	} else if len(recent) < errorSpikeThreshold {
		w.alerted = false
	}
	w.mu.Unlock()

	if !fire {
		return
	}
	w.logger.Warn("high error rate detected", zap.Int("error_count", len(recent)))
	w.sendData(ctx, acp.DataSystemAlert, map[string]any{
		"alert_type":    "high_error_rate",
		"recent_errors": recent,
		"error_count":   len(recent),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}, w.id, "")
}

func (w *LogSinkWorker) recordBroadcast(senderID string, payload *acp.LogBroadcast) {
	entry := logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     payload.Level,
		Message:   payload.Message,
		Component: payload.Component,
		SenderID:  senderID,
	}

	w.mu.Lock()
	w.appendLocked(entry)
	w.countByLevel[payload.Level]++
	if payload.Component != "" {
		act := w.activity[payload.Component]
		if act == nil {
			act = &componentActivity{FirstSeen: entry.Timestamp}
			w.activity[payload.Component] = act
		}
		act.LastActivity = entry.Timestamp
		act.MessageCount++
		if payload.Level == acp.LevelError || payload.Level == acp.LevelCritical {
			act.ErrorCount++
		}
	}
	shouldLog := logLevelRank[payload.Level] >= logLevelRank[w.filterLevel]
	w.mu.Unlock()

	if shouldLog {
		w.logger.Info("log broadcast",
			zap.String("level", payload.Level),
			zap.String("component", payload.Component),
			zap.String("message", payload.Message))
	}
}

func (w *LogSinkWorker) recordStatus(senderID string, payload *acp.StatusUpdate) {
	now := time.Now().UTC().Format(time.RFC3339)
	w.mu.Lock()
	w.statuses[senderID] = agentStatus{
		Status:     payload.Status,
		Progress:   payload.Progress,
		TaskID:     payload.TaskID,
		LastUpdate: now,
	}
	w.appendLocked(logEntry{
		Timestamp: now,
		Level:     acp.LevelInfo,
		Message:   "Status update from " + senderID + ": " + payload.Status,
		Component: w.id,
		SenderID:  w.id,
	})
	w.mu.Unlock()
}

func (w *LogSinkWorker) handleTask(ctx context.Context, task *acp.TaskAssign) {
	switch task.TaskType {
	case "generate_report":
		reportType := taskString(task.TaskData, "report_type")
		if reportType == "" {
			reportType = "summary"
		}
		w.sendData(ctx, acp.DataLogReport, w.report(reportType), w.id, "")
		w.logger.Info("log report generated", zap.String("report_type", reportType))
	case "set_log_level":
		w.setFilterLevel(taskString(task.TaskData, "level"))
	case "get_agent_status":
		w.sendData(ctx, acp.DataLoggerStatus, w.statusReport(), w.id, "")
	default:
		w.logger.Warn("unknown task type", zap.String("task_type", task.TaskType))
	}
}

func (w *LogSinkWorker) setFilterLevel(level string) {
	level = strings.ToUpper(level)
	if _, ok := logLevelRank[level]; !ok {
		w.logger.Error("invalid log level", zap.String("level", level))
		return
	}
	w.mu.Lock()
	old := w.filterLevel
	w.filterLevel = level
	w.mu.Unlock()
	w.logger.Info("log filter level changed", zap.String("from", old), zap.String("to", level))
}

func (w *LogSinkWorker) report(reportType string) map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch reportType {
	case "summary":
		return w.summaryLocked()
	case "detailed":
		recent := w.buffer
		if len(recent) > 50 {
			recent = recent[len(recent)-50:]
		}
		return map[string]any{
			"report_type":  "detailed",
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"summary":      w.summaryLocked(),
			"recent_logs":  append([]logEntry(nil), recent...),
			"agent_status": w.statusSnapshotLocked(),
		}
	case "agent_activity":
		activity := make(map[string]componentActivity, len(w.activity))
		for component, act := range w.activity {
			activity[component] = *act
		}
		return map[string]any{
			"report_type":    "agent_activity",
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
			"agent_activity": activity,
			"agent_status":   w.statusSnapshotLocked(),
		}
	default:
		return map[string]any{"error": "unknown report type: " + reportType}
	}
}

func (w *LogSinkWorker) statusReport() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"agent_status":    w.statusSnapshotLocked(),
		"message_count":   w.messageCount,
		"log_buffer_size": len(w.buffer),
		"filter_level":    w.filterLevel,
	}
}

func (w *LogSinkWorker) summaryLocked() map[string]any {
	agentsWithErrors := 0
	for _, act := range w.activity {
		if act.ErrorCount > 0 {
			agentsWithErrors++
		}
	}
	counts := make(map[string]int, len(w.countByLevel))
	for level, count := range w.countByLevel {
		counts[level] = count
	}
	return map[string]any{
		"report_type":         "summary",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"total_messages":      w.messageCount,
		"total_logs":          len(w.buffer),
		"log_counts_by_level": counts,
		"active_agents":       len(w.activity),
		"agents_with_errors":  agentsWithErrors,
	}
}

func (w *LogSinkWorker) statusSnapshotLocked() map[string]agentStatus {
	statuses := make(map[string]agentStatus, len(w.statuses))
	for id, status := range w.statuses {
		statuses[id] = status
	}
	return statuses
}

func (w *LogSinkWorker) appendLocked(entry logEntry) {
	w.buffer = append(w.buffer, entry)
	if len(w.buffer) > logBufferSize {
		w.buffer = w.buffer[len(w.buffer)-logBufferSize:]
	}
}

func (w *LogSinkWorker) recentErrorsLocked() []logEntry {
	window := w.buffer
	if len(window) > errorSpikeWindow {
		window = window[len(window)-errorSpikeWindow:]
	}
	var errs []logEntry
	for _, entry := range window {
		if entry.Level == acp.LevelError || entry.Level == acp.LevelCritical {
			errs = append(errs, entry)
		}
	}
	return errs
}
