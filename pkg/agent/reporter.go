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

	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/bus"
)

// reporter is the shared send surface embedded by every worker: status
// updates and data submissions to the orchestrator, log broadcasts on the
// logs topic. Publish failures are logged, never propagated — a worker
// that cannot report still finishes its task.
type reporter struct {
	id     string
	bus    bus.Bus
	logger *zap.Logger
}

func newReporter(id string, b bus.Bus, logger *zap.Logger) reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return reporter{id: id, bus: b, logger: logger.With(zap.String("agent_id", id))}
}

// sendStatus reports progress to the orchestrator. A negative progress
// omits the field.
func (r *reporter) sendStatus(ctx context.Context, status string, progress float64, taskID string) {
	env, err := acp.New(r.id, OrchestratorID, "", acp.NewStatusUpdate(status, progress, taskID))
	if err != nil {
		r.logger.Error("building status update failed", zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, env); err != nil {
		r.logger.Error("publishing status update failed", zap.String("status", status), zap.Error(err))
	}
}

// sendData submits a typed result to the orchestrator.
func (r *reporter) sendData(ctx context.Context, dataType acp.DataType, data map[string]any, source, taskID string) {
	env, err := acp.New(r.id, OrchestratorID, "", acp.NewDataSubmit(dataType, data, source, taskID))
	if err != nil {
		r.logger.Error("building data submission failed", zap.String("data_type", string(dataType)), zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, env); err != nil {
		r.logger.Error("publishing data submission failed", zap.String("data_type", string(dataType)), zap.Error(err))
	}
}

// sendLog broadcasts on the logs topic.
func (r *reporter) sendLog(ctx context.Context, level, message string) {
	env, err := acp.New(r.id, "", "logs", &acp.LogBroadcast{Level: level, Message: message, Component: r.id})
	if err != nil {
		r.logger.Error("building log broadcast failed", zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, env); err != nil {
		r.logger.Error("publishing log broadcast failed", zap.Error(err))
	}
}

// taskString reads a string field from task data.
func taskString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// taskID reads the task id, defaulting to "unknown" as every worker does.
func taskID(data map[string]any) string {
	if id := taskString(data, "task_id"); id != "" {
		return id
	}
	return "unknown"
}

// taskInt reads a numeric field; JSON numbers arrive as float64.
func taskInt(data map[string]any, key string, def int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
