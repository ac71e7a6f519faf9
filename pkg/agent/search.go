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
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/bus"
	"github.com/teradata-labs/synapse/pkg/toolclient"
)

// PrimaryToolingServer is the tool server carrying search and extraction.
const PrimaryToolingServer = "primary_tooling"

// defaultMaxResults caps search results when the task does not say.
const defaultMaxResults = 5

// SearchWorker discovers information sources via the search_web tool.
type SearchWorker struct {
	reporter
	tools *toolclient.Client
}

// NewSearchWorker creates the search stage worker.
func NewSearchWorker(id string, b bus.Bus, tools *toolclient.Client, logger *zap.Logger) *SearchWorker {
	return &SearchWorker{reporter: newReporter(id, b, logger), tools: tools}
}

func (w *SearchWorker) ID() string       { return w.id }
func (w *SearchWorker) Topics() []string { return nil }

func (w *SearchWorker) Handle(ctx context.Context, env *acp.Envelope) {
	task, ok := env.Payload.(*acp.TaskAssign)
	if !ok {
		w.logger.Warn("unhandled message type", zap.String("msg_type", string(env.MsgType)))
		return
	}
	if task.TaskType != "web_search" {
		w.logger.Warn("unknown task type", zap.String("task_type", task.TaskType))
		return
	}
	w.search(ctx, task.TaskData)
}

func (w *SearchWorker) search(ctx context.Context, data map[string]any) {
	query := taskString(data, "query")
	id := taskID(data)
	maxResults := taskInt(data, "max_results", defaultMaxResults)

	if query == "" {
		w.logger.Error("no search query provided")
		w.sendStatus(ctx, "search_failed: no search query provided", 0, id)
		return
	}

	w.logger.Info("starting web search", zap.String("query", query))
	w.sendStatus(ctx, "searching", 10, id)

	result, err := w.tools.Call(ctx, PrimaryToolingServer, "search_web", map[string]any{"query": query})
	if err != nil {
		msg := fmt.Sprintf("web search failed for %q: %v", query, err)
		w.logger.Error("web search failed", zap.String("query", query), zap.Error(err))
		w.sendStatus(ctx, "search_failed: "+msg, 0, id)
		w.sendLog(ctx, acp.LevelError, msg)
		return
	}

	results, _ := result["results"].([]any)
	queryProcessed, _ := result["query_processed"].(string)
	if queryProcessed == "" {
		queryProcessed = query
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	w.logger.Info("search completed", zap.String("query", query), zap.Int("result_count", len(results)))
	w.sendStatus(ctx, "search_complete", 100, id)
	w.sendData(ctx, acp.DataSearchResults, map[string]any{
		"query":           query,
		"query_processed": queryProcessed,
		"results":         results,
		"result_count":    len(results),
	}, "web_search", id)
	w.sendLog(ctx, acp.LevelInfo, fmt.Sprintf("Web search completed: %q -> %d results", query, len(results)))
}
