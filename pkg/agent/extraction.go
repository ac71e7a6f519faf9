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

// ExtractionWorker pulls page content through the streaming
// browse_and_extract tool, forwarding tool progress to the orchestrator
// as it arrives.
type ExtractionWorker struct {
	reporter
	tools *toolclient.Client
}

// NewExtractionWorker creates the extraction stage worker.
func NewExtractionWorker(id string, b bus.Bus, tools *toolclient.Client, logger *zap.Logger) *ExtractionWorker {
	return &ExtractionWorker{reporter: newReporter(id, b, logger), tools: tools}
}

func (w *ExtractionWorker) ID() string       { return w.id }
func (w *ExtractionWorker) Topics() []string { return nil }

func (w *ExtractionWorker) Handle(ctx context.Context, env *acp.Envelope) {
	task, ok := env.Payload.(*acp.TaskAssign)
	if !ok {
		w.logger.Warn("unhandled message type", zap.String("msg_type", string(env.MsgType)))
		return
	}
	if task.TaskType != "extract_content" {
		w.logger.Warn("unknown task type", zap.String("task_type", task.TaskType))
		return
	}
	w.extract(ctx, task.TaskData)
}

func (w *ExtractionWorker) extract(ctx context.Context, data map[string]any) {
	url := taskString(data, "url")
	id := taskID(data)
	sourceDescription := taskString(data, "source_description")
	if sourceDescription == "" {
		sourceDescription = "unknown_source"
	}

	if url == "" {
		w.logger.Error("no url provided for extraction")
		w.sendStatus(ctx, "extraction_failed: no URL provided for extraction", 0, id)
		return
	}

	w.logger.Info("starting content extraction", zap.String("url", url))
	w.sendStatus(ctx, "extraction_starting", 5, id)

	result, err := w.tools.CallStream(ctx, PrimaryToolingServer, "browse_and_extract",
		map[string]any{"url": url},
		func(progress map[string]any) {
			message, _ := progress["message"].(string)
			if message == "" {
				message = "Processing..."
			}
			percentage, _ := progress["percentage"].(float64)
			phase, _ := progress["phase"].(string)
			if phase == "" {
				phase = "unknown"
			}
			w.sendStatus(ctx, fmt.Sprintf("extracting_%s: %s", phase, message), percentage, id)
		})
	if err != nil {
		msg := fmt.Sprintf("failed to extract content from %s: %v", url, err)
		w.logger.Error("content extraction failed", zap.String("url", url), zap.Error(err))
		w.sendStatus(ctx, "extraction_failed: "+msg, 0, id)
		// A failed extraction still counts toward the workflow's source
		// tally, so the orchestrator receives an unsuccessful record.
		w.sendData(ctx, acp.DataExtractedContent, map[string]any{
			"url":                   url,
			"title":                 fmt.Sprintf("Failed extraction from %s", url),
			"content":               "",
			"word_count":            0,
			"source_description":    sourceDescription,
			"extraction_successful": false,
			"error_message":         msg,
		}, url, id)
		w.sendLog(ctx, acp.LevelError, fmt.Sprintf("Content extraction failed: %s - %s", url, msg))
		return
	}

	extractedURL, _ := result["url"].(string)
	if extractedURL == "" {
		extractedURL = url
	}
	title, _ := result["title"].(string)
	if title == "" {
		title = fmt.Sprintf("Content from %s", url)
	}
	content, _ := result["content"].(string)
	wordCount := taskInt(result, "word_count", 0)

	w.logger.Info("extraction completed", zap.String("url", url), zap.Int("word_count", wordCount))
	w.sendStatus(ctx, "extraction_complete", 100, id)
	w.sendData(ctx, acp.DataExtractedContent, map[string]any{
		"url":                   extractedURL,
		"title":                 title,
		"content":               content,
		"word_count":            wordCount,
		"source_description":    sourceDescription,
		"extraction_successful": true,
	}, url, id)
	w.sendLog(ctx, acp.LevelInfo, fmt.Sprintf("Content extraction complete: %s (%d words)", url, wordCount))
}
