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

// FilesystemServer is the tool server enforcing the path allow-list.
const FilesystemServer = "filesystem"

// FileSaveWorker persists files through the filesystem authority. Every
// save validates its path first; a disallowed path never reaches the
// save_file tool.
type FileSaveWorker struct {
	reporter
	tools *toolclient.Client
}

// NewFileSaveWorker creates the persistence stage worker.
func NewFileSaveWorker(id string, b bus.Bus, tools *toolclient.Client, logger *zap.Logger) *FileSaveWorker {
	return &FileSaveWorker{reporter: newReporter(id, b, logger), tools: tools}
}

func (w *FileSaveWorker) ID() string       { return w.id }
func (w *FileSaveWorker) Topics() []string { return nil }

func (w *FileSaveWorker) Handle(ctx context.Context, env *acp.Envelope) {
	task, ok := env.Payload.(*acp.TaskAssign)
	if !ok {
		w.logger.Warn("unhandled message type", zap.String("msg_type", string(env.MsgType)))
		return
	}
	if task.TaskType != "save_file" {
		w.logger.Warn("unknown task type", zap.String("task_type", task.TaskType))
		return
	}
	w.save(ctx, task.TaskData)
}

func (w *FileSaveWorker) save(ctx context.Context, data map[string]any) {
	filePath := taskString(data, "file_path")
	content := taskString(data, "content")
	id := taskID(data)

	if filePath == "" {
		w.logger.Error("no file path provided for save operation")
		w.sendStatus(ctx, "file_save_failed: no file path provided for save operation", 0, id)
		return
	}
	if content == "" {
		w.logger.Warn("empty content provided", zap.String("file_path", filePath))
	}

	w.logger.Info("starting file save", zap.String("file_path", filePath))
	w.sendStatus(ctx, "file_save_starting", 10, id)
	w.sendStatus(ctx, "validating_path", 25, id)

	validation, err := w.tools.Call(ctx, FilesystemServer, "validate_path", map[string]any{"path": filePath})
	allowed := false
	if err == nil {
		allowed, _ = validation["is_allowed"].(bool)
	}
	if !allowed {
		msg := fmt.Sprintf("file path not allowed by roots policy: %s", filePath)
		w.logger.Error("path validation rejected save",
			zap.String("file_path", filePath),
			zap.Error(err))
		w.sendStatus(ctx, "file_save_failed: "+msg, 0, id)
		w.sendLog(ctx, acp.LevelError, fmt.Sprintf("File save failed: %s - %s", filePath, msg))
		return
	}

	w.sendStatus(ctx, "preparing_file_save", 50, id)

	result, err := w.tools.Call(ctx, FilesystemServer, "save_file", map[string]any{
		"file_path": filePath,
		"content":   content,
	})
	if err != nil {
		msg := fmt.Sprintf("file save failed for %s: %v", filePath, err)
		w.logger.Error("file save failed", zap.String("file_path", filePath), zap.Error(err))
		w.sendStatus(ctx, "file_save_failed: "+msg, 0, id)
		w.sendLog(ctx, acp.LevelError, fmt.Sprintf("File save failed: %s - %s", filePath, msg))
		return
	}

	success, _ := result["success"].(bool)
	if !success {
		msg := fmt.Sprintf("file save operation failed for %s", filePath)
		w.logger.Error("file save reported failure", zap.String("file_path", filePath))
		w.sendStatus(ctx, "file_save_failed: "+msg, 0, id)
		return
	}

	bytesWritten := taskInt(result, "bytes_written", 0)
	savedPath, _ := result["file_path"].(string)
	if savedPath == "" {
		savedPath = filePath
	}

	w.logger.Info("file saved",
		zap.String("file_path", savedPath),
		zap.Int("bytes_written", bytesWritten))
	w.sendStatus(ctx, "file_save_complete", 100, id)
	w.sendData(ctx, acp.DataFileSaveResult, map[string]any{
		"file_path":       savedPath,
		"bytes_written":   bytesWritten,
		"content_length":  len(content),
		"save_successful": true,
	}, "filesystem", id)
	w.sendLog(ctx, acp.LevelInfo, fmt.Sprintf("File saved successfully: %s (%d bytes)", savedPath, bytesWritten))
}
