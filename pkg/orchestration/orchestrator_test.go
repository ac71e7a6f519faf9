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
package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/agent"
	"github.com/teradata-labs/synapse/pkg/bus"
)

func connectedBus(t *testing.T) *bus.MemoryBus {
	t.Helper()
	b := bus.NewMemoryBus(zaptest.NewLogger(t))
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

// captureTasks records TaskAssign envelopes delivered to one agent id.
func captureTasks(t *testing.T, b *bus.MemoryBus, agentID string) chan *acp.TaskAssign {
	t.Helper()
	ch := make(chan *acp.TaskAssign, 16)
	require.NoError(t, b.SubscribeAgent(agentID, func(ctx context.Context, env *acp.Envelope) {
		if task, ok := env.Payload.(*acp.TaskAssign); ok {
			ch <- task
		}
	}))
	return ch
}

func submitData(t *testing.T, o *Orchestrator, sender string, dataType acp.DataType, data map[string]any) {
	t.Helper()
	env, err := acp.New(sender, agent.OrchestratorID, "", acp.NewDataSubmit(dataType, data, sender, o.Status().TaskID))
	require.NoError(t, err)
	o.Handle(context.Background(), env)
}

func searchResultData(n int) map[string]any {
	results := make([]any, n)
	for i := range results {
		results[i] = map[string]any{
			"title": fmt.Sprintf("Result %d", i+1),
			"url":   fmt.Sprintf("https://example.org/%d", i+1),
		}
	}
	return map[string]any{"results": results, "result_count": n}
}

func extractedData(i int, successful bool) map[string]any {
	return map[string]any{
		"url":                   fmt.Sprintf("https://example.org/%d", i),
		"title":                 fmt.Sprintf("Article %d", i),
		"content":               "Some extracted body text long enough to matter.",
		"word_count":            float64(100 + i),
		"extraction_successful": successful,
	}
}

func TestStartResearchAssignsSearch(t *testing.T) {
	b := connectedBus(t)
	searchTasks := captureTasks(t, b, SearchAgentID)

	o := New(b, zaptest.NewLogger(t))
	require.NoError(t, o.StartResearch(context.Background(), "quantum cryptography"))

	select {
	case task := <-searchTasks:
		assert.Equal(t, "web_search", task.TaskType)
		assert.Equal(t, "quantum cryptography", task.TaskData["query"])
		assert.Equal(t, 5, task.TaskData["max_results"])
		taskID := task.TaskData["task_id"].(string)
		assert.Len(t, taskID, 8)
	case <-time.After(time.Second):
		t.Fatal("no search task assigned")
	}

	wf := o.Status()
	assert.Equal(t, StateSearching, wf.State)
	assert.Equal(t, "quantum cryptography", wf.Query)
}

func TestSearchResultsFanOutCapped(t *testing.T) {
	b := connectedBus(t)
	extractionTasks := captureTasks(t, b, ExtractionAgentID)

	o := New(b, zaptest.NewLogger(t))
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	submitData(t, o, SearchAgentID, acp.DataSearchResults, searchResultData(5))

	urls := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case task := <-extractionTasks:
			assert.Equal(t, "extract_content", task.TaskType)
			urls[task.TaskData["url"].(string)] = true
			desc := task.TaskData["source_description"].(string)
			assert.True(t, strings.HasPrefix(desc, "source_"))
		case <-time.After(time.Second):
			t.Fatalf("extraction task %d not assigned", i)
		}
	}
	assert.Len(t, urls, 3)

	select {
	case task := <-extractionTasks:
		t.Fatalf("fan-out exceeded cap: extra task for %v", task.TaskData["url"])
	case <-time.After(150 * time.Millisecond):
	}

	assert.Equal(t, StateExtracting, o.Status().State)
	assert.Len(t, o.Status().SearchResults, 5)
}

func TestSynthesisTriggersExactlyOnce(t *testing.T) {
	b := connectedBus(t)
	synthesisTasks := captureTasks(t, b, SynthesisAgentID)

	o := New(b, zaptest.NewLogger(t))
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	submitData(t, o, SearchAgentID, acp.DataSearchResults, searchResultData(3))

	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(1, true))
	select {
	case <-synthesisTasks:
		t.Fatal("synthesis dispatched below threshold")
	case <-time.After(100 * time.Millisecond):
	}

	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(2, true))
	select {
	case task := <-synthesisTasks:
		assert.Equal(t, "synthesize_research", task.TaskType)
		assert.Len(t, task.TaskData["extracted_content"], 2)
	case <-time.After(time.Second):
		t.Fatal("synthesis not dispatched at threshold")
	}
	assert.Equal(t, StateSynthesizing, o.Status().State)

	// A third arrival is recorded but triggers nothing.
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(3, false))
	select {
	case <-synthesisTasks:
		t.Fatal("duplicate synthesis dispatch")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Len(t, o.Status().ExtractedContent, 3)
}

// synthesizing drives a fresh workflow into the synthesizing state.
func synthesizing(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	submitData(t, o, SearchAgentID, acp.DataSearchResults, searchResultData(3))
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(1, true))
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(2, true))
	require.Equal(t, StateSynthesizing, o.Status().State)
}

func TestExtractionShortfallHoldsSynthesis(t *testing.T) {
	b := connectedBus(t)
	synthesisTasks := captureTasks(t, b, SynthesisAgentID)

	o := New(b, zaptest.NewLogger(t))
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	submitData(t, o, SearchAgentID, acp.DataSearchResults, searchResultData(3))

	// One success and two failures: failed records are kept but never
	// count toward the synthesis threshold.
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(1, true))
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(2, false))
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(3, false))

	select {
	case <-synthesisTasks:
		t.Fatal("synthesis dispatched without enough successful extractions")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StateExtracting, o.Status().State)
	assert.Len(t, o.Status().ExtractedContent, 3)

	// A second success completes the threshold.
	submitData(t, o, ExtractionAgentID, acp.DataExtractedContent, extractedData(4, true))
	select {
	case task := <-synthesisTasks:
		assert.Equal(t, "synthesize_research", task.TaskType)
		assert.Len(t, task.TaskData["extracted_content"], 4)
	case <-time.After(time.Second):
		t.Fatal("synthesis not dispatched after second success")
	}
	assert.Equal(t, StateSynthesizing, o.Status().State)
}

func TestSynthesisReportDispatchesSave(t *testing.T) {
	b := connectedBus(t)
	saveTasks := captureTasks(t, b, FileSaveAgentID)

	o := New(b, zaptest.NewLogger(t))
	synthesizing(t, o)
	submitData(t, o, SynthesisAgentID, acp.DataSynthesisReport, map[string]any{
		"report_content": "# Research Report: q\n\nBody.",
		"word_count":     float64(6),
	})

	select {
	case task := <-saveTasks:
		assert.Equal(t, "save_file", task.TaskType)
		path := task.TaskData["file_path"].(string)
		assert.True(t, strings.HasPrefix(path, "output/reports/research_report_"))
		assert.True(t, strings.HasSuffix(path, ".md"))
		assert.Equal(t, "# Research Report: q\n\nBody.", task.TaskData["content"])
	case <-time.After(time.Second):
		t.Fatal("no save task assigned")
	}
	assert.Equal(t, StatePersisting, o.Status().State)
}

// Delivery is at-least-once: a redelivered synthesis report must not
// dispatch persistence a second time.
func TestDuplicateSynthesisReportSavesOnce(t *testing.T) {
	b := connectedBus(t)
	saveTasks := captureTasks(t, b, FileSaveAgentID)

	o := New(b, zaptest.NewLogger(t))
	synthesizing(t, o)

	report := map[string]any{
		"report_content": "# Research Report: q\n\nBody.",
		"word_count":     float64(6),
	}
	submitData(t, o, SynthesisAgentID, acp.DataSynthesisReport, report)
	submitData(t, o, SynthesisAgentID, acp.DataSynthesisReport, report)

	select {
	case task := <-saveTasks:
		assert.Equal(t, "save_file", task.TaskType)
	case <-time.After(time.Second):
		t.Fatal("no save task assigned")
	}
	select {
	case <-saveTasks:
		t.Fatal("persistence dispatched twice for one workflow")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StatePersisting, o.Status().State)
}

func TestFileSaveResultCompletesWorkflow(t *testing.T) {
	b := connectedBus(t)
	logs := make(chan *acp.LogBroadcast, 16)
	_, err := b.SubscribeTopic("logs", func(ctx context.Context, env *acp.Envelope) {
		if l, ok := env.Payload.(*acp.LogBroadcast); ok {
			logs <- l
		}
	})
	require.NoError(t, err)

	o := New(b, zaptest.NewLogger(t))
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	submitData(t, o, FileSaveAgentID, acp.DataFileSaveResult, map[string]any{
		"file_path":       "output/reports/research_report_x.md",
		"bytes_written":   float64(42),
		"save_successful": true,
	})

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after file save result")
	}
	assert.Equal(t, StateDone, o.Status().State)

	deadline := time.After(time.Second)
	for {
		select {
		case l := <-logs:
			if strings.Contains(l.Message, "completed successfully") {
				return
			}
		case <-deadline:
			t.Fatal("no completion broadcast observed")
		}
	}
}

func TestSearchFailureRetriesOnce(t *testing.T) {
	b := connectedBus(t)
	searchTasks := captureTasks(t, b, SearchAgentID)

	o := New(b, zaptest.NewLogger(t))
	o.retryDelay = 20 * time.Millisecond
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	<-searchTasks

	fail := func() {
		env, err := acp.New(SearchAgentID, agent.OrchestratorID, "",
			acp.NewStatusUpdate("search_failed: backend down", 0, o.Status().TaskID))
		require.NoError(t, err)
		o.Handle(context.Background(), env)
	}

	fail()
	select {
	case task := <-searchTasks:
		assert.Equal(t, "web_search", task.TaskType)
	case <-time.After(time.Second):
		t.Fatal("search not retried after failure")
	}

	// A second failure with still-empty results does not retry again.
	fail()
	select {
	case <-searchTasks:
		t.Fatal("search retried more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNoRetryOnceResultsExist(t *testing.T) {
	b := connectedBus(t)
	searchTasks := captureTasks(t, b, SearchAgentID)

	o := New(b, zaptest.NewLogger(t))
	o.retryDelay = 20 * time.Millisecond
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	<-searchTasks

	submitData(t, o, SearchAgentID, acp.DataSearchResults, searchResultData(2))

	env, err := acp.New(SearchAgentID, agent.OrchestratorID, "",
		acp.NewStatusUpdate("search_failed: flake", 0, o.Status().TaskID))
	require.NoError(t, err)
	o.Handle(context.Background(), env)

	select {
	case <-searchTasks:
		t.Fatal("retried search despite existing results")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStatusSnapshotIsIsolated(t *testing.T) {
	b := connectedBus(t)
	o := New(b, zaptest.NewLogger(t))
	require.NoError(t, o.StartResearch(context.Background(), "q"))
	submitData(t, o, SearchAgentID, acp.DataSearchResults, searchResultData(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				wf := o.Status()
				wf.AgentStatus["mutated"] = "x"
				_ = wf.SearchResults
			}
		}()
	}
	for i := 0; i < 20; i++ {
		env, err := acp.New(SearchAgentID, agent.OrchestratorID, "",
			acp.NewStatusUpdate(fmt.Sprintf("step_%d", i), float64(i), o.Status().TaskID))
		require.NoError(t, err)
		o.Handle(context.Background(), env)
	}
	wg.Wait()

	_, mutated := o.Status().AgentStatus["mutated"]
	assert.False(t, mutated, "snapshot mutation leaked into workflow state")
}
