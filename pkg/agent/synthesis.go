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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/synapse/pkg/acp"
	"github.com/teradata-labs/synapse/pkg/bus"
)

// TextImprover polishes prose sections before they enter the report.
type TextImprover interface {
	Improve(text string) string
}

// SynthesisWorker assembles the final Markdown research report from the
// workflow's search results and extracted content.
type SynthesisWorker struct {
	reporter
	improver TextImprover
}

// NewSynthesisWorker creates the synthesis stage worker. A nil improver
// falls back to the built-in word-substitution improver.
func NewSynthesisWorker(id string, b bus.Bus, improver TextImprover, logger *zap.Logger) *SynthesisWorker {
	if improver == nil {
		improver = WordImprover{}
	}
	return &SynthesisWorker{reporter: newReporter(id, b, logger), improver: improver}
}

func (w *SynthesisWorker) ID() string       { return w.id }
func (w *SynthesisWorker) Topics() []string { return nil }

func (w *SynthesisWorker) Handle(ctx context.Context, env *acp.Envelope) {
	task, ok := env.Payload.(*acp.TaskAssign)
	if !ok {
		w.logger.Warn("unhandled message type", zap.String("msg_type", string(env.MsgType)))
		return
	}
	if task.TaskType != "synthesize_research" {
		w.logger.Warn("unknown task type", zap.String("task_type", task.TaskType))
		return
	}
	w.synthesize(ctx, task.TaskData)
}

func (w *SynthesisWorker) synthesize(ctx context.Context, data map[string]any) {
	query := taskString(data, "query")
	id := taskID(data)
	searchResults, _ := data["search_results"].([]any)
	extracted := contentRecords(data["extracted_content"])

	if query == "" {
		w.logger.Error("no research query provided for synthesis")
		w.sendStatus(ctx, "synthesis_failed: no research query provided for synthesis", 0, id)
		return
	}

	w.logger.Info("starting synthesis", zap.String("query", query))
	w.sendStatus(ctx, "synthesis_starting", 10, id)

	var sections []string

	w.sendStatus(ctx, "creating_introduction", 20, id)
	sections = append(sections, "## Introduction\n\n"+w.improver.Improve(introduction(query)))

	w.sendStatus(ctx, "analyzing_sources", 40, id)
	successful := 0
	for i, content := range extracted {
		if ok, _ := content["extraction_successful"].(bool); !ok {
			continue
		}
		successful++
		sections = append(sections, fmt.Sprintf("## Source %d Analysis\n\n%s",
			i+1, w.improver.Improve(sourceAnalysis(content))))
	}

	w.sendStatus(ctx, "creating_synthesis", 70, id)
	sections = append(sections, "## Synthesis and Conclusions\n\n"+w.improver.Improve(conclusion(query, successful)))

	w.sendStatus(ctx, "adding_metadata", 90, id)
	sections = append(sections, "## Research Methodology\n\n"+methodology(len(searchResults), successful))

	report := fmt.Sprintf("# Research Report: %s\n\n%s\n\n## Research Metadata\n\n%s",
		query, strings.Join(sections, "\n\n"), metadata(len(searchResults), extracted))

	wordCount := len(strings.Fields(report))
	w.logger.Info("synthesis completed", zap.Int("word_count", wordCount))
	w.sendStatus(ctx, "synthesis_complete", 100, id)
	w.sendData(ctx, acp.DataSynthesisReport, map[string]any{
		"report_content":   report,
		"word_count":       wordCount,
		"sections":         len(sections),
		"sources_analyzed": successful,
		"query":            query,
	}, "synthesis_engine", id)
	w.sendLog(ctx, acp.LevelInfo, fmt.Sprintf(
		"Research report synthesized: %d words, %d sources", wordCount, len(extracted)))
}

// contentRecords normalizes the extracted_content list out of task data.
func contentRecords(v any) []map[string]any {
	raw, _ := v.([]any)
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}

func introduction(query string) string {
	return fmt.Sprintf(`This research report investigates the question: %q.

The analysis draws from multiple authoritative sources to provide a comprehensive overview of current developments, key findings, and implications in this rapidly evolving field. Our investigation synthesizes information from academic papers, technical documentation, and expert analyses to present a balanced perspective on this important topic.`, query)
}

func sourceAnalysis(content map[string]any) string {
	url, _ := content["url"].(string)
	if url == "" {
		url = "Unknown source"
	}
	title, _ := content["title"].(string)
	if title == "" {
		title = "Untitled"
	}
	text, _ := content["content"].(string)
	wordCount := taskInt(content, "word_count", 0)

	return fmt.Sprintf(`**Source**: [%s](%s)

**Content Summary** (%d words):

%s

**Key Insights**:

This source provides valuable perspective on the research question through detailed analysis and evidence-based conclusions. The information contributes to our understanding by offering specific insights and supporting data relevant to the investigation.`,
		title, url, wordCount, keyPoints(text))
}

// keyPoints lifts the first substantial sentences out of source text.
func keyPoints(content string) string {
	var points []string
	for _, sentence := range strings.Split(content, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) > 50 {
			points = append(points, fmt.Sprintf("• %s.", sentence))
		}
		if len(points) == 3 {
			break
		}
	}
	if len(points) == 0 {
		return "• Content provides technical background and context for the research question."
	}
	return strings.Join(points, "\n\n")
}

func conclusion(query string, sources int) string {
	return fmt.Sprintf(`Based on our analysis of %d authoritative sources, several key themes emerge regarding %s:

**Primary Findings**:

• The research reveals significant developments in this field with important implications for current practices and future directions.

• Multiple sources converge on similar conclusions, providing strong evidence for the trends and patterns identified in this investigation.

• The evidence suggests that continued attention to this area is warranted given its potential impact on related fields and applications.

**Implications**:

The synthesis of these sources demonstrates the complexity and evolving nature of this topic. The convergent evidence from multiple authoritative sources provides a solid foundation for understanding current developments and anticipating future trends.

**Future Research Directions**:

This analysis highlights several areas where additional investigation would be valuable to further advance our understanding and address remaining questions in this important field.`, sources, query)
}

func methodology(searchResults, successful int) string {
	return fmt.Sprintf(`**Research Methodology**:

This report was generated through a systematic multi-stage process:

1. **Information Discovery**: Conducted web search yielding %d relevant sources
2. **Content Extraction**: Successfully extracted content from %d sources
3. **Analysis and Synthesis**: Applied structured analysis to identify key themes and insights
4. **Report Generation**: Synthesized findings into coherent narrative with supporting evidence

**Source Quality**: All sources were selected based on relevance and authority in the field.`, searchResults, successful)
}

func metadata(searchResults int, extracted []map[string]any) string {
	var sources []string
	totalWords := 0
	for _, content := range extracted {
		if ok, _ := content["extraction_successful"].(bool); !ok {
			continue
		}
		totalWords += taskInt(content, "word_count", 0)
		title, _ := content["title"].(string)
		if title == "" {
			title = "Untitled"
		}
		url, _ := content["url"].(string)
		if url == "" {
			url = "#"
		}
		sources = append(sources, fmt.Sprintf("• [%s](%s)", title, url))
	}

	return fmt.Sprintf(`**Research Statistics**:
- Sources Analyzed: %d
- Total Content Words: %d
- Search Results: %d

**Sources**:
%s

**Generation Date**: %s UTC`,
		len(sources), totalWords, searchResults,
		strings.Join(sources, "\n"),
		time.Now().UTC().Format("2006-01-02 15:04:05"))
}

// WordImprover is the default text improver: a fixed substitution table
// that tightens informal phrasing in sentences long enough to matter.
type WordImprover struct{}

var wordReplacements = []struct{ old, new string }{
	{"very good", "excellent"},
	{"very bad", "problematic"},
	{"a lot of", "numerous"},
	{"thing", "element"},
	{"stuff", "content"},
	{"get", "obtain"},
	{"make", "create"},
	{"big", "substantial"},
	{"small", "minimal"},
}

func (WordImprover) Improve(text string) string {
	sentences := strings.Split(text, ". ")
	for i, sentence := range sentences {
		if len(strings.TrimSpace(sentence)) <= 50 {
			continue
		}
		for _, r := range wordReplacements {
			sentence = strings.ReplaceAll(sentence, r.old, r.new)
		}
		sentences[i] = sentence
	}
	return strings.Join(sentences, ". ")
}
