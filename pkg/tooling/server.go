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

// Package tooling serves the primary tool surface the pipeline calls:
// a deterministic search_web and a streaming browse_and_extract. The
// results are canned, keyed by query and URL vocabulary, which makes the
// server a stable fixture for end-to-end runs and tests alike.
package tooling

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Server is the primary tooling HTTP server.
type Server struct {
	logger *zap.Logger
	mux    *http.ServeMux

	// streamDelay paces the progress events of browse_and_extract.
	// Zero keeps tests fast; the binary sets a human-visible pace.
	streamDelay time.Duration
}

// NewServer creates the primary tooling server.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /tools/search_web", s.handleSearchWeb)
	s.mux.HandleFunc("POST /tools/browse_and_extract", s.handleBrowseAndExtract)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// SetStreamDelay sets the pause between streamed progress events.
func (s *Server) SetStreamDelay(d time.Duration) { s.streamDelay = d }

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.mux }

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearchWeb(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.logger.Info("search_web", zap.String("query", req.Query))
	writeJSON(w, http.StatusOK, map[string]any{
		"results":         searchResults(req.Query),
		"query_processed": strings.ToLower(strings.TrimSpace(req.Query)),
	})
}

// searchResults returns the canned result table for a query.
func searchResults(query string) []map[string]any {
	if strings.Contains(strings.ToLower(query), "quantum") {
		return []map[string]any{
			{
				"title":   "Quantum Computing and Cryptography: Current State",
				"url":     "https://example.com/quantum-crypto-current",
				"snippet": "Overview of how quantum computing affects current cryptographic methods...",
			},
			{
				"title":   "Post-Quantum Cryptography Standards",
				"url":     "https://example.com/post-quantum-standards",
				"snippet": "NIST's guidelines for quantum-resistant encryption algorithms...",
			},
			{
				"title":   "Timeline of Quantum Computing Development",
				"url":     "https://example.com/quantum-timeline",
				"snippet": "Historical development and future projections for quantum computers...",
			},
		}
	}
	return []map[string]any{
		{
			"title":   "Research Article: " + query,
			"url":     fmt.Sprintf("https://example.com/research-%d", len(query)),
			"snippet": fmt.Sprintf("Comprehensive analysis of %s and related topics...", query),
		},
		{
			"title":   "Academic Paper on " + query,
			"url":     fmt.Sprintf("https://example.com/academic-%d", queryHash(query)),
			"snippet": fmt.Sprintf("Peer-reviewed research covering various aspects of %s...", query),
		},
	}
}

func queryHash(query string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(query))
	return h.Sum32() % 1000
}

type extractRequest struct {
	URL string `json:"url"`
}

// extractionPhases is the fixed progress sequence of a stream.
var extractionPhases = []struct {
	message    string
	percentage float64
	phase      string
}{
	{"Connecting to source", 10, "connection"},
	{"Downloading content", 30, "download"},
	{"Parsing document structure", 60, "parsing"},
	{"Extracting main content", 80, "extraction"},
	{"Extraction complete", 100, "complete"},
}

func (s *Server) handleBrowseAndExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	s.logger.Info("browse_and_extract", zap.String("url", req.URL))

	for _, p := range extractionPhases {
		writeEvent(w, "progress", map[string]any{
			"message":    p.message,
			"percentage": p.percentage,
			"phase":      p.phase,
		})
		flusher.Flush()
		if s.streamDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.streamDelay):
			}
		}
	}

	content := extractedContent(req.URL)
	writeEvent(w, "result", map[string]any{
		"url":        req.URL,
		"title":      pageTitle(req.URL),
		"content":    content,
		"word_count": len(strings.Fields(content)),
	})
	flusher.Flush()
}

// extractedContent returns the canned page body for a URL.
func extractedContent(url string) string {
	switch {
	case strings.Contains(url, "quantum-crypto"):
		return strings.TrimSpace(`Quantum computing represents a fundamental shift in computational paradigms that poses significant challenges to current cryptographic systems. Traditional encryption methods, particularly those based on RSA and elliptic curve cryptography, rely on the computational difficulty of factoring large numbers or solving discrete logarithm problems.

Quantum computers, utilizing Shor's algorithm, can efficiently solve these problems, potentially rendering current public key cryptography obsolete. This has led to urgent research into post-quantum cryptography - encryption methods that remain secure even against quantum attacks.`)
	case strings.Contains(url, "post-quantum"):
		return strings.TrimSpace(`The National Institute of Standards and Technology (NIST) has been leading efforts to standardize post-quantum cryptographic algorithms. After years of evaluation, NIST has selected several algorithms for standardization including CRYSTALS-Kyber for key establishment and CRYSTALS-Dilithium for digital signatures.`)
	default:
		return strings.TrimSpace(fmt.Sprintf(`This is extracted content from %s. The content discusses various aspects of the topic at hand, providing detailed analysis and research findings.

The document covers multiple perspectives and includes references to current academic work in the field. This extraction demonstrates the capability to process web content and extract meaningful text for further analysis and synthesis.`, url))
	}
}

// pageTitle derives a title from the last URL segment.
func pageTitle(url string) string {
	segment := url
	if i := strings.LastIndex(url, "/"); i >= 0 {
		segment = url[i+1:]
	}
	words := strings.Split(segment, "-")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return "Research Article - " + strings.Join(words, " ")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "primary_tooling",
		"tools":   []string{"search_web", "browse_and_extract"},
	})
}

func writeEvent(w http.ResponseWriter, name string, data any) {
	body, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
