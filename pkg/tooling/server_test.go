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
package tooling

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/synapse/pkg/toolclient"
)

func newTestServer(t *testing.T) (*httptest.Server, *toolclient.Client) {
	t.Helper()
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t)).Handler())
	t.Cleanup(srv.Close)
	c := toolclient.New(toolclient.Config{
		Servers: map[string]string{"primary_tooling": srv.URL},
		Logger:  zaptest.NewLogger(t),
	})
	t.Cleanup(c.Close)
	return srv, c
}

func TestSearchWebQuantumTable(t *testing.T) {
	_, c := newTestServer(t)

	result, err := c.Call(context.Background(), "primary_tooling", "search_web",
		map[string]any{"query": "Quantum cryptography futures"})
	require.NoError(t, err)

	assert.Equal(t, "quantum cryptography futures", result["query_processed"])
	results := result["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	assert.Contains(t, first["url"], "quantum-crypto")
}

func TestSearchWebGenericDeterministic(t *testing.T) {
	_, c := newTestServer(t)

	first, err := c.Call(context.Background(), "primary_tooling", "search_web",
		map[string]any{"query": "soil erosion"})
	require.NoError(t, err)
	second, err := c.Call(context.Background(), "primary_tooling", "search_web",
		map[string]any{"query": "soil erosion"})
	require.NoError(t, err)

	assert.Equal(t, first["results"], second["results"])
	results := first["results"].([]any)
	require.Len(t, results, 2)
}

func TestBrowseAndExtractStream(t *testing.T) {
	_, c := newTestServer(t)

	var phases []string
	result, err := c.CallStream(context.Background(), "primary_tooling", "browse_and_extract",
		map[string]any{"url": "https://example.com/quantum-crypto-current"},
		func(progress map[string]any) {
			phases = append(phases, progress["phase"].(string))
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"connection", "download", "parsing", "extraction", "complete"}, phases)
	assert.Equal(t, "https://example.com/quantum-crypto-current", result["url"])
	assert.Contains(t, result["content"], "Shor's algorithm")
	assert.Greater(t, result["word_count"].(float64), 50.0)
	assert.Equal(t, "Research Article - Quantum Crypto Current", result["title"])
}

func TestHealth(t *testing.T) {
	_, c := newTestServer(t)
	assert.NoError(t, c.Health(context.Background(), "primary_tooling"))
}
