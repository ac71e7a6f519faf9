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
package authority

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRoots(t *testing.T) (*Roots, string) {
	t.Helper()
	dir := t.TempDir()
	roots, err := NewRoots([]string{
		filepath.Join(dir, "output"),
		filepath.Join(dir, "temp"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return roots, dir
}

func TestNewRootsRequiresAtLeastOne(t *testing.T) {
	_, err := NewRoots(nil, zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = NewRoots([]string{"", "  "}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestAllowedInsideRoot(t *testing.T) {
	roots, dir := newTestRoots(t)

	resolved, ok := roots.Allowed(filepath.Join(dir, "output", "reports", "r.md"))
	assert.True(t, ok)
	assert.Contains(t, resolved, filepath.Join("output", "reports"))

	_, ok = roots.Allowed(filepath.Join(dir, "temp", "scratch.txt"))
	assert.True(t, ok)
}

func TestDisallowedOutsideRoot(t *testing.T) {
	roots, dir := newTestRoots(t)

	cases := []string{
		"/etc/passwd",
		filepath.Join(dir, "elsewhere", "x.txt"),
		filepath.Join(dir, "output", "..", "secret.txt"),
		filepath.Join(dir, "output", "..", "..", "escape.md"),
	}
	for _, path := range cases {
		_, ok := roots.Allowed(path)
		assert.False(t, ok, "path %q should be denied", path)
	}

	_, ok := roots.Allowed("")
	assert.False(t, ok)
}

// A symlink planted inside a root must not grant access to its target
// outside the root.
func TestSymlinkEscapeDenied(t *testing.T) {
	roots, dir := newTestRoots(t)

	outside := filepath.Join(dir, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	link := filepath.Join(dir, "output", "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	_, ok := roots.Allowed(filepath.Join(link, "target.txt"))
	assert.False(t, ok)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServerValidatePath(t *testing.T) {
	roots, dir := newTestRoots(t)
	srv := httptest.NewServer(NewServer(roots, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/tools/validate_path", map[string]any{
		"path": filepath.Join(dir, "output", "r.md"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["is_allowed"])
	assert.NotEmpty(t, body["resolved_path"])

	resp = postJSON(t, srv.URL+"/tools/validate_path", map[string]any{"path": "/etc/passwd"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["is_allowed"])
	_, hasResolved := body["resolved_path"]
	assert.False(t, hasResolved)
}

func TestServerSaveFile(t *testing.T) {
	roots, dir := newTestRoots(t)
	srv := httptest.NewServer(NewServer(roots, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	target := filepath.Join(dir, "output", "reports", "report.md")
	content := "# Report\n\nBody with UTF-8: résumé."
	resp := postJSON(t, srv.URL+"/tools/save_file", map[string]any{
		"file_path": target,
		"content":   content,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(len(content)), body["bytes_written"])

	written, err := os.ReadFile(body["file_path"].(string))
	require.NoError(t, err)
	assert.Equal(t, content, string(written))
}

func TestServerSaveFileDenied(t *testing.T) {
	roots, dir := newTestRoots(t)
	srv := httptest.NewServer(NewServer(roots, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	escape := filepath.Join(dir, "output", "..", "escape.md")
	resp := postJSON(t, srv.URL+"/tools/save_file", map[string]any{
		"file_path": escape,
		"content":   "nope",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeBody(t, resp)
	detail := body["detail"].(string)
	assert.Contains(t, detail, escape)
	// The denial echoes the request as given, not the resolved target.
	assert.NotContains(t, detail, filepath.Join(dir, "escape.md"))

	_, err := os.Stat(filepath.Join(dir, "escape.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestServerAllowedRootsAndHealth(t *testing.T) {
	roots, _ := newTestRoots(t)
	srv := httptest.NewServer(NewServer(roots, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/allowed_roots")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["total_roots"])
	assert.Len(t, body["allowed_roots"], 2)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
}
