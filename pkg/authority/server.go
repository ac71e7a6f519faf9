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
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Server exposes the roots policy as the filesystem tool server:
// validate_path and save_file tools plus the allowed_roots and health
// probes. File writes happen on the serving goroutine of each request.
type Server struct {
	roots  *Roots
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer wraps a roots policy in the HTTP tool surface.
func NewServer(roots *Roots, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{roots: roots, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /tools/validate_path", s.handleValidatePath)
	s.mux.HandleFunc("POST /tools/save_file", s.handleSaveFile)
	s.mux.HandleFunc("GET /allowed_roots", s.handleAllowedRoots)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.mux }

type validatePathRequest struct {
	Path string `json:"path"`
}

type validatePathResponse struct {
	Path         string `json:"path"`
	IsAllowed    bool   `json:"is_allowed"`
	ResolvedPath string `json:"resolved_path,omitempty"`
}

func (s *Server) handleValidatePath(w http.ResponseWriter, r *http.Request) {
	var req validatePathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved, allowed := s.roots.Allowed(req.Path)
	resp := validatePathResponse{Path: req.Path, IsAllowed: allowed}
	if allowed {
		resp.ResolvedPath = resolved
	}
	s.logger.Info("path validated",
		zap.String("path", req.Path),
		zap.Bool("is_allowed", allowed))
	writeJSON(w, http.StatusOK, resp)
}

type saveFileRequest struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

type saveFileResponse struct {
	Success      bool   `json:"success"`
	FilePath     string `json:"file_path"`
	BytesWritten int    `json:"bytes_written"`
}

func (s *Server) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	var req saveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved, allowed := s.roots.Allowed(req.FilePath)
	if !allowed {
		// The denial echoes only the requested path, never the roots or
		// the resolved location.
		s.logger.Warn("save denied by roots policy", zap.String("file_path", req.FilePath))
		writeError(w, http.StatusForbidden, "Access denied: path outside allowed roots: "+req.FilePath)
		return
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		s.logger.Error("creating parent directory failed", zap.String("file_path", resolved), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save file: "+req.FilePath)
		return
	}
	content := []byte(req.Content)
	if err := os.WriteFile(resolved, content, 0o644); err != nil {
		s.logger.Error("writing file failed", zap.String("file_path", resolved), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save file: "+req.FilePath)
		return
	}

	s.logger.Info("file saved",
		zap.String("file_path", resolved),
		zap.Int("bytes_written", len(content)))
	writeJSON(w, http.StatusOK, saveFileResponse{
		Success:      true,
		FilePath:     resolved,
		BytesWritten: len(content),
	})
}

func (s *Server) handleAllowedRoots(w http.ResponseWriter, r *http.Request) {
	roots := s.roots.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed_roots": roots,
		"total_roots":   len(roots),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"service":       "filesystem",
		"allowed_roots": s.roots.List(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
