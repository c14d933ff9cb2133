package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rybkr/kvgit/internal/gitcore"
)

// maxLogCount caps the number of commits a single /api/log request returns.
const maxLogCount = 1000

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON encodes v with the standard headers.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "err", err)
	}
}

// writeError maps a core error to an HTTP status plus its stable code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := gitcore.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case gitcore.CodeNotFound:
		status = http.StatusNotFound
	case gitcore.CodeInvalid, gitcore.CodeNotDir, gitcore.CodeIsDir:
		status = http.StatusBadRequest
	case gitcore.CodeExists, gitcore.CodeConflict, gitcore.CodeMergeConflict:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  code,
		"error": err.Error(),
	})
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	head, err := s.repo.Head(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, head)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	count := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, errors.Join(gitcore.ErrInvalidName, errors.New("bad count")))
			return
		}
		count = n
	}
	if count > maxLogCount {
		count = maxLogCount
	}

	commits, err := s.repo.Log(r.Context(), count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if commits == nil {
		commits = []*gitcore.Commit{}
	}
	s.writeJSON(w, commits)
}

func (s *Server) handleRefs(w http.ResponseWriter, r *http.Request) {
	summary, err := s.buildSummary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.repo.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		s.writeError(w, errors.Join(gitcore.ErrInvalidName, errors.New("from and to are required")))
		return
	}

	entries, err := s.repo.DiffCommits(r.Context(), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	rev := r.URL.Query().Get("rev")
	path := r.URL.Query().Get("path")
	if rev == "" || path == "" {
		s.writeError(w, errors.Join(gitcore.ErrInvalidName, errors.New("rev and path are required")))
		return
	}

	commit, err := s.repo.ResolveRevision(r.Context(), rev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := s.repo.ReadBlobAt(r.Context(), commit, path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
