package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/chaptergest/internal/parser"
	"github.com/dgallion1/chaptergest/internal/pipeline"
)

// handleCreateRun queues a run. A multipart request with "files" runs over
// the uploaded documents; any other request runs over the configured input
// folder.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var (
		sources []string
		err     error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var status int
		sources, status, err = s.saveUploads(w, r)
		if err != nil {
			jsonError(w, err.Error(), status)
			return
		}
	} else {
		sources, err = parser.Scan(s.opts.InputDir)
		if err != nil {
			jsonError(w, "failed to scan input folder: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if len(sources) == 0 {
		jsonError(w, "no supported documents to process", http.StatusBadRequest)
		return
	}

	job, err := s.scheduler.Submit(sources)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":    job.ID,
		"status":    pipeline.JobQueued,
		"documents": len(sources),
		"poll_url":  fmt.Sprintf("/api/runs/%s", job.ID),
	})
}

// saveUploads writes every uploaded file into a fresh upload folder and
// returns the saved paths.
func (s *Server) saveUploads(w http.ResponseWriter, r *http.Request) ([]string, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes*10+10*1024*1024)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		return nil, http.StatusBadRequest, errors.New("at least one file is required")
	}

	dir := filepath.Join(s.opts.UploadDir, pipeline.NewRunID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("create upload folder: %w", err)
	}

	seen := make(map[string]bool, len(files))
	sources := make([]string, 0, len(files))
	for _, fh := range files {
		name := sanitizeFilename(fh.Filename)
		if !parser.IsSupportedExtension(name) {
			os.RemoveAll(dir)
			return nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(name))
		}
		if seen[name] {
			os.RemoveAll(dir)
			return nil, http.StatusBadRequest, fmt.Errorf("duplicate file name: %s", name)
		}
		seen[name] = true

		path := filepath.Join(dir, name)
		if status, err := s.saveUpload(fh, path); err != nil {
			os.RemoveAll(dir)
			return nil, status, fmt.Errorf("%s: %w", name, err)
		}
		sources = append(sources, path)
	}
	s.log.Info("documents uploaded", "dir", dir, "documents", len(sources))
	return sources, 0, nil
}

func (s *Server) saveUpload(fh *multipart.FileHeader, path string) (int, error) {
	f, err := fh.Open()
	if err != nil {
		return http.StatusBadRequest, errors.New("failed to open file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxUploadBytes+1))
	if err != nil {
		return http.StatusInternalServerError, errors.New("failed to read file")
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.opts.MaxUploadBytes)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return http.StatusInternalServerError, errors.New("failed to store file")
	}
	return 0, nil
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	job := s.scheduler.GetJob(chi.URLParam(r, "runID"))
	if job == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleRunChapter(w http.ResponseWriter, r *http.Request) {
	job := s.scheduler.GetJob(chi.URLParam(r, "runID"))
	if job == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	chapter, err := job.Chapter()
	if err != nil {
		snap := job.Snapshot()
		msg := fmt.Sprintf("chapter not available: run is %s", snap.Status)
		if snap.Error != "" {
			msg += ": " + snap.Error
		}
		jsonError(w, msg, http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, chapter)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
