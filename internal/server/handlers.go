package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/metadata"
	"github.com/hyperjump/kura/internal/models"
)

// maxBodyBytes caps request bodies; uploads carry whole documents.
const maxBodyBytes = 64 << 20

// errorBody is the JSON shape of every error response and of failed items
// in batch ingestion.
type errorBody struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// statusFor maps an error kind to its HTTP status. Embedding failures are
// 503 so callers know to retry with backoff.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindEmbedding:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	// Liveness only; must not touch any collection.
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.collections.Status(r.Context()))
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.collections.List(r.Context()))
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := s.collections.Delete(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !deleted {
		s.respondError(w, r, errs.NotFound(name, ""))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIngest accepts one document or an array of them. A single document
// answers 201 with its id; a batch answers 200 with per-item results
// aligned with the input order.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, r, errs.Validation("ingest", name, "", "unreadable request body"))
		return
	}

	if isJSONArray(body) {
		var items []models.IngestItem
		if err := json.Unmarshal(body, &items); err != nil {
			s.respondError(w, r, errs.Validation("ingest", name, "", "malformed document array"))
			return
		}
		results, err := s.pipeline.IngestMany(r.Context(), name, items)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		out := make([]map[string]any, len(results))
		for i, res := range results {
			if res.Err != nil {
				out[i] = map[string]any{"error": errorBody{Kind: errs.KindOf(res.Err), Message: res.Err.Error()}}
				continue
			}
			out[i] = map[string]any{"id": res.ID}
		}
		s.respondJSON(w, http.StatusOK, out)
		return
	}

	var item models.IngestItem
	if err := json.Unmarshal(body, &item); err != nil {
		s.respondError(w, r, errs.Validation("ingest", name, "", "malformed document body"))
		return
	}
	id, err := s.pipeline.Ingest(r.Context(), name, item)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, errs.Validation("query", name, "", "malformed query body"))
		return
	}
	results, err := s.engine.Search(r.Context(), name, &req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if results == nil {
		results = []models.QueryResult{}
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := chi.URLParam(r, "id")
	col, err := s.collections.Get(name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	deleted, err := col.Delete(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !deleted {
		s.respondError(w, r, errs.NotFound(name, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteByFilter removes every record matching a metadata filter and
// reports how many went away. Deleting with an empty filter is refused;
// that is what collection deletion is for.
func (s *Server) handleDeleteByFilter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Filter map[string]any `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, errs.Validation("delete", name, "", "malformed filter body"))
		return
	}
	fs, err := metadata.ParseFilter(body.Filter)
	if err != nil {
		s.respondError(w, r, errs.Validation("delete", name, "", err.Error()))
		return
	}
	if fs.Empty() {
		s.respondError(w, r, errs.Validation("delete", name, "", "filter must not be empty"))
		return
	}
	col, err := s.collections.Get(name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	n, err := col.DeleteByFilter(r.Context(), fs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.engine.Sources(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if sources == nil {
		sources = []models.SourceCount{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": sources})
}

// handleUpload ingests a multipart file: extract, chunk, embed, commit.
// Re-uploading a file replaces its previous chunks.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		s.respondError(w, r, errs.Validation("upload", name, "", "malformed multipart body"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errs.Validation("upload", name, "", `multipart field "file" is required`))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, errs.Validation("upload", name, "", "unreadable file payload"))
		return
	}
	chunks, err := s.pipeline.IngestFile(r.Context(), name, header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"filename":       header.Filename,
		"chunks_created": chunks,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		s.logger.Debug("request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.respondJSON(w, status, map[string]errorBody{
		"error": {Kind: errs.KindOf(err), Message: err.Error()},
	})
}

// isJSONArray reports whether body's first JSON token opens an array.
func isJSONArray(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
