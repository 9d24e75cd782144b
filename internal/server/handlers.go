package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/internal/calc"
	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/extract"
	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/internal/pipeline"
	"github.com/terrametric/carbon-cli/internal/resilience"
	"github.com/terrametric/carbon-cli/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		zap.L().Warn("health check store ping failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// handleImport accepts either a multipart file upload (field "file") or
// a JSON body {"text": "..."} and runs the import pipeline.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userFrom(ctx)

	var (
		res *pipeline.Result
		err error
	)

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileBytes)
		if err := r.ParseMultipartForm(s.opts.MaxFileBytes); err != nil {
			writeError(w, http.StatusBadRequest, "file exceeds the size limit or the form is malformed", "invalid_input")
			return
		}
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "multipart upload needs a 'file' field", "invalid_input")
			return
		}
		defer file.Close()

		data, rerr := io.ReadAll(file)
		if rerr != nil {
			writeError(w, http.StatusBadRequest, "could not read upload", "invalid_input")
			return
		}
		res, err = s.pipe.ImportDocument(ctx, data, header.Header.Get("Content-Type"), header.Filename, user)

	default:
		var body struct {
			Text string `json:"text"`
		}
		if derr := json.NewDecoder(io.LimitReader(r.Body, s.opts.MaxFileBytes)).Decode(&body); derr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
			return
		}
		if body.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required", "invalid_input")
			return
		}
		res, err = s.pipe.ImportText(ctx, body.Text, user)
	}

	if err != nil {
		writeImportError(w, res, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"materials": orEmpty(res.Materials),
		"warnings":  res.Warnings,
	})
}

// handleCreateCalculation validates the inputs, computes totals and
// compliance, and persists an immutable record.
func (s *Server) handleCreateCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Project model.Project           `json:"project"`
		Inputs  model.CalculationInputs `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
		return
	}

	if err := calc.Validate(body.Inputs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	totals := calc.Compute(body.Inputs)

	var results []model.StandardResult
	if s.checker != nil {
		results = s.checker.Check(totals, body.Project)
	}

	rec, err := s.store.CreateRecord(ctx, model.CalculationRecord{
		ProjectID:  body.Project.ID,
		UserID:     userFrom(ctx),
		Inputs:     body.Inputs,
		Totals:     totals,
		Compliance: results,
	})
	if err != nil {
		zap.L().Error("create record failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save calculation", "internal")
		return
	}

	if s.opts.Events != nil {
		s.opts.Events.Publish(events.Event{
			Type:      events.EventRecordCreated,
			UserID:    rec.UserID,
			ProjectID: rec.ProjectID,
			Details:   map[string]any{"recordId": rec.ID, "total": rec.Totals.Total},
		})
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetCalculation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "calculation not found", "not_found")
			return
		}
		zap.L().Error("get record failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load calculation", "internal")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListCalculations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RecordFilter{
		ProjectID: q.Get("projectId"),
		UserID:    userFrom(r.Context()),
		Limit:     intParam(q.Get("limit")),
		Offset:    intParam(q.Get("offset")),
	}

	recs, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		zap.L().Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list calculations", "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calculations": orEmpty(recs)})
}

func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.MaterialFilter{
		Category: q.Get("category"),
		State:    q.Get("state"),
		Limit:    intParam(q.Get("limit")),
		Offset:   intParam(q.Get("offset")),
	}

	mats, err := s.store.ListMaterials(r.Context(), filter)
	if err != nil {
		zap.L().Error("list materials failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list materials", "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"materials": orEmpty(mats)})
}

// writeImportError maps pipeline failures onto the wire contract. A halt
// after some chunks succeeded still returns the partial materials so the
// client can offer them for review.
func writeImportError(w http.ResponseWriter, res *pipeline.Result, err error) {
	var partial []model.ValidatedLineItem
	if res != nil {
		partial = res.Materials
	}

	var rl *resilience.RateLimitError
	switch {
	case errors.As(err, &rl):
		secs := int(rl.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 60
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "the AI service rate limited this import; already-processed materials are included",
			"errorCode":  "upstream_rate_limited",
			"retryAfter": secs,
			"materials":  orEmpty(partial),
		})
	case resilience.IsQuota(err):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "the AI service quota is exhausted",
			"errorCode": "quota_exhausted",
			"materials": orEmpty(partial),
		})
	case errors.Is(err, extract.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_input")
	default:
		zap.L().Error("import failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     "import failed",
			"errorCode": "internal",
			"materials": orEmpty(partial),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "errorCode": code})
}

func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// orEmpty keeps JSON arrays as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
