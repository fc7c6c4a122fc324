package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/store"
	"github.com/sells-group/esg-extract/internal/textextract"
)

// multipartOverhead is the body allowance above MaxUploadBytes for the
// form fields and part headers.
const multipartOverhead = 1 << 20

// maxRecordBytes caps a manual record body.
const maxRecordBytes = 64 << 10

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var body errorBody
	body.Error.Message = msg
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAIHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "AI health checks are disabled")
		return
	}
	st := s.health.Check(r.Context())
	status := http.StatusOK
	if !st.Up {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}

// extractionForm is the parsed multipart upload.
type extractionForm struct {
	doc     model.UploadedDocument
	year    int
	save    bool
	hasFile bool
}

// extractionResponse adds the saved record to the pipeline outcome.
type extractionResponse struct {
	*pipeline.Outcome
	Saved *model.Record `json:"saved_record,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	log := zap.L().With(zap.String("component", "api"), zap.String("user_id", user))

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	}
	form, err := s.readExtractionForm(r)
	if err != nil {
		if bodyTooLarge(r.Body, err) {
			writeError(w, http.StatusRequestEntityTooLarge, "the uploaded file exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !form.hasFile {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	if form.year <= 0 {
		writeError(w, http.StatusBadRequest, "field \"year\" must be a positive integer")
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	out, err := s.runner.Run(ctx, pipeline.Upload{Doc: form.doc, Year: form.year, UserID: user})
	if err != nil {
		var f *pipeline.Failure
		if errors.As(err, &f) && out != nil {
			writeJSON(w, f.HTTPStatus(), out)
			return
		}
		log.Error("api: pipeline run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}

	resp := extractionResponse{Outcome: out}
	if form.save && out.Record != nil {
		saved, err := s.records.MergeRecord(ctx, *out.Record)
		if err != nil {
			log.Error("api: save extracted record", zap.String("run_id", out.RunID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "the extraction succeeded but the record could not be saved")
			return
		}
		resp.Saved = saved
	}
	writeJSON(w, http.StatusOK, resp)
}

// readExtractionForm streams the multipart body. The file is held in
// memory only. Reading stops one byte past the upload limit so the
// pipeline can reject it as too large.
func (s *Server) readExtractionForm(r *http.Request) (*extractionForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errors.New("expected a multipart/form-data body")
	}

	form := &extractionForm{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			return nil, err
		}
		if err := s.readPart(part, form); err != nil {
			return nil, err
		}
	}
}

func (s *Server) readPart(part *multipart.Part, form *extractionForm) error {
	defer part.Close() //nolint:errcheck

	switch part.FormName() {
	case "file":
		var src io.Reader = part
		if s.cfg.MaxUploadBytes > 0 {
			src = io.LimitReader(part, s.cfg.MaxUploadBytes+1)
		}
		data, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		form.hasFile = true
		form.doc = model.UploadedDocument{
			Data:     data,
			Filename: part.FileName(),
			MIMEType: textextract.DetectMIME(part.FileName(), part.Header.Get("Content-Type"), data),
		}
	case "year":
		v, err := readField(part)
		if err != nil {
			return err
		}
		year, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("field \"year\" must be a positive integer")
		}
		form.year = year
	case "save":
		v, err := readField(part)
		if err != nil {
			return err
		}
		save, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("field \"save\" must be a boolean")
		}
		form.save = save
	}
	return nil
}

// bodyTooLarge reports whether err came from the body cap. The multipart
// reader may not wrap the cause, but the capped body keeps returning it.
func bodyTooLarge(body io.Reader, err error) bool {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return true
	}
	_, err = body.Read(make([]byte, 1))
	return errors.As(err, &tooBig)
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, 64))
	return strings.TrimSpace(string(b)), err
}

func parseYear(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year <= 0 {
		writeError(w, http.StatusBadRequest, "year must be a positive integer")
		return 0, false
	}
	return year, true
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.records.ListRecords(r.Context(), userFrom(r.Context()))
	if err != nil {
		zap.L().Error("api: list records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list records")
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, r)
	if !ok {
		return
	}
	rec, err := s.records.GetRecord(r.Context(), userFrom(r.Context()), year)
	if err != nil {
		zap.L().Error("api: get record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no record for year "+strconv.Itoa(year))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePutRecord replaces the caller's record for the year with the JSON
// body. Fields left out are stored as null; derived ratios are recomputed.
func (s *Server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, r)
	if !ok {
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	dec.DisallowUnknownFields()
	var rec model.Record
	if err := dec.Decode(&rec); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "record body is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid record body: "+err.Error())
		return
	}
	if rec.Year != 0 && rec.Year != year {
		writeError(w, http.StatusBadRequest, "body year does not match the path")
		return
	}
	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := userFrom(r.Context())
	clean := model.Record{UserID: user, Year: year}
	clean.Merge(rec)
	if err := s.records.UpsertRecord(r.Context(), &clean); err != nil {
		zap.L().Error("api: upsert record", zap.String("user_id", user), zap.Int("year", year), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save record")
		return
	}
	writeJSON(w, http.StatusOK, &clean)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(w, r)
	if !ok {
		return
	}
	err := s.records.DeleteRecord(r.Context(), userFrom(r.Context()), year)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no record for year "+strconv.Itoa(year))
	case err != nil:
		zap.L().Error("api: delete record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete record")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats are disabled")
		return
	}
	hours := s.cfg.StatsHours
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 {
			writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
			return
		}
		hours = h
	}
	snap, err := s.stats.Collect(r.Context(), hours, userFrom(r.Context()))
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
