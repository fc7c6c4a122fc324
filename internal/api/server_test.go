package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/health"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/monitoring"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/store"
)

// --- Fakes ---

type fakeRunner struct {
	mu  sync.Mutex
	ups []pipeline.Upload
	out *pipeline.Outcome
	err error
}

func (f *fakeRunner) Run(ctx context.Context, up pipeline.Upload) (*pipeline.Outcome, error) {
	f.mu.Lock()
	f.ups = append(f.ups, up)
	f.mu.Unlock()
	return f.out, f.err
}

func (f *fakeRunner) last() pipeline.Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ups[len(f.ups)-1]
}

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) UpsertRecord(ctx context.Context, rec *model.Record) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockRecords) MergeRecord(ctx context.Context, rec model.Record) (*model.Record, error) {
	args := m.Called(ctx, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *mockRecords) GetRecord(ctx context.Context, userID string, year int) (*model.Record, error) {
	args := m.Called(ctx, userID, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Record), args.Error(1)
}

func (m *mockRecords) ListRecords(ctx context.Context, userID string) ([]model.Record, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Record), args.Error(1)
}

func (m *mockRecords) DeleteRecord(ctx context.Context, userID string, year int) error {
	return m.Called(ctx, userID, year).Error(0)
}

type healthFunc func(ctx context.Context) health.Status

func (f healthFunc) Check(ctx context.Context) health.Status { return f(ctx) }

type statsFunc func(ctx context.Context, hours int, userID string) (*monitoring.MetricsSnapshot, error)

func (f statsFunc) Collect(ctx context.Context, hours int, userID string) (*monitoring.MetricsSnapshot, error) {
	return f(ctx, hours, userID)
}

// --- Helpers ---

func successOutcome() *pipeline.Outcome {
	result := model.NewESGExtractionResult()
	rec := model.Record{UserID: "user-1", Year: 2024, CarbonEmissions: model.Float(125.3)}
	return &pipeline.Outcome{
		RunID:    "run-1",
		State:    model.StateSuccess,
		Strategy: "ai",
		Result:   result,
		Record:   &rec,
		Attempts: 1,
	}
}

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, file *formFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newUpload(t *testing.T, user string, file *formFile, fields map[string]string) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, file, fields)
	req := httptest.NewRequest(http.MethodPost, "/v1/extractions", body)
	req.Header.Set("Content-Type", ct)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func pdfFile() *formFile {
	return &formFile{name: "report.pdf", contentType: "application/octet-stream", data: []byte("%PDF-1.4 test")}
}

// --- Health ---

func TestHealth(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, &mockRecords{}, nil, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAIHealth(t *testing.T) {
	tests := []struct {
		name string
		hc   HealthChecker
		want int
	}{
		{"up", healthFunc(func(context.Context) health.Status { return health.Status{Up: true, Reply: "OK"} }), http.StatusOK},
		{"down", healthFunc(func(context.Context) health.Status { return health.Status{Error: "timeout"} }), http.StatusServiceUnavailable},
		{"disabled", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{}, &fakeRunner{}, &mockRecords{}, tt.hc, nil)
			rec := serve(s, httptest.NewRequest(http.MethodGet, "/health/ai", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// --- Extractions ---

func TestExtract_Success(t *testing.T) {
	runner := &fakeRunner{out: successOutcome()}
	s := New(Config{MaxUploadBytes: 1 << 20}, runner, &mockRecords{}, nil, nil)

	rec := serve(s, newUpload(t, "user-1", pdfFile(), map[string]string{"year": "2024"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "success", body["state"])
	assert.NotContains(t, body, "saved_record")

	up := runner.last()
	assert.Equal(t, "user-1", up.UserID)
	assert.Equal(t, 2024, up.Year)
	assert.Equal(t, model.MIMEPDF, up.Doc.MIMEType, "generic content type resolved by extension")
	assert.Equal(t, "report.pdf", up.Doc.Filename)
	assert.Equal(t, []byte("%PDF-1.4 test"), up.Doc.Data)
}

func TestExtract_SaveMergesRecord(t *testing.T) {
	out := successOutcome()
	runner := &fakeRunner{out: out}
	records := &mockRecords{}
	saved := &model.Record{ID: "rec-1", UserID: "user-1", Year: 2024, TotalEmployees: model.Int(200), CarbonEmissions: model.Float(125.3)}
	records.On("MergeRecord", mock.Anything, *out.Record).Return(saved, nil)

	s := New(Config{}, runner, records, nil, nil)
	rec := serve(s, newUpload(t, "user-1", pdfFile(), map[string]string{"year": "2024", "save": "true"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	savedBody, ok := body["saved_record"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rec-1", savedBody["id"])
	assert.InDelta(t, 200, savedBody["totalEmployees"], 1e-9)
	records.AssertExpectations(t)
}

func TestExtract_SaveError(t *testing.T) {
	records := &mockRecords{}
	records.On("MergeRecord", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	s := New(Config{}, &fakeRunner{out: successOutcome()}, records, nil, nil)
	rec := serve(s, newUpload(t, "user-1", pdfFile(), map[string]string{"year": "2024", "save": "1"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExtract_FailureStatus(t *testing.T) {
	f := &pipeline.Failure{
		Code:          model.CodeUnsupportedType,
		Stage:         pipeline.StageInput,
		Message:       "unsupported file type text/plain",
		Suggestion:    pipeline.SuggestDifferentDocument,
		AcceptedTypes: []string{model.MIMEPDF, model.MIMEXLSX},
	}
	runner := &fakeRunner{out: &pipeline.Outcome{RunID: "run-2", State: model.StateFailed, Failure: f}, err: f}
	s := New(Config{}, runner, &mockRecords{}, nil, nil)

	rec := serve(s, newUpload(t, "user-1", &formFile{name: "notes.txt", contentType: "text/plain", data: []byte("hello")}, map[string]string{"year": "2024"}))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "failed", body["state"])
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "UnsupportedType", errBody["code"])
	assert.Equal(t, "try a different document", errBody["suggestion"])
	assert.Len(t, errBody["accepted_types"], 2)
	assert.Equal(t, "text/plain", runner.last().Doc.MIMEType)
}

func TestExtract_UnexpectedError(t *testing.T) {
	s := New(Config{}, &fakeRunner{err: errors.New("boom")}, &mockRecords{}, nil, nil)

	rec := serve(s, newUpload(t, "user-1", pdfFile(), map[string]string{"year": "2024"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExtract_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		file   *formFile
		fields map[string]string
		want   string
	}{
		{"missing file", nil, map[string]string{"year": "2024"}, "\"file\" is required"},
		{"missing year", pdfFile(), nil, "\"year\" must be a positive integer"},
		{"bad year", pdfFile(), map[string]string{"year": "twenty"}, "\"year\" must be a positive integer"},
		{"negative year", pdfFile(), map[string]string{"year": "-1"}, "\"year\" must be a positive integer"},
		{"bad save", pdfFile(), map[string]string{"year": "2024", "save": "maybe"}, "\"save\" must be a boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{out: successOutcome()}
			s := New(Config{}, runner, &mockRecords{}, nil, nil)

			rec := serve(s, newUpload(t, "user-1", tt.file, tt.fields))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Empty(t, runner.ups)
		})
	}
}

func TestExtract_NotMultipart(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, &mockRecords{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/extractions", strings.NewReader(`{"year":2024}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, "user-1")
	rec := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "multipart/form-data")
}

func TestExtract_FileOverLimitPassedTruncated(t *testing.T) {
	runner := &fakeRunner{out: successOutcome()}
	s := New(Config{MaxUploadBytes: 10}, runner, &mockRecords{}, nil, nil)

	file := &formFile{name: "big.pdf", data: bytes.Repeat([]byte("x"), 50)}
	rec := serve(s, newUpload(t, "user-1", file, map[string]string{"year": "2024"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, runner.last().Doc.Data, 11, "reads one byte past the limit so the pipeline reports TooLarge")
}

func TestExtract_BodyOverLimit(t *testing.T) {
	runner := &fakeRunner{out: successOutcome()}
	s := New(Config{MaxUploadBytes: 10}, runner, &mockRecords{}, nil, nil)

	body, ct := multipartBody(t, &formFile{name: "big.pdf", data: bytes.Repeat([]byte("x"), multipartOverhead+1024)}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/extractions", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(UserHeader, "user-1")

	rec := serve(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, runner.ups)
}

func TestExtract_RequiresUser(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, &mockRecords{}, nil, nil)

	rec := serve(s, newUpload(t, "", pdfFile(), map[string]string{"year": "2024"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtract_RateLimitedPerUser(t *testing.T) {
	runner := &fakeRunner{out: successOutcome()}
	s := New(Config{UploadRPS: 0.001, UploadBurst: 1}, runner, &mockRecords{}, nil, nil)
	h := s.Routes()

	do := func(user string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newUpload(t, user, pdfFile(), map[string]string{"year": "2024"}))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, do("user-1"))
	assert.Equal(t, http.StatusOK, do("user-2"))
}

func TestExtract_RequestTimeoutApplied(t *testing.T) {
	var deadline time.Time
	runner := runnerFunc(func(ctx context.Context, _ pipeline.Upload) (*pipeline.Outcome, error) {
		deadline, _ = ctx.Deadline()
		return successOutcome(), nil
	})
	s := New(Config{RequestTimeout: time.Minute}, runner, &mockRecords{}, nil, nil)

	rec := serve(s, newUpload(t, "user-1", pdfFile(), map[string]string{"year": "2024"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

type runnerFunc func(ctx context.Context, up pipeline.Upload) (*pipeline.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, up pipeline.Upload) (*pipeline.Outcome, error) {
	return f(ctx, up)
}

// --- Records ---

func recordsRequest(method, path, user string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(UserHeader, user)
	return req
}

func TestListRecords(t *testing.T) {
	records := &mockRecords{}
	records.On("ListRecords", mock.Anything, "user-1").Return([]model.Record{{UserID: "user-1", Year: 2023}, {UserID: "user-1", Year: 2024}}, nil)
	records.On("ListRecords", mock.Anything, "user-2").Return(nil, nil)
	s := New(Config{}, &fakeRunner{}, records, nil, nil)

	rec := serve(s, recordsRequest(http.MethodGet, "/v1/records", "user-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["records"], 2)

	rec = serve(s, recordsRequest(http.MethodGet, "/v1/records", "user-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[]}`, rec.Body.String())
}

func TestGetRecord(t *testing.T) {
	records := &mockRecords{}
	records.On("GetRecord", mock.Anything, "user-1", 2024).Return(&model.Record{ID: "rec-1", UserID: "user-1", Year: 2024}, nil)
	records.On("GetRecord", mock.Anything, "user-1", 2020).Return(nil, nil)
	s := New(Config{}, &fakeRunner{}, records, nil, nil)

	rec := serve(s, recordsRequest(http.MethodGet, "/v1/records/2024", "user-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rec-1", decode(t, rec)["id"])

	rec = serve(s, recordsRequest(http.MethodGet, "/v1/records/2020", "user-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, recordsRequest(http.MethodGet, "/v1/records/abc", "user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRecord(t *testing.T) {
	records := &mockRecords{}
	records.On("DeleteRecord", mock.Anything, "user-1", 2024).Return(nil)
	records.On("DeleteRecord", mock.Anything, "user-1", 2020).Return(store.ErrNotFound)
	records.On("DeleteRecord", mock.Anything, "user-1", 2021).Return(errors.New("db down"))
	s := New(Config{}, &fakeRunner{}, records, nil, nil)

	assert.Equal(t, http.StatusNoContent, serve(s, recordsRequest(http.MethodDelete, "/v1/records/2024", "user-1")).Code)
	assert.Equal(t, http.StatusNotFound, serve(s, recordsRequest(http.MethodDelete, "/v1/records/2020", "user-1")).Code)
	assert.Equal(t, http.StatusInternalServerError, serve(s, recordsRequest(http.MethodDelete, "/v1/records/2021", "user-1")).Code)
}

// --- Stats ---

func TestStats(t *testing.T) {
	var gotHours int
	var gotUser string
	stats := statsFunc(func(_ context.Context, hours int, userID string) (*monitoring.MetricsSnapshot, error) {
		gotHours, gotUser = hours, userID
		return &monitoring.MetricsSnapshot{Total: 3, Succeeded: 2, Failed: 1, LookbackHours: hours}, nil
	})
	s := New(Config{StatsHours: 48}, &fakeRunner{}, &mockRecords{}, nil, stats)

	rec := serve(s, recordsRequest(http.MethodGet, "/v1/stats", "user-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48, gotHours)
	assert.Equal(t, "user-1", gotUser)
	assert.InDelta(t, 3, decode(t, rec)["total"], 1e-9)

	rec = serve(s, recordsRequest(http.MethodGet, "/v1/stats?hours=6", "user-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, gotHours)

	rec = serve(s, recordsRequest(http.MethodGet, "/v1/stats?hours=-2", "user-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_Disabled(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, &mockRecords{}, nil, nil)

	rec := serve(s, recordsRequest(http.MethodGet, "/v1/stats", "user-1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// --- CORS ---

func TestCORS_Preflight(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"http://localhost:3000"}}, &fakeRunner{}, &mockRecords{}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/extractions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", UserHeader)

	rec := serve(s, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
