package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/esg-extract/internal/model"
)

// --- Strategy Mock ---

type mockStrategy struct {
	mock.Mock
	name string
}

func (m *mockStrategy) Name() string {
	return m.name
}

func (m *mockStrategy) Extract(ctx context.Context, text string) (*model.Extraction, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Extraction), args.Error(1)
}

// --- Text extractor stub ---

type stubExtractor struct {
	text  model.ExtractedText
	err   error
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte) (model.ExtractedText, error) {
	s.calls++
	return s.text, s.err
}

// --- Health probe ---

type probe bool

func (p probe) Up(context.Context) bool {
	return bool(p)
}

// --- Prior lookup ---

type priorFunc func(ctx context.Context, userID string, year int) (*model.Record, error)

func (f priorFunc) GetRecord(ctx context.Context, userID string, year int) (*model.Record, error) {
	return f(ctx, userID, year)
}

// --- Run recorder ---

type runRecorder struct {
	mu   sync.Mutex
	runs []*model.ExtractionRun
	err  error
}

func (r *runRecorder) CreateRun(_ context.Context, run *model.ExtractionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func (r *runRecorder) last() *model.ExtractionRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) == 0 {
		return nil
	}
	return r.runs[len(r.runs)-1]
}
