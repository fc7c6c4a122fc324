// Package pipeline runs one upload through text extraction, the AI
// strategy and, when the AI path is exhausted or down, the heuristic
// fallback. It owns the extraction state machine and the mapping of results
// into the stored record shape.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/textextract"
)

const fallbackWarning = "the AI service was unavailable; values were found with keyword patterns and may be incomplete"

// Strategy turns text into an extraction result.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, text string) (*model.Extraction, error)
}

// HealthProbe reports whether the AI service is worth calling.
type HealthProbe interface {
	Up(ctx context.Context) bool
}

// PriorLookup returns the existing record for (userID, year), or nil.
type PriorLookup interface {
	GetRecord(ctx context.Context, userID string, year int) (*model.Record, error)
}

// RunRecorder persists the run log.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *model.ExtractionRun) error
}

// fallbackSignal is implemented by strategy errors that permit falling back.
type fallbackSignal interface {
	FallbackAllowed() bool
}

// Upload is one document submitted for extraction.
type Upload struct {
	Doc    model.UploadedDocument
	Year   int
	UserID string
}

// Outcome is the result of a run. Record is set for Success and
// FallbackUsed; Failure is set for Failed.
type Outcome struct {
	RunID        string                     `json:"run_id"`
	State        model.State                `json:"state"`
	Strategy     string                     `json:"strategy,omitempty"`
	Result       *model.ESGExtractionResult `json:"result,omitempty"`
	Record       *model.Record              `json:"record,omitempty"`
	Attempts     int                        `json:"attempts"`
	InputTokens  int64                      `json:"input_tokens,omitempty"`
	OutputTokens int64                      `json:"output_tokens,omitempty"`
	CostUSD      float64                    `json:"cost_usd,omitempty"`
	Warnings     []string                   `json:"warnings,omitempty"`
	Failure      *Failure                   `json:"error,omitempty"`
	Duration     time.Duration              `json:"duration_ns"`
}

// Degraded reports whether the result came from the fallback strategy.
func (o *Outcome) Degraded() bool {
	return o.State == model.StateFallbackUsed
}

// Config holds pipeline policy.
type Config struct {
	// FallbackEnabled allows the fallback strategy after AI exhaustion.
	FallbackEnabled bool
	// MaxUploadBytes rejects larger uploads with TooLarge. Zero disables.
	MaxUploadBytes int64
	// FallbackReserve is held back from the caller's deadline when the AI
	// strategy runs, so the fallback can still answer. Only applies when
	// the context has a deadline and fallback is enabled.
	FallbackReserve time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHealth consults probe before the AI strategy.
func WithHealth(probe HealthProbe) Option {
	return func(p *Pipeline) { p.health = probe }
}

// WithPriorLookup supplies existing records for field mapping.
func WithPriorLookup(l PriorLookup) Option {
	return func(p *Pipeline) { p.prior = l }
}

// WithRunRecorder logs every run.
func WithRunRecorder(r RunRecorder) Option {
	return func(p *Pipeline) { p.runs = r }
}

// Pipeline coordinates one upload at a time per call. It holds no
// per-request state, so concurrent Run calls are independent.
type Pipeline struct {
	registry *textextract.Registry
	primary  Strategy
	fallback Strategy
	cfg      Config

	health HealthProbe
	prior  PriorLookup
	runs   RunRecorder

	nowFunc func() time.Time
}

// New creates a Pipeline. fallback may be nil.
func New(registry *textextract.Registry, primary, fallback Strategy, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// run is the mutable state of a single Run call.
type run struct {
	up    Upload
	out   *Outcome
	log   *zap.Logger
	start time.Time
}

func (r *run) transition(to model.State) {
	r.log.Debug("pipeline: state transition",
		zap.String("from", string(r.out.State)),
		zap.String("to", string(to)),
	)
	r.out.State = to
}

func (r *run) fail(f *Failure) (*Outcome, error) {
	r.transition(model.StateFailed)
	r.out.Failure = f
	r.log.Error("pipeline: run failed",
		zap.String("code", string(f.Code)),
		zap.String("stage", string(f.Stage)),
		zap.Error(f.Err),
	)
	return r.out, f
}

func (r *run) absorb(ext *model.Extraction) {
	if ext == nil {
		return
	}
	r.out.Attempts += ext.Attempts
	r.out.InputTokens += ext.InputTokens
	r.out.OutputTokens += ext.OutputTokens
	r.out.CostUSD += ext.CostUSD
	r.out.Warnings = append(r.out.Warnings, ext.Warnings...)
}

// Run executes the state machine for one upload. On Failed it returns the
// outcome together with its *Failure as the error.
func (p *Pipeline) Run(ctx context.Context, up Upload) (*Outcome, error) {
	r := &run{
		up:    up,
		out:   &Outcome{RunID: uuid.NewString(), State: model.StateReceived},
		start: p.nowFunc(),
	}
	r.log = zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", r.out.RunID),
		zap.String("user_id", up.UserID),
		zap.Int("year", up.Year),
		zap.String("mime_type", up.Doc.MIMEType),
		zap.String("filename", up.Doc.Filename),
	)
	defer p.recordRun(ctx, r)

	out, err := p.run(ctx, r)
	r.out.Duration = p.nowFunc().Sub(r.start)
	return out, err
}

func (p *Pipeline) run(ctx context.Context, r *run) (*Outcome, error) {
	doc := r.up.Doc

	if doc.Size() == 0 {
		return r.fail(inputFailure(model.CodeEmptyUpload, "the uploaded file is empty"))
	}
	if p.cfg.MaxUploadBytes > 0 && int64(doc.Size()) > p.cfg.MaxUploadBytes {
		return r.fail(inputFailure(model.CodeTooLarge, "the uploaded file exceeds the size limit"))
	}
	extractor, ok := p.registry.For(doc.MIMEType)
	if !ok {
		f := inputFailure(model.CodeUnsupportedType, "unsupported file type "+doc.MIMEType)
		f.AcceptedTypes = p.registry.Accepted()
		return r.fail(f)
	}

	text, err := extractor.Extract(ctx, doc.Data)
	if err != nil {
		return r.fail(textFailure(err))
	}
	r.transition(model.StateTextExtracted)
	r.log.Info("pipeline: text extracted",
		zap.String("format", string(text.Format)),
		zap.Int("chars", len(text.Text)),
		zap.Int("pages", text.Pages),
		zap.Int("rows", text.Rows),
	)

	if p.health != nil && !p.health.Up(ctx) {
		r.log.Warn("pipeline: ai service reported down, skipping to fallback")
		return p.runFallback(ctx, r, text.Text, nil)
	}

	r.transition(model.StateAIAttempted)
	aiCtx, cancel := p.aiContext(ctx)
	defer cancel()
	ext, err := p.primary.Extract(aiCtx, text.Text)
	r.absorb(ext)
	if err != nil {
		var sig fallbackSignal
		switch {
		case errors.As(err, &sig) && sig.FallbackAllowed():
			r.log.Warn("pipeline: ai extraction exhausted, using fallback", zap.Error(err))
			return p.runFallback(ctx, r, text.Text, err)
		case ctx.Err() != nil:
			return r.fail(aiFailure(model.CodeInternal, "the request was cancelled", err))
		case aiCtx.Err() != nil:
			r.log.Warn("pipeline: ai extraction ran out of time, using fallback",
				zap.Duration("reserve", p.cfg.FallbackReserve),
				zap.Error(err),
			)
			return p.runFallback(ctx, r, text.Text, eris.Wrap(err, "pipeline: ai time budget exhausted"))
		default:
			return r.fail(aiFailure(model.CodeAIRejected, "the AI service rejected the request", err))
		}
	}

	r.out.Strategy = p.primary.Name()
	return p.succeed(ctx, r, ext.Result, model.StateSuccess)
}

// aiContext bounds the AI strategy to the caller's deadline minus the
// fallback reserve. Without a deadline the AI runs on ctx unchanged.
func (p *Pipeline) aiContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || p.cfg.FallbackReserve <= 0 || !p.cfg.FallbackEnabled || p.fallback == nil {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-p.cfg.FallbackReserve))
}

func (p *Pipeline) runFallback(ctx context.Context, r *run, text string, cause error) (*Outcome, error) {
	if !p.cfg.FallbackEnabled || p.fallback == nil {
		return r.fail(aiFailure(model.CodeAIUnavailable, "the AI service is unavailable", cause))
	}

	ext, err := p.fallback.Extract(ctx, text)
	r.absorb(ext)
	if err != nil || ext == nil || ext.Result == nil {
		return r.fail(aiFailure(model.CodeAIUnavailable, "the AI service is unavailable and the fallback extractor could not run", errors.Join(cause, err)))
	}

	r.out.Strategy = p.fallback.Name()
	r.out.Warnings = append(r.out.Warnings, fallbackWarning)
	return p.succeed(ctx, r, ext.Result, model.StateFallbackUsed)
}

func (p *Pipeline) succeed(ctx context.Context, r *run, result *model.ESGExtractionResult, state model.State) (*Outcome, error) {
	var prior *model.Record
	if p.prior != nil {
		rec, err := p.prior.GetRecord(ctx, r.up.UserID, r.up.Year)
		if err != nil {
			r.log.Warn("pipeline: prior record lookup failed", zap.Error(err))
		}
		prior = rec
	}

	rec := MapRecord(result, prior)
	rec.UserID = r.up.UserID
	rec.Year = r.up.Year

	r.out.Result = result
	r.out.Record = &rec
	r.transition(state)
	r.log.Info("pipeline: run finished",
		zap.String("state", string(state)),
		zap.String("strategy", r.out.Strategy),
		zap.Int("populated", result.Populated()),
		zap.Int("attempts", r.out.Attempts),
	)
	return r.out, nil
}

func (p *Pipeline) recordRun(ctx context.Context, r *run) {
	if p.runs == nil {
		return
	}
	entry := &model.ExtractionRun{
		ID:           r.out.RunID,
		UserID:       r.up.UserID,
		Year:         r.up.Year,
		Filename:     r.up.Doc.Filename,
		MIMEType:     r.up.Doc.MIMEType,
		State:        r.out.State,
		Strategy:     r.out.Strategy,
		Attempts:     r.out.Attempts,
		InputTokens:  r.out.InputTokens,
		OutputTokens: r.out.OutputTokens,
		CostUSD:      r.out.CostUSD,
		DurationMs:   p.nowFunc().Sub(r.start).Milliseconds(),
		CreatedAt:    r.start.UTC(),
	}
	if r.out.Failure != nil {
		entry.ErrorCode = r.out.Failure.Code
	}
	if r.out.Result != nil {
		entry.Populated = r.out.Result.Populated()
	}
	if err := p.runs.CreateRun(context.WithoutCancel(ctx), entry); err != nil {
		r.log.Warn("pipeline: failed to record run", zap.Error(err))
	}
}
