// Package forecast drives the per-record evaluate cycle: encode the record
// into a request vMR, send it to the decision-support service, and decode the
// response back into evaluation and forecast entries.
package forecast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openimmunize/iceclient/internal/platform/vmr"
	"github.com/openimmunize/iceclient/internal/record"
)

// Evaluator is the transport to the decision-support service.
type Evaluator interface {
	Evaluate(ctx context.Context, requestVMR []byte, asOf time.Time) ([]byte, error)
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets the number of records evaluated concurrently by
// EvaluateAll. The default of 1 preserves strictly sequential behavior.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service evaluates patient records against a decision-support endpoint.
// Records are independent of each other; a failed record never affects the
// rest of a batch.
type Service struct {
	generator *vmr.Generator
	parser    *vmr.Parser
	client    Evaluator
	logger    zerolog.Logger
	workers   int
}

// NewService creates a Service backed by the given transport.
func NewService(client Evaluator, opts ...Option) *Service {
	s := &Service{
		generator: vmr.NewGenerator(),
		parser:    vmr.NewParser(),
		client:    client,
		logger:    zerolog.Nop(),
		workers:   1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EvaluateRecord runs one record through the encode/send/decode cycle and
// returns an updated copy with the server's evaluation and forecast entries
// appended, in server order. The input record is not modified; on error it is
// returned unchanged alongside the error.
func (s *Service) EvaluateRecord(ctx context.Context, rec record.PatientRecord) (record.PatientRecord, error) {
	start := time.Now()

	requestVMR, err := s.generator.GenerateXML(rec)
	if err != nil {
		return rec, err
	}

	responseVMR, err := s.client.Evaluate(ctx, requestVMR, s.asOfDate(rec))
	if err != nil {
		return rec, err
	}

	result, err := s.parser.Parse(responseVMR)
	if err != nil {
		return rec, err
	}

	updated := rec.Clone()
	updated.Evaluations = append(updated.Evaluations, result.Evaluations...)
	updated.Forecasts = append(updated.Forecasts, result.Forecasts...)

	s.logger.Info().
		Str("record_id", rec.ID).
		Int("immunizations", len(rec.Immunizations)).
		Int("evaluations", len(result.Evaluations)).
		Int("forecasts", len(result.Forecasts)).
		Dur("duration", time.Since(start)).
		Msg("record evaluated")

	return updated, nil
}

// asOfDate picks the evaluation date for the request: the record's evalDate
// when it parses, otherwise today.
func (s *Service) asOfDate(rec record.PatientRecord) time.Time {
	if t, err := time.Parse("20060102", rec.EvalDate); err == nil {
		return t
	}
	return time.Now()
}

// EvaluateAll evaluates a batch. Output index i always corresponds to input
// index i: a successful record is replaced by its updated copy, a failed one
// keeps its input value and errs[i] reports why. Records are processed by a
// bounded worker pool; with one worker the batch runs strictly in order.
func (s *Service) EvaluateAll(ctx context.Context, recs []record.PatientRecord) ([]record.PatientRecord, []error) {
	out := make([]record.PatientRecord, len(recs))
	errs := make([]error, len(recs))

	indices := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				updated, err := s.EvaluateRecord(ctx, recs[i])
				out[i] = updated
				errs[i] = err
				if err != nil {
					s.logger.Error().
						Err(err).
						Str("record_id", recs[i].ID).
						Msg("record failed")
				}
			}
		}()
	}
	for i := range recs {
		indices <- i
	}
	close(indices)
	wg.Wait()

	return out, errs
}

// RunFile loads a record file, evaluates every record, and writes the updated
// array to outPath. Per-record failures are logged and reported but do not
// stop the run; the failed records are written back unchanged.
func (s *Service) RunFile(ctx context.Context, inPath, outPath string) (failed int, err error) {
	recs, err := record.LoadFile(inPath)
	if err != nil {
		return 0, err
	}

	updated, errs := s.EvaluateAll(ctx, recs)
	for _, recErr := range errs {
		if recErr != nil {
			failed++
		}
	}

	if err := record.SaveFile(outPath, updated); err != nil {
		return failed, err
	}
	return failed, nil
}
