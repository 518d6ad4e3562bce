// Package pipeline turns one raw payload into zero or more measurement
// points: decode, extract per rule, transform, build, dispatch one batch and
// apply the termination policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
	idspkg "github.com/drblury/fluxbridge/internal/runtime/ids"
	"github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
	"github.com/drblury/fluxbridge/sink"
)

const tracerName = "github.com/drblury/fluxbridge/pipeline"

// Observer is notified after every pass, halted or not.
type Observer func(Report)

// Pipeline processes payloads one at a time against a fixed rule set.
type Pipeline struct {
	rules       *RuleSet
	transformer *Transformer
	sink        sink.Sink
	policy      *Policy
	logger      loggingpkg.ServiceLogger
	metrics     *Metrics
	now         func() time.Time
	observers   []Observer

	halted  atomic.Bool
	haltMu  sync.Mutex
	haltErr error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithPolicy sets the termination policy. The default recovers from
// everything.
func WithPolicy(p *Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithTransformer shares a transformer (and its program cache) with the
// rule compiler.
func WithTransformer(t *Transformer) Option {
	return func(pl *Pipeline) { pl.transformer = t }
}

// WithClock injects the time source used for point timestamps.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithMetrics records every pass into m.
func WithMetrics(m *Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithObserver registers a callback invoked with every report.
func WithObserver(o Observer) Option {
	return func(pl *Pipeline) { pl.observers = append(pl.observers, o) }
}

// New creates a pipeline writing to s.
func New(rules *RuleSet, s sink.Sink, logger loggingpkg.ServiceLogger, opts ...Option) (*Pipeline, error) {
	if rules == nil {
		return nil, errspkg.ErrRuleSetRequired
	}
	if s == nil {
		return nil, errspkg.ErrSinkRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	p := &Pipeline{
		rules:  rules,
		sink:   s,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.transformer == nil {
		p.transformer = NewTransformer()
	}
	if p.policy == nil {
		p.policy, _ = NewPolicy(false, nil)
	}
	return p, nil
}

// Rules returns the rule set the pipeline applies.
func (p *Pipeline) Rules() *RuleSet { return p.rules }

// Policy returns the termination policy.
func (p *Pipeline) Policy() *Policy { return p.policy }

// Halted reports whether the termination policy stopped the pipeline.
func (p *Pipeline) Halted() bool { return p.halted.Load() }

// HaltErr returns the failure that halted the pipeline, if any.
func (p *Pipeline) HaltErr() error {
	p.haltMu.Lock()
	defer p.haltMu.Unlock()
	return p.haltErr
}

// Escalate applies the policy to a failure raised outside Process, such as
// a lost transport connection. It returns the failure when the policy
// decides to terminate and nil otherwise.
func (p *Pipeline) Escalate(failure *errspkg.Failure) error {
	p.logFailure(failure)
	if p.policy.Decide(failure.Kind) != Terminate {
		return nil
	}
	p.halt(failure)
	return failure
}

func (p *Pipeline) halt(err error) {
	p.haltMu.Lock()
	if p.haltErr == nil {
		p.haltErr = err
	}
	p.haltMu.Unlock()
	if p.halted.CompareAndSwap(false, true) && p.metrics != nil {
		p.metrics.SetHalted()
	}
}

// Process runs one payload through the pipeline. Rule failures are isolated
// and reported in the returned Report. The error is non-nil only when the
// pipeline is halted: either it already was (ErrPipelineHalted) or this
// pass produced a failure the policy maps to terminate.
func (p *Pipeline) Process(ctx context.Context, payload []byte) (Report, error) {
	if p.halted.Load() {
		return Report{}, errspkg.ErrPipelineHalted
	}

	started := p.now()
	report := Report{ID: idspkg.CreateULIDAt(started), StartedAt: started}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Process")
	defer span.End()
	span.SetAttributes(attribute.String("report.id", report.ID), attribute.Int("payload.bytes", len(payload)))

	err := p.process(ctx, payload, &report)
	report.Duration = time.Since(started)
	if report.Failure != nil {
		span.RecordError(report.Failure)
		span.SetStatus(codes.Error, report.Failure.Error())
	}
	span.SetAttributes(attribute.Int("points", len(report.Points)), attribute.Bool("dispatched", report.Dispatched))

	p.record(report)
	return report, err
}

func (p *Pipeline) process(ctx context.Context, payload []byte, report *Report) error {
	document, err := jsoncodec.ParseDocument(payload)
	if err != nil {
		failure := &errspkg.Failure{Kind: errspkg.KindParse, Err: err}
		report.Failure = failure
		p.logFailure(failure)
		return p.decide([]errspkg.Kind{errspkg.KindParse}, failure)
	}

	var evalErrs []error
	var failedRule string
	for _, rule := range p.rules.Rules() {
		outcome := p.evaluate(rule, document)
		report.Outcomes = append(report.Outcomes, outcome)
		switch outcome.Status {
		case StatusProduced:
			report.Points = append(report.Points, BuildPoint(rule, outcome.Value, report.StartedAt))
		case StatusNotFound:
			p.logger.Debug("Path matched no numeric value", loggingpkg.LogFields{
				"rule": rule.Name,
				"path": rule.Path.String(),
			})
		case StatusEvaluationFailed:
			if failedRule == "" {
				failedRule = rule.Name
			}
			evalErrs = append(evalErrs, outcome.Err)
			p.logger.Error("Rule evaluation failed", outcome.Err, loggingpkg.LogFields{
				"kind": errspkg.KindEvaluation,
				"rule": rule.Name,
			})
		}
	}

	var kinds []errspkg.Kind
	var failure *errspkg.Failure

	if len(report.Points) > 0 {
		if err := p.dispatch(ctx, report.Points); err != nil {
			failure = &errspkg.Failure{Kind: errspkg.KindWrite, Err: err}
			kinds = append(kinds, errspkg.KindWrite)
			p.logFailure(failure)
		} else {
			report.Dispatched = true
		}
	}

	if len(evalErrs) > 0 {
		kinds = append(kinds, errspkg.KindEvaluation)
		if failure == nil {
			failure = &errspkg.Failure{Kind: errspkg.KindEvaluation, Rule: failedRule, Err: errors.Join(evalErrs...)}
		}
	}
	if failure == nil {
		return nil
	}
	report.Failure = failure
	return p.decide(kinds, failure)
}

// decide halts the pipeline when any of kinds maps to terminate.
func (p *Pipeline) decide(kinds []errspkg.Kind, failure *errspkg.Failure) error {
	for _, k := range kinds {
		if p.policy.Decide(k) == Terminate {
			p.logger.Error("Termination policy triggered", failure, loggingpkg.LogFields{"kind": k})
			p.halt(failure)
			return failure
		}
	}
	return nil
}

func (p *Pipeline) evaluate(rule *Rule, document any) Outcome {
	extracted, ok := Extract(document, rule.Path)
	if !ok {
		return Outcome{Rule: rule.Name, Status: StatusNotFound}
	}
	value, err := p.transformer.Transform(rule.Name, extracted, rule.Expression)
	if err != nil {
		return Outcome{Rule: rule.Name, Status: StatusEvaluationFailed, Extracted: extracted, Err: err}
	}
	return Outcome{Rule: rule.Name, Status: StatusProduced, Extracted: extracted, Value: value}
}

func (p *Pipeline) dispatch(ctx context.Context, batch sink.Batch) error {
	for _, pt := range batch {
		p.logger.Debug("Writing measurement", loggingpkg.LogFields{
			"measurement": pt.Measurement,
			"value":       pt.Value(),
			"tags":        pt.Tags,
		})
	}
	start := time.Now()
	err := p.sink.Write(ctx, batch)
	if p.metrics != nil {
		p.metrics.ObserveDispatch(time.Since(start))
	}
	if err != nil && ctx.Err() != nil {
		p.logger.Info("Batch abandoned by cancellation", loggingpkg.LogFields{"points": len(batch)})
	}
	if err != nil {
		return fmt.Errorf("writing %d points: %w", len(batch), err)
	}
	return nil
}

func (p *Pipeline) logFailure(failure *errspkg.Failure) {
	fields := loggingpkg.LogFields{"kind": failure.Kind}
	if failure.Rule != "" {
		fields["rule"] = failure.Rule
	}
	p.logger.Error("Payload failure", failure.Err, fields)
}

func (p *Pipeline) record(report Report) {
	if p.metrics != nil {
		result := ResultOK
		switch errspkg.KindOf(report.Failure) {
		case errspkg.KindParse:
			result = ResultParseError
		case errspkg.KindWrite:
			result = ResultWriteError
		}
		if p.halted.Load() {
			result = ResultHalted
		}
		p.metrics.RecordReport(report, result)
	}
	for _, o := range p.observers {
		o(report)
	}
}
