package assessment

import (
	"errors"
	"strings"
)

// Tier names, in the order they are attempted.
const (
	TierStrict           = "strict"
	TierRepair           = "repair"
	TierRepairAggressive = "repair_aggressive"
	TierExtract          = "extract"
)

var errUnrecognised = errors.New("record has no recognised field")

// TierEvent reports the outcome of one attempted tier.
type TierEvent struct {
	Tier string
	OK   bool
	Err  error
}

// Observer receives a TierEvent for every tier a pipeline attempts. It is
// called synchronously and must be safe for concurrent use when the pipeline
// is shared.
type Observer func(TierEvent)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver installs an instrumentation hook.
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

type tier struct {
	name string
	run  func(raw string) (Record, error)
}

// Result is a recovered assessment together with the tier that produced it.
type Result struct {
	Assessment Assessment
	Tier       string
}

// Pipeline recovers assessments for one schema. It holds no mutable state and
// may be used from multiple goroutines.
type Pipeline struct {
	schema   Schema
	tiers    []tier
	observer Observer
}

// NewPipeline validates schema and prepares its tiers. An invalid schema is
// reported as a SchemaViolation Failure.
func NewPipeline(schema Schema, opts ...Option) (*Pipeline, error) {
	if err := schema.Validate(); err != nil {
		return nil, newFailure(SchemaViolation, "", err.Error(), "", err)
	}

	extractor := newExtractor(schema)
	p := &Pipeline{schema: schema}
	p.tiers = []tier{
		{name: TierStrict, run: Parse},
		{name: TierRepair, run: func(raw string) (Record, error) {
			return Parse(Repair(raw, LevelStandard))
		}},
		{name: TierRepairAggressive, run: func(raw string) (Record, error) {
			return Parse(Repair(raw, LevelAggressive))
		}},
		{name: TierExtract, run: func(raw string) (Record, error) {
			return extractor.extract(raw), nil
		}},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Schema returns the descriptor the pipeline was built for.
func (p *Pipeline) Schema() Schema {
	return p.schema
}

// Recover turns raw model output into an Assessment. The error, when not nil,
// is always a *Failure.
func (p *Pipeline) Recover(raw string) (Assessment, error) {
	result, err := p.Run(raw)
	if err != nil {
		return Assessment{}, err
	}
	return result.Assessment, nil
}

// Run is Recover that also reports which tier succeeded.
func (p *Pipeline) Run(raw string) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		return Result{}, newFailure(ParseFailure, "input", "empty response", raw, nil)
	}

	attempts := make([]string, 0, len(p.tiers))
	var lastErr error
	for _, t := range p.tiers {
		record, err := t.run(raw)
		if err == nil {
			record = unwrap(record, p.schema)
			if !recognised(record, p.schema) {
				err = errUnrecognised
			}
		}
		if p.observer != nil {
			p.observer(TierEvent{Tier: t.name, OK: err == nil, Err: err})
		}
		if err == nil {
			return Result{Assessment: Normalize(record, p.schema), Tier: t.name}, nil
		}
		attempts = append(attempts, t.name+": "+err.Error())
		lastErr = err
	}

	last := p.tiers[len(p.tiers)-1].name
	return Result{}, newFailure(ParseFailure, last, "no tier produced a record ("+strings.Join(attempts, "; ")+")", raw, lastErr)
}

// Recover runs a one-off pipeline for schema.
func Recover(raw string, schema Schema) (Assessment, error) {
	p, err := NewPipeline(schema)
	if err != nil {
		return Assessment{}, err
	}
	return p.Recover(raw)
}
