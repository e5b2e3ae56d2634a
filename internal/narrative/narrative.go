// Package narrative composes the summary text of an interpretation.
//
// A deterministic template candidate is always produced. A generative
// candidate is requested from an optional Generator and has to beat the
// deterministic one under the Selector's rules before it is surfaced.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/metrics"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// ErrNarrativeUnavailable reports that the generative path produced nothing
// usable. Compose recovers from it locally.
var ErrNarrativeUnavailable = errors.New("narrative: generative candidate unavailable")

// Generator produces free text from a prompt. Implementations must return
// when ctx is done.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Input is everything a narrative may talk about. Nothing outside it reaches
// a prompt.
type Input struct {
	Subject         telemetry.Subject
	RiskLevel       interpretation.RiskLevel
	Family          string
	Evidence        []evidence.Evidence
	Recommendations []interpretation.Recommendation
	Cohort          *interpretation.CohortDetail
	// KnownCodes lists every code of the reference dictionary. Mentions of
	// these outside Evidence fail the groundedness rule.
	KnownCodes []string
}

// Candidate is one narrative text and where it came from.
type Candidate struct {
	Text   string
	Source interpretation.NarrativeSource
}

// Result is the composed narrative.
type Result struct {
	Text               string
	Source             interpretation.NarrativeSource
	Rule               string
	DeterministicScore float64
	GenerativeScore    float64
}

// Composer produces and arbitrates narrative candidates. It is safe for
// concurrent use.
type Composer struct {
	generator Generator
	selector  *Selector
	metrics   *metrics.Metrics
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithGenerator enables the generative path. A nil generator leaves it off.
func WithGenerator(g Generator) ComposerOption { return func(c *Composer) { c.generator = g } }

// WithMetrics records which candidate each composition surfaced.
func WithMetrics(m *metrics.Metrics) ComposerOption { return func(c *Composer) { c.metrics = m } }

func NewComposer(selector *Selector, opts ...ComposerOption) *Composer {
	c := &Composer{selector: selector}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerativeEnabled reports whether a generator is configured.
func (c *Composer) GenerativeEnabled() bool { return c.generator != nil }

// Deterministic renders the template candidate. It never fails.
func (c *Composer) Deterministic(in Input) Candidate {
	return Candidate{Text: renderTemplate(in), Source: interpretation.NarrativeDeterministic}
}

// Generative asks the generator for a candidate. Every failure, including a
// timeout or a panicking provider, is reported as ErrNarrativeUnavailable.
func (c *Composer) Generative(ctx context.Context, in Input, timeout time.Duration) (Candidate, error) {
	if c.generator == nil {
		return Candidate{}, fmt.Errorf("%w: no generator configured", ErrNarrativeUnavailable)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The call runs on its own goroutine so a provider that ignores ctx
	// cannot hold the request past its deadline.
	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		text, err := c.generator.GenerateText(ctx, BuildPrompt(in))
		done <- reply{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return Candidate{}, fmt.Errorf("%w: %v", ErrNarrativeUnavailable, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return Candidate{}, fmt.Errorf("%w: %v", ErrNarrativeUnavailable, r.err)
		}
		text := normalizeSpace(r.text)
		if text == "" {
			return Candidate{}, fmt.Errorf("%w: empty text", ErrNarrativeUnavailable)
		}
		return Candidate{Text: text, Source: interpretation.NarrativeGenerative}, nil
	}
}

// Compose produces the deterministic candidate, optionally a generative one,
// and returns the Selector's choice. It does not return errors.
func (c *Composer) Compose(ctx context.Context, in Input, timeout time.Duration) Result {
	logger := logging.New("narrative")
	det := c.Deterministic(in)

	var gen *Candidate
	if c.generator != nil {
		cand, err := c.Generative(ctx, in, timeout)
		if err != nil {
			logger.Warn("generative narrative unavailable, using template",
				"subject", in.Subject.String(), "error", err.Error())
		} else {
			gen = &cand
		}
	}

	d := c.selector.Select(in, det, gen)
	c.metrics.Narrative(string(d.Chosen.Source), d.Rule)
	logger.Debug("narrative selected",
		"subject", in.Subject.String(), "source", string(d.Chosen.Source), "rule", d.Rule,
		"deterministic_score", d.DeterministicScore, "generative_score", d.GenerativeScore)

	return Result{
		Text:               d.Chosen.Text,
		Source:             d.Chosen.Source,
		Rule:               d.Rule,
		DeterministicScore: d.DeterministicScore,
		GenerativeScore:    d.GenerativeScore,
	}
}
