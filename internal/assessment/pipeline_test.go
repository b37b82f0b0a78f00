package assessment

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const wellFormedReply = `{
  "initial_assessment": "Long but readable.",
  "categories": [
    {"name": "Privacy and Data Security", "user_friendly_aspect": "Encryption at rest", "concerning_aspect": "Broad sharing", "score": 4, "justification": "Shares with affiliates"},
    {"name": "Clarity and Readability", "user_friendly_aspect": "Plain language", "concerning_aspect": "Long", "score": 8, "justification": "Headings help"}
  ],
  "final_score": 5.5,
  "letter_grade": "C",
  "summary": "Average terms.",
  "green_flags": ["Plain language"],
  "red_flags": ["Affiliate sharing", "Arbitration"]
}`

type tierRecorder struct {
	mu     sync.Mutex
	events []TierEvent
}

func (r *tierRecorder) observe(event TierEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *tierRecorder) tiers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, event := range r.events {
		names = append(names, fmt.Sprintf("%s:%t", event.Tier, event.OK))
	}
	return names
}

func TestRecoverValidInputUsesStrictTierOnly(t *testing.T) {
	recorder := &tierRecorder{}
	pipeline, err := NewPipeline(DefaultSchema(), WithObserver(recorder.observe))
	require.NoError(t, err)

	result, err := pipeline.Run(wellFormedReply)
	require.NoError(t, err)
	require.Equal(t, TierStrict, result.Tier)
	require.Equal(t, []string{"strict:true"}, recorder.tiers())

	record, err := Parse(wellFormedReply)
	require.NoError(t, err)
	if diff := cmp.Diff(Normalize(record, DefaultSchema()), result.Assessment); diff != "" {
		t.Fatalf("strict tier differs from parse+normalize (-want +got):\n%s", diff)
	}

	require.Equal(t, []string{"Clarity and Readability", "Privacy and Data Security"}, namesOf(result.Assessment.Categories))
	require.Equal(t, 5.5, result.Assessment.FinalScore)
	require.Equal(t, "C", result.Assessment.LetterGrade)
	require.Equal(t, []string{"Affiliate sharing", "Arbitration"}, result.Assessment.NegativeFlags)
}

func TestRecoverTruncatedReply(t *testing.T) {
	recorder := &tierRecorder{}
	pipeline, err := NewPipeline(twoCategorySchema(), WithObserver(recorder.observe))
	require.NoError(t, err)

	result, err := pipeline.Run(`{"categories":[{"name":"A","score":5},{"name":"B"`)
	require.NoError(t, err)
	require.Equal(t, TierRepair, result.Tier)
	require.Equal(t, []string{"strict:false", "repair:true"}, recorder.tiers())
	require.Equal(t, []Category{{Name: "A", Score: 5}}, result.Assessment.Categories)
}

func TestRecoverAggressiveTier(t *testing.T) {
	result, err := mustPipeline(t, DefaultSchema()).Run("{\n\"summary\": \"ok\"\n\"final_score\": 7\n}")
	require.NoError(t, err)
	require.Equal(t, TierRepairAggressive, result.Tier)
	require.Equal(t, "ok", result.Assessment.Summary)
}

func TestRecoverAggressiveTierKeepsBracketedProse(t *testing.T) {
	reply := `{"summary": "[1] Users waive class actions; see section 12.", "final_score": 4, "binding": True}`
	result, err := mustPipeline(t, DefaultSchema()).Run(reply)
	require.NoError(t, err)
	require.Equal(t, TierRepairAggressive, result.Tier)
	require.Equal(t, "[1] Users waive class actions; see section 12.", result.Assessment.Summary)
}

func TestRecoverFallsBackToExtraction(t *testing.T) {
	recorder := &tierRecorder{}
	pipeline, err := NewPipeline(DefaultSchema(), WithObserver(recorder.observe))
	require.NoError(t, err)

	result, err := pipeline.Run(`The model says "summary": "X" and nothing else`)
	require.NoError(t, err)
	require.Equal(t, TierExtract, result.Tier)
	require.Equal(t, []string{"strict:false", "repair:false", "repair_aggressive:false", "extract:true"}, recorder.tiers())

	want := Normalize(Record{}, DefaultSchema())
	want.Summary = "X"
	if diff := cmp.Diff(want, result.Assessment); diff != "" {
		t.Fatalf("unexpected assessment (-want +got):\n%s", diff)
	}
}

func TestRecoverEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   \n\t"} {
		_, err := Recover(raw, DefaultSchema())
		failure, ok := AsFailure(err)
		require.True(t, ok, "got %v", err)
		require.Equal(t, ParseFailure, failure.Kind)
		require.Equal(t, "input", failure.Tier)
	}
}

func TestRecoverUnrecognisedInput(t *testing.T) {
	recorder := &tierRecorder{}
	pipeline, err := NewPipeline(DefaultSchema(), WithObserver(recorder.observe))
	require.NoError(t, err)

	raw := `{"weather": "sunny"}` + strings.Repeat("é", 800)
	_, err = pipeline.Recover(raw)
	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, ParseFailure, failure.Kind)
	require.Equal(t, TierExtract, failure.Tier)
	require.Contains(t, failure.Message, "strict:")
	require.Contains(t, failure.Message, "extract: record has no recognised field")
	require.LessOrEqual(t, utf8.RuneCountInString(failure.RawExcerpt), MaxExcerptRunes)
	require.True(t, utf8.ValidString(failure.RawExcerpt))
	require.True(t, errors.Is(err, errUnrecognised))
	require.Len(t, recorder.tiers(), 4)
}

func TestNewPipelineRejectsInvalidSchema(t *testing.T) {
	schema := DefaultSchema()
	schema.Categories = nil

	_, err := NewPipeline(schema)
	failure, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, SchemaViolation, failure.Kind)
	require.ErrorIs(t, err, ErrInvalidSchema)

	_, err = Recover(wellFormedReply, schema)
	require.ErrorIs(t, err, ErrInvalidSchema)
}

func TestRecoverConcurrentCallers(t *testing.T) {
	pipeline := mustPipeline(t, DefaultSchema())
	inputs := []string{
		wellFormedReply,
		`{"categories":[{"name":"Privacy","score":5},{"name":"B"`,
		`The model says "summary": "X" and nothing else`,
		"",
		"```json\n{'summary': 'fenced'}\n```",
	}

	type outcome struct {
		assessment Assessment
		err        string
	}
	run := func(raw string) outcome {
		assessment, err := pipeline.Recover(raw)
		if err != nil {
			return outcome{err: err.Error()}
		}
		return outcome{assessment: assessment}
	}

	want := make([]outcome, len(inputs))
	for i, raw := range inputs {
		want[i] = run(raw)
	}

	var group errgroup.Group
	for worker := 0; worker < 16; worker++ {
		group.Go(func() error {
			for i, raw := range inputs {
				got := run(raw)
				if diff := cmp.Diff(want[i], got, cmp.AllowUnexported(outcome{})); diff != "" {
					return fmt.Errorf("input %d diverged: %s", i, diff)
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
}

func TestUpstreamFailure(t *testing.T) {
	cause := errors.New("connection reset")
	failure := Upstream(cause, strings.Repeat("x", 2000))
	require.Equal(t, UpstreamError, failure.Kind)
	require.ErrorIs(t, failure, cause)
	require.Equal(t, MaxExcerptRunes, utf8.RuneCountInString(failure.RawExcerpt))

	require.Nil(t, Upstream(nil, ""))

	parse := &Failure{Kind: ParseFailure, Message: "boom"}
	require.Same(t, parse, Upstream(fmt.Errorf("wrapped: %w", parse), ""))
}

func mustPipeline(t *testing.T, schema Schema) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(schema)
	require.NoError(t, err)
	return pipeline
}
