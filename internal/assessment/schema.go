package assessment

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidSchema indicates a descriptor that cannot drive the pipeline.
var ErrInvalidSchema = errors.New("invalid schema descriptor")

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max" validate:"gtfield=Min"`
}

// Clamp pins v into the range. NaN collapses to Min.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Rescale maps v linearly from r onto to.
func (r Range) Rescale(v float64, to Range) float64 {
	if r == to {
		return v
	}
	span := r.Max - r.Min
	if span == 0 {
		return to.Min
	}
	return to.Min + (v-r.Min)/span*(to.Max-to.Min)
}

// FieldSpec names a field on the wire. Key is what the model is asked to emit;
// Aliases are accepted on input.
type FieldSpec struct {
	Key     string   `json:"key" yaml:"key" validate:"required"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases"`
}

func (f FieldSpec) names() []string {
	names := make([]string, 0, len(f.Aliases)+1)
	names = append(names, f.Key)
	return append(names, f.Aliases...)
}

// Fields maps every slot of an Assessment to its wire key.
type Fields struct {
	InitialNote   FieldSpec `json:"initial_note" yaml:"initial_note"`
	Categories    FieldSpec `json:"categories" yaml:"categories"`
	FinalScore    FieldSpec `json:"final_score" yaml:"final_score"`
	LetterGrade   FieldSpec `json:"letter_grade" yaml:"letter_grade"`
	Summary       FieldSpec `json:"summary" yaml:"summary"`
	PositiveFlags FieldSpec `json:"positive_flags" yaml:"positive_flags"`
	NegativeFlags FieldSpec `json:"negative_flags" yaml:"negative_flags"`

	CategoryName   FieldSpec `json:"category_name" yaml:"category_name"`
	PositiveAspect FieldSpec `json:"positive_aspect" yaml:"positive_aspect"`
	NegativeAspect FieldSpec `json:"negative_aspect" yaml:"negative_aspect"`
	Score          FieldSpec `json:"score" yaml:"score"`
	Justification  FieldSpec `json:"justification" yaml:"justification"`
}

func (f Fields) topLevel() []FieldSpec {
	return []FieldSpec{f.InitialNote, f.Categories, f.FinalScore, f.LetterGrade, f.Summary, f.PositiveFlags, f.NegativeFlags}
}

// CategorySpec declares one scored category.
type CategorySpec struct {
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Weight      float64  `json:"weight" yaml:"weight" validate:"gte=0"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases"`
}

// Schema is the descriptor every stage of the pipeline is driven by.
type Schema struct {
	Version    string         `json:"version" yaml:"version" validate:"required"`
	Fields     Fields         `json:"fields" yaml:"fields"`
	Categories []CategorySpec `json:"categories" yaml:"categories" validate:"required,min=1,dive"`
	// WeightTotal, when non-zero, is the sum the category weights must reach.
	WeightTotal   float64 `json:"weight_total,omitempty" yaml:"weight_total" validate:"gte=0"`
	CategoryScore Range   `json:"category_score" yaml:"category_score"`
	OverallScore  Range   `json:"overall_score" yaml:"overall_score"`
	// LegacyCategoryScore marks category scores as emitted on an older scale;
	// they are rescaled into CategoryScore during normalization.
	LegacyCategoryScore *Range `json:"legacy_category_score,omitempty" yaml:"legacy_category_score"`
	Policy              Policy `json:"policy" yaml:"policy"`
	MaxFlags            int    `json:"max_flags" yaml:"max_flags" validate:"gte=0"`
	// RecomputeScore derives final_score from the category scores instead of
	// trusting the model's own arithmetic.
	RecomputeScore bool `json:"recompute_score" yaml:"recompute_score"`
}

// Validate checks the descriptor for internal consistency.
func (s Schema) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	seen := make(map[string]string, len(s.Categories))
	var total float64
	for _, category := range s.Categories {
		key := categoryKey(category.Name)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: categories %q and %q collide", ErrInvalidSchema, prev, category.Name)
		}
		seen[key] = category.Name
		total += category.Weight
	}
	if total <= 0 {
		return fmt.Errorf("%w: category weights must sum to a positive value", ErrInvalidSchema)
	}
	if s.WeightTotal > 0 && math.Abs(total-s.WeightTotal) > 1e-9 {
		return fmt.Errorf("%w: category weights sum to %g, want %g", ErrInvalidSchema, total, s.WeightTotal)
	}
	if err := s.Policy.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return nil
}

// LoadSchema decodes a YAML descriptor and validates it.
func LoadSchema(r io.Reader) (Schema, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var schema Schema
	if err := decoder.Decode(&schema); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	if err := schema.Validate(); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

// DefaultSchema is the current Terms of Service rubric: seven weighted
// categories scored on [0,10].
func DefaultSchema() Schema {
	return Schema{
		Version: "tos-v2",
		Fields: Fields{
			InitialNote:   FieldSpec{Key: "initial_assessment", Aliases: []string{"initial_note", "initial_analysis", "overview"}},
			Categories:    FieldSpec{Key: "categories", Aliases: []string{"category_scores", "category_analysis", "scores"}},
			FinalScore:    FieldSpec{Key: "final_score", Aliases: []string{"overall_score", "total_score", "score_overall"}},
			LetterGrade:   FieldSpec{Key: "letter_grade", Aliases: []string{"grade"}},
			Summary:       FieldSpec{Key: "summary", Aliases: []string{"overall_summary", "conclusion"}},
			PositiveFlags: FieldSpec{Key: "green_flags", Aliases: []string{"positive_flags", "green_flag", "pros"}},
			NegativeFlags: FieldSpec{Key: "red_flags", Aliases: []string{"negative_flags", "red_flag", "cons"}},

			CategoryName:   FieldSpec{Key: "name", Aliases: []string{"category", "title"}},
			PositiveAspect: FieldSpec{Key: "user_friendly_aspect", Aliases: []string{"positive_aspect", "user_friendly", "positive", "pro", "strength"}},
			NegativeAspect: FieldSpec{Key: "concerning_aspect", Aliases: []string{"negative_aspect", "concerning", "negative", "con", "concern", "weakness"}},
			Score:          FieldSpec{Key: "score", Aliases: []string{"rating", "points"}},
			Justification:  FieldSpec{Key: "justification", Aliases: []string{"explanation", "reason", "reasoning", "rationale"}},
		},
		Categories: []CategorySpec{
			{Name: "Clarity and Readability", Weight: 15, Description: "How easy is the ToS to understand for an average user?"},
			{Name: "Privacy and Data Security", Weight: 25, Description: "How well does it protect user data and privacy?"},
			{Name: "Data Collection and Usage", Weight: 20, Description: "How transparent and fair are data practices?"},
			{Name: "User Rights and Control", Weight: 15, Description: "What level of control do users have over their data and account?"},
			{Name: "Liability and Disclaimers", Weight: 10, Description: "How balanced are the liability terms between user and company?"},
			{Name: "Termination and Account Suspension", Weight: 5, Description: "How fair and clear are these processes?"},
			{Name: "Changes to Terms", Weight: 5, Description: "How are users notified and what rights do they have regarding changes?"},
		},
		WeightTotal:    95,
		CategoryScore:  Range{Min: 0, Max: 10},
		OverallScore:   Range{Min: 0, Max: 10},
		MaxFlags:       3,
		RecomputeScore: true,
	}
}

// LegacySchema reads replies produced by the earlier prompt revision, which
// scored categories on [-2,+2] and called the overall field overall_score.
func LegacySchema() Schema {
	schema := DefaultSchema()
	schema.Version = "tos-v1"
	schema.Fields.FinalScore = FieldSpec{Key: "overall_score", Aliases: []string{"final_score", "total_score"}}
	schema.LegacyCategoryScore = &Range{Min: -2, Max: 2}
	return schema
}

// declared returns the index of the declared category called name, or -1.
// Exact (alias-aware) matches win; otherwise a unique prefix match is used.
func (s Schema) declared(name string) int {
	key := categoryKey(name)
	if key == "" {
		return -1
	}
	for i, category := range s.Categories {
		if categoryKey(category.Name) == key {
			return i
		}
		for _, alias := range category.Aliases {
			if categoryKey(alias) == key {
				return i
			}
		}
	}

	match := -1
	for i, category := range s.Categories {
		declared := categoryKey(category.Name)
		if strings.HasPrefix(declared, key+"_") || strings.HasPrefix(key, declared+"_") {
			if match >= 0 {
				return -1
			}
			match = i
		}
	}
	return match
}

// normalizeKey folds case and collapses every run of non-alphanumerics into a
// single underscore so "User Friendly Aspect" and "user_friendly_aspect" meet.
func normalizeKey(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// categoryKey is normalizeKey without "and" tokens, so "&" and "and" agree.
func categoryKey(s string) string {
	parts := strings.Split(normalizeKey(s), "_")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" && part != "and" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "_")
}
