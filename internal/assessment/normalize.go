package assessment

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultMaxFlags applies when a descriptor leaves max_flags unset.
const DefaultMaxFlags = 3

var canonicalScale = Range{Min: 0, Max: 10}

// Normalize coerces any record into a complete Assessment. It never fails:
// missing strings become "", missing sequences become empty and unparsable
// numbers become 0. Scores are clamped to the ranges of the schema.
func Normalize(record Record, schema Schema) Assessment {
	record = unwrap(record, schema)
	idx := indexKeys(record)
	get := func(spec FieldSpec) any {
		value, _ := idx.lookup(record, spec)
		return value
	}

	maxFlags := schema.MaxFlags
	if maxFlags <= 0 {
		maxFlags = DefaultMaxFlags
	}

	categories, weighted := normalizeCategories(get(schema.Fields.Categories), schema)
	out := Assessment{
		InitialNote:   coerceString(get(schema.Fields.InitialNote)),
		Categories:    categories,
		Summary:       coerceString(get(schema.Fields.Summary)),
		PositiveFlags: coerceFlags(get(schema.Fields.PositiveFlags), maxFlags),
		NegativeFlags: coerceFlags(get(schema.Fields.NegativeFlags), maxFlags),
	}

	overall := round1(coerceNumber(get(schema.Fields.FinalScore)))
	if schema.RecomputeScore && presentWeight(weighted) > 0 {
		overall = Aggregate(weighted, schema.Policy)
	}
	out.FinalScore = schema.OverallScore.Clamp(overall)
	out.LetterGrade = Grade(schema.OverallScore.Rescale(out.FinalScore, canonicalScale))
	return out
}

type rawCategory struct {
	name     string
	category Category
}

// normalizeCategories orders categories by declaration, keeps undeclared
// extras after them in the order the model emitted them and never returns
// more entries than were declared. It also returns the declared scores,
// rescaled onto the overall range, for aggregation.
func normalizeCategories(value any, schema Schema) ([]Category, []WeightedScore) {
	entries := categoryEntries(value, schema)

	slots := make([]*Category, len(schema.Categories))
	var extras []Category
	seenExtra := make(map[string]bool)
	for pos, entry := range entries {
		i := -1
		switch {
		case entry.name != "":
			i = schema.declared(entry.name)
		case pos < len(slots):
			i = pos
		}
		if i >= 0 {
			if slots[i] == nil {
				category := entry.category
				category.Name = schema.Categories[i].Name
				slots[i] = &category
			}
			continue
		}
		if entry.name == "" {
			continue
		}
		key := categoryKey(entry.name)
		if seenExtra[key] {
			continue
		}
		seenExtra[key] = true
		extras = append(extras, entry.category)
	}

	categories := make([]Category, 0, len(schema.Categories))
	var weighted []WeightedScore
	for i, slot := range slots {
		if slot == nil {
			continue
		}
		categories = append(categories, *slot)
		weighted = append(weighted, WeightedScore{
			Score:  schema.CategoryScore.Rescale(slot.Score, schema.OverallScore),
			Weight: schema.Categories[i].Weight,
		})
	}
	for _, extra := range extras {
		if len(categories) >= len(schema.Categories) {
			break
		}
		categories = append(categories, extra)
	}
	return categories, weighted
}

func categoryEntries(value any, schema Schema) []rawCategory {
	switch v := value.(type) {
	case []any:
		entries := make([]rawCategory, 0, len(v))
		for _, item := range v {
			switch item := item.(type) {
			case map[string]any:
				entries = append(entries, categoryFromMap(Record(item), "", schema))
			case string:
				if name := strings.TrimSpace(item); name != "" {
					entries = append(entries, rawCategory{name: name, category: Category{Name: name}})
				}
			}
		}
		return entries
	case map[string]any:
		idx := indexKeys(Record(v))
		if _, ok := idx.lookup(Record(v), schema.Fields.CategoryName); ok {
			return []rawCategory{categoryFromMap(Record(v), "", schema)}
		}
		// {"Privacy": {...}, "Clarity": 7}
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]rawCategory, 0, len(names))
		for _, name := range names {
			switch item := v[name].(type) {
			case map[string]any:
				entries = append(entries, categoryFromMap(Record(item), name, schema))
			default:
				category := Category{Name: strings.TrimSpace(name), Score: categoryScore(item, schema)}
				entries = append(entries, rawCategory{name: category.Name, category: category})
			}
		}
		return entries
	}
	return nil
}

func categoryFromMap(record Record, fallbackName string, schema Schema) rawCategory {
	idx := indexKeys(record)
	get := func(spec FieldSpec) any {
		value, _ := idx.lookup(record, spec)
		return value
	}
	fields := schema.Fields

	name := coerceString(get(fields.CategoryName))
	if name == "" {
		name = strings.TrimSpace(fallbackName)
	}
	return rawCategory{
		name: name,
		category: Category{
			Name:           name,
			PositiveAspect: coerceString(get(fields.PositiveAspect)),
			NegativeAspect: coerceString(get(fields.NegativeAspect)),
			Score:          categoryScore(get(fields.Score), schema),
			Justification:  coerceString(get(fields.Justification)),
		},
	}
}

// categoryScore reads a category score, translating it from the legacy range
// when the schema declares one.
func categoryScore(value any, schema Schema) float64 {
	score := coerceNumber(value)
	if legacy := schema.LegacyCategoryScore; legacy != nil {
		score = legacy.Rescale(legacy.Clamp(score), schema.CategoryScore)
	}
	return schema.CategoryScore.Clamp(score)
}

func presentWeight(scores []WeightedScore) float64 {
	var total float64
	for _, s := range scores {
		if s.Weight > 0 {
			total += s.Weight
		}
	}
	return total
}

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

func coerceNumber(value any) float64 {
	var n float64
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return coerceNumber(v.String())
		}
		n = f
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		match := numberPattern.FindString(strings.ReplaceAll(v, "−", "-"))
		if match == "" {
			return 0
		}
		f, err := strconv.ParseFloat(match, 64)
		if err != nil {
			return 0
		}
		n = f
	default:
		return 0
	}
	if math.IsNaN(n) {
		return 0
	}
	return n
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// coerceFlags wraps scalars, drops falsy values and caps the result.
func coerceFlags(value any, max int) []string {
	flags := []string{}
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if s := coerceString(item); s != "" {
				flags = append(flags, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			flags = append(flags, s)
		}
	case json.Number, float64:
		if coerceNumber(v) != 0 {
			flags = append(flags, coerceString(v))
		}
	}
	if len(flags) > max {
		flags = flags[:max]
	}
	return flags
}
