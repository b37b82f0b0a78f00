package assessment

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes the reply the model is asked to produce, using the
// descriptor's wire keys. It is suitable for structured-output APIs.
func (s Schema) JSONSchema() *jsonschema.Schema {
	f := s.Fields
	scale := s.CategoryScore
	if s.LegacyCategoryScore != nil {
		scale = *s.LegacyCategoryScore
	}

	names := make([]any, 0, len(s.Categories))
	for _, category := range s.Categories {
		names = append(names, category.Name)
	}

	category := jsonschema.NewProperties()
	category.Set(f.CategoryName.Key, &jsonschema.Schema{Type: "string", Enum: names})
	category.Set(f.PositiveAspect.Key, stringProp("What the terms do well for users in this category."))
	category.Set(f.NegativeAspect.Key, stringProp("What is concerning for users in this category."))
	category.Set(f.Score.Key, numberProp(scale, "Category score."))
	category.Set(f.Justification.Key, stringProp("Short justification of the score."))

	flags := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: desc}
	}

	root := jsonschema.NewProperties()
	root.Set(f.InitialNote.Key, stringProp("First impression of the document."))
	root.Set(f.Categories.Key, &jsonschema.Schema{
		Type: "array",
		Items: &jsonschema.Schema{
			Type:                 "object",
			Properties:           category,
			Required:             []string{f.CategoryName.Key, f.PositiveAspect.Key, f.NegativeAspect.Key, f.Score.Key, f.Justification.Key},
			AdditionalProperties: jsonschema.FalseSchema,
		},
	})
	root.Set(f.FinalScore.Key, numberProp(s.OverallScore, "Weighted overall score."))
	root.Set(f.LetterGrade.Key, stringProp("Letter grade matching the overall score."))
	root.Set(f.Summary.Key, stringProp("Summary for a non-expert reader."))
	root.Set(f.PositiveFlags.Key, flags("Most user-friendly clauses."))
	root.Set(f.NegativeFlags.Key, flags("Most concerning clauses."))

	required := make([]string, 0, 7)
	for _, spec := range f.topLevel() {
		required = append(required, spec.Key)
	}
	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                fmt.Sprintf("assessment %s", s.Version),
		Type:                 "object",
		Properties:           root,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func stringProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func numberProp(r Range, desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "number",
		Minimum:     json.Number(strconv.FormatFloat(r.Min, 'f', -1, 64)),
		Maximum:     json.Number(strconv.FormatFloat(r.Max, 'f', -1, 64)),
		Description: fmt.Sprintf("%s Between %g and %g.", desc, r.Min, r.Max),
	}
}
