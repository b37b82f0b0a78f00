package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/pkg/ai"
)

// DefaultMaxDocumentChars caps the document text embedded in a prompt.
const DefaultMaxDocumentChars = 100000

const analysisSystemPrompt = "You are a consumer-rights analyst reviewing Terms of Service documents. " +
	"Be balanced, cite concrete clauses, and reply with a single JSON object only."

// buildAnalysisPrompt renders the rubric described by schema for one document.
func buildAnalysisPrompt(schema assessment.Schema, company, text string, maxChars int) (ai.Prompt, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxDocumentChars
	}
	text = truncateRunes(text, maxChars)

	scale := schema.CategoryScore
	if schema.LegacyCategoryScore != nil {
		scale = *schema.LegacyCategoryScore
	}
	fields := schema.Fields

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the Terms of Service (ToS) for %s objectively and comprehensively. ", company)
	b.WriteString("Your analysis should be balanced, considering both user-friendly and potentially concerning aspects.\n\n")

	b.WriteString("Initial Assessment:\n")
	b.WriteString("1. Identify the 3 most notable aspects of this ToS, whether positive or negative. (50 words max)\n\n")

	b.WriteString("For each category below, provide:\n")
	b.WriteString("a) Most user-friendly aspect (1 sentence)\n")
	b.WriteString("b) Most concerning aspect (1 sentence)\n")
	fmt.Fprintf(&b, "c) Score (%s to %s, higher is more user-friendly)\n", formatScore(scale.Min), formatScore(scale.Max))
	b.WriteString("d) Brief justification (30 words max)\n\n")

	b.WriteString("Categories:\n")
	weights := make([]string, 0, len(schema.Categories))
	for i, category := range schema.Categories {
		fmt.Fprintf(&b, "%d. %s", i+1, category.Name)
		if category.Description != "" {
			fmt.Fprintf(&b, ": %s", category.Description)
		}
		b.WriteByte('\n')
		weights = append(weights, formatScore(category.Weight))
	}

	overall := schema.OverallScore
	b.WriteString("\nOverall Assessment:\n")
	fmt.Fprintf(&b, "1. Calculate the final score: convert category scores to a %s-%s scale, then take the weighted average using category weights [%s]. Round to one decimal place.\n",
		formatScore(overall.Min), formatScore(overall.Max), strings.Join(weights, ", "))
	b.WriteString("2. Assign a letter grade based on the final score:\n   ")
	b.WriteString(assessment.GradeLegend())
	b.WriteString("\n3. Summarize the ToS, highlighting the most significant positive and negative aspects. (50 words max)\n")
	maxFlags := schema.MaxFlags
	if maxFlags <= 0 {
		maxFlags = assessment.DefaultMaxFlags
	}
	fmt.Fprintf(&b, "4. List up to %d green flags (user-friendly practices) and %d red flags (concerning practices), if any.\n\n", maxFlags, maxFlags)

	b.WriteString("Provide your analysis in the following JSON format:\n")
	b.WriteString(replyTemplate(fields))
	b.WriteString("\n\nTerms of Service to analyze:\n")
	b.WriteString(text)

	rawSchema, err := json.Marshal(schema.JSONSchema())
	if err != nil {
		return ai.Prompt{}, fmt.Errorf("marshal reply schema: %w", err)
	}

	return ai.Prompt{
		System:     analysisSystemPrompt,
		User:       b.String(),
		Schema:     rawSchema,
		SchemaName: "tos_assessment",
	}, nil
}

func replyTemplate(f assessment.Fields) string {
	category := fmt.Sprintf(`{"%s": "string", "%s": "string", "%s": "string", "%s": number, "%s": "string"}`,
		f.CategoryName.Key, f.PositiveAspect.Key, f.NegativeAspect.Key, f.Score.Key, f.Justification.Key)
	return fmt.Sprintf("{\n  %q: \"string\",\n  %q: [%s],\n  %q: number,\n  %q: \"string\",\n  %q: \"string\",\n  %q: [\"string\"],\n  %q: [\"string\"]\n}",
		f.InitialNote.Key, f.Categories.Key, category, f.FinalScore.Key, f.LetterGrade.Key, f.Summary.Key, f.PositiveFlags.Key, f.NegativeFlags.Key)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncateRunes(text string, limit int) string {
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}
