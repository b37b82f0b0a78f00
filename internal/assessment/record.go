package assessment

// Record is a decoded, not yet normalized reply: whatever mapping a tier produced.
type Record map[string]any

// Category is one scored rubric entry of an Assessment.
type Category struct {
	Name           string  `json:"name"`
	PositiveAspect string  `json:"positive_aspect"`
	NegativeAspect string  `json:"negative_aspect"`
	Score          float64 `json:"score"`
	Justification  string  `json:"justification"`
}

// Assessment is the canonical, bounds-checked output of the pipeline.
type Assessment struct {
	InitialNote   string     `json:"initial_note"`
	Categories    []Category `json:"categories"`
	FinalScore    float64    `json:"final_score"`
	LetterGrade   string     `json:"letter_grade"`
	Summary       string     `json:"summary"`
	PositiveFlags []string   `json:"positive_flags"`
	NegativeFlags []string   `json:"negative_flags"`
}

// keyIndex resolves wire keys to the raw keys present in a record.
type keyIndex map[string]string

func indexKeys(record Record) keyIndex {
	index := make(keyIndex, len(record))
	for raw := range record {
		key := normalizeKey(raw)
		if prev, ok := index[key]; !ok || raw < prev {
			index[key] = raw
		}
	}
	return index
}

// lookup returns the value stored under the field's key or, failing that,
// under the first alias present.
func (idx keyIndex) lookup(record Record, spec FieldSpec) (any, bool) {
	for _, name := range spec.names() {
		if raw, ok := idx[normalizeKey(name)]; ok {
			return record[raw], true
		}
	}
	return nil, false
}

// recognised reports whether the record carries at least one top-level field
// the schema knows about.
func recognised(record Record, schema Schema) bool {
	idx := indexKeys(record)
	for _, spec := range schema.Fields.topLevel() {
		if _, ok := idx.lookup(record, spec); ok {
			return true
		}
	}
	return false
}

// unwrap peels a single envelope key ({"analysis": {...}}) when the outer
// record is not itself recognisable.
func unwrap(record Record, schema Schema) Record {
	for depth := 0; depth < 3 && !recognised(record, schema) && len(record) == 1; depth++ {
		var inner map[string]any
		for _, value := range record {
			inner, _ = value.(map[string]any)
		}
		if inner == nil {
			break
		}
		record = Record(inner)
	}
	return record
}
