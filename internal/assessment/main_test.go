package assessment

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// twoCategorySchema declares categories A and B with equal weight.
func twoCategorySchema() Schema {
	schema := DefaultSchema()
	schema.Version = "test"
	schema.WeightTotal = 0
	schema.Categories = []CategorySpec{
		{Name: "A", Weight: 1},
		{Name: "B", Weight: 1},
	}
	return schema
}
