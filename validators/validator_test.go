package validators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Position *float64 `json:"position" validate:"required,gte=0,finite"`
	Label    string   `json:"label" validate:"omitempty,max=3"`
}

func ptr(f float64) *float64 { return &f }

func TestStruct(t *testing.T) {
	assert.Nil(t, Struct(sample{Position: ptr(12.5)}))

	errs := Struct(sample{Label: "toolong"})
	assert.Equal(t, "position is a required field", errs["position"])
	assert.Equal(t, "label must be a maximum of 3 characters in length", errs["label"])

	errs = Struct(sample{Position: ptr(-1)})
	assert.Equal(t, "position must be 0 or greater", errs["position"])
}

func TestFinite(t *testing.T) {
	errs := Struct(sample{Position: ptr(math.Inf(1))})
	assert.Equal(t, "position must be a finite number", errs["position"])

	errs = Struct(sample{Position: ptr(math.NaN())})
	assert.Contains(t, errs, "position")
}
