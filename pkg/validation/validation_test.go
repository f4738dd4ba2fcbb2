package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sampleDTO struct {
	User  string `validate:"required"`
	Count int    `validate:"gte=0,lte=100"`
}

func TestStructReturnsNilForValidValue(t *testing.T) {
	errs := Struct(sampleDTO{User: "u1", Count: 5})
	assert.Nil(t, errs)
}

func TestStructReturnsFieldErrorsForInvalidValue(t *testing.T) {
	errs := Struct(sampleDTO{User: "", Count: 500})
	assert.Len(t, errs, 2)
}
