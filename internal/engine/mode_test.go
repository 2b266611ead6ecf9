package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMode(t *testing.T) {
	for _, valid := range []string{"", "immediate", "deferred", "disabled"} {
		assert.NoError(t, ValidateMode(valid), valid)
	}
	for _, invalid := range []string{"eventually", "IMMEDIATE", "off", " immediate"} {
		assert.Error(t, ValidateMode(invalid), invalid)
	}
}

func TestNormalizeMode_EmptyDefaultsToImmediate(t *testing.T) {
	assert.Equal(t, ModeImmediate, NormalizeMode(""))
	assert.Equal(t, ModeDeferred, NormalizeMode("deferred"))
	assert.Equal(t, ModeDisabled, NormalizeMode("disabled"))
}
