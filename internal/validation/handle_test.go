package validation

import (
	"testing"

	"vibesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		handle string
		ok     bool
	}{
		{name: "valid simple", handle: "ada", ok: true},
		{name: "valid with digits", handle: "ada_92", ok: true},
		{name: "maximum length", handle: "abcdefghijklmnopqrst", ok: true},
		{name: "too long", handle: "abcdefghijklmnopqrstu", ok: false},
		{name: "too short", handle: "ab", ok: false},
		{name: "uppercase", handle: "Ada", ok: false},
		{name: "hyphen", handle: "ada-l", ok: false},
		{name: "leading underscore", handle: "_ada", ok: false},
		{name: "trailing underscore", handle: "ada_", ok: false},
		{name: "reserved admin", handle: "admin", ok: false},
		{name: "reserved ws", handle: "ws", ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHandle(tc.handle)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNormalizeHandle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ada", NormalizeHandle("  @Ada "))
}

func TestExtractMentions(t *testing.T) {
	t.Parallel()

	got := ExtractMentions("hey @Ada and @bob_99, also @ada again. mail me at x@example.com @no")
	assert.Equal(t, []string{"ada", "bob_99"}, got)
	assert.Empty(t, ExtractMentions("no mentions here"))
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	type input struct {
		Handle  string `validate:"required,handle"`
		Content string `validate:"notblank,max=10"`
	}

	require.NoError(t, ValidateStruct(input{Handle: "ada", Content: "hi"}))

	err := ValidateStruct(input{Handle: "A!", Content: "   "})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeValidation))
	assert.Contains(t, err.Error(), "Handle is not a valid handle")
	assert.Contains(t, err.Error(), "Content is required")
}
