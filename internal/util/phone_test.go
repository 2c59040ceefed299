package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{
			name:     "plain digits",
			input:    "1234567",
			expected: "1234567",
			ok:       true,
		},
		{
			name:     "international format with punctuation",
			input:    "+82 10-1234-5678",
			expected: "821012345678",
			ok:       true,
		},
		{
			name:     "six digits rejected",
			input:    "123456",
			expected: "",
			ok:       false,
		},
		{
			name:     "punctuation only",
			input:    "+-() ",
			expected: "",
			ok:       false,
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
			ok:       false,
		},
		{
			name:     "letters stripped before counting",
			input:    "phone: 12345ab67",
			expected: "1234567",
			ok:       true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, ok := NormalizePhone(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestFormatPairingCode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "raw eight characters",
			input:    "ABCD1234",
			expected: "ABCD-1234",
		},
		{
			name:     "already dashed",
			input:    "ABCD-1234",
			expected: "ABCD-1234",
		},
		{
			name:     "short code untouched",
			input:    "ABC",
			expected: "ABC",
		},
		{
			name:     "spaces collapsed",
			input:    "ABCD 1234",
			expected: "ABCD-1234",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatPairingCode(tc.input))
		})
	}
}

func TestGenerateToken(t *testing.T) {
	t.Run("generates unique 64-char hex tokens", func(t *testing.T) {
		a, err := GenerateToken()
		assert.NoError(t, err)
		b, err := GenerateToken()
		assert.NoError(t, err)

		assert.Len(t, a, 64)
		assert.NotEqual(t, a, b)
	})
}

func TestMaskCode(t *testing.T) {
	t.Run("masks everything after the first group", func(t *testing.T) {
		assert.Equal(t, "ABCD-****", MaskCode("ABCD-1234"))
	})

	t.Run("short codes fully masked", func(t *testing.T) {
		assert.Equal(t, "****", MaskCode("ABC"))
	})
}
