package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"010-1234-5678", "01012345678"},
		{"010 1234 5678", "01012345678"},
		{"+82 10-1234-5678", "01012345678"},
		{"82-010-1234-5678", "01012345678"},
		{"1012345678", "01012345678"},
		{"0101234567", "0101234567"},
		{"82182123456789", "0123456789"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"010-1234-5678",
		"+821012345678",
		"1182123456789",
		"828282828282",
		"82",
		"9999999999999999",
		"0082-10-1111-2222",
		"1012345678",
		"전화 010.9876.5432",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("01012345678"))
	assert.True(t, IsValid("0111234567"))
	assert.False(t, IsValid("0212345678"))
	assert.False(t, IsValid("010123"))
	assert.False(t, IsValid("010-1234-5678"))
}

func TestFormatDisplay(t *testing.T) {
	assert.Equal(t, "010-1234-5678", FormatDisplay("01012345678"))
	assert.Equal(t, "011-123-4567", FormatDisplay("0111234567"))
	assert.Equal(t, "12345", FormatDisplay("12345"))
}

func TestLast4(t *testing.T) {
	assert.Equal(t, "5678", Last4("01012345678"))
	assert.Equal(t, "12", Last4("12"))
}
