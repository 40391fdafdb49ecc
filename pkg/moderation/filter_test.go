package moderation

import (
	"errors"
	"strings"
	"testing"

	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Screen(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"plain question", "sort a list in python", false},
		{"code with exec keyword", "why does exec() in python return None?", false},
		{"script tag", "<script>alert(1)</script>", true},
		{"javascript url", "click javascript:alert(1)", true},
		{"sql shell", "'; EXEC xp_cmdshell 'dir'", true},
		{"rm root", "please run rm -rf / now", true},
		{"control characters", "hello\x00world", true},
		{"empty", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Screen(tt.input)
			if tt.blocked {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errs.ErrInvalidRequest))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilter_RedactsSecrets(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)

	res, err := f.Screen("my key is sk-abcdefghijklmnopqrstuvwxyz123456, card 4111 1111 1111 1111")
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "sk-abcdef")
	assert.Contains(t, res.Text, "[API_KEY_REDACTED]")
	assert.Contains(t, res.Text, "[CREDIT_CARD_REDACTED]")
	assert.Len(t, res.Issues, 2)

	assert.Equal(t, "ssn [SSN_REDACTED]", f.Sanitize("ssn 123-45-6789"))
}

func TestFilter_KeywordsAndLength(t *testing.T) {
	f, err := New(Config{Enabled: true, MaxInputLength: 10, BlockedKeywords: []string{"Forbidden"}})
	require.NoError(t, err)

	_, err = f.Screen("forbidden")
	assert.Error(t, err)

	_, err = f.Screen(strings.Repeat("a", 11))
	assert.Error(t, err)

	res, err := f.Screen("fine")
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Text)
}

func TestFilter_Disabled(t *testing.T) {
	f, err := New(Config{Enabled: false, BlockedKeywords: []string{"x"}})
	require.NoError(t, err)

	res, err := f.Screen("x <script>y</script>")
	require.NoError(t, err)
	assert.Equal(t, "x <script>y</script>", res.Text)
	assert.Equal(t, "sk-abcdefghijklmnopqrstuvwxyz", f.Sanitize("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(Config{Enabled: true, BlockedPatterns: []string{"("}})
	assert.Error(t, err)
}
