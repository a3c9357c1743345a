package utils_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/SscSPs/bearer_gate/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	tok, err := utils.GenerateSecureToken(32)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(tok, utils.TokenPrefix))
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(tok, utils.TokenPrefix))
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := utils.GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestTruncateToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "short value is fully hidden", in: "abc", want: "..."},
		{name: "long value keeps prefix", in: "bgt_abcdefghijklmnop", want: "bgt_abcd..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, utils.TruncateToken(tt.in))
		})
	}
}
