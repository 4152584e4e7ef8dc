package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	key, lookupID, secret, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, KeyPrefix+"_"))
	assert.Len(t, lookupID, 12)
	assert.Len(t, secret, 48)
	assert.Equal(t, "wgl_"+lookupID+"_"+secret, key)
	parsedLookup, parsedSecret, ok := ParseAPIKey(key)
	require.True(t, ok)
	assert.Equal(t, lookupID, parsedLookup)
	assert.Equal(t, secret, parsedSecret)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k, _, _, err := GenerateAPIKey()
		require.NoError(t, err)
		assert.False(t, seen[k], "duplicate key generated")
		seen[k] = true
	}
}

func TestParseAPIKey(t *testing.T) {
	valid := "wgl_0123456789ab_" + strings.Repeat("f", 48)

	tests := []struct {
		name   string
		key    string
		ok     bool
		lookup string
	}{
		{name: "valid", key: valid, ok: true, lookup: "0123456789ab"},
		{name: "surrounding whitespace", key: "  " + valid + "\n", ok: true, lookup: "0123456789ab"},
		{name: "empty", key: "", ok: false},
		{name: "wrong prefix", key: "abc_0123456789ab_" + strings.Repeat("f", 48), ok: false},
		{name: "short secret", key: "wgl_0123456789ab_" + strings.Repeat("f", 47), ok: false},
		{name: "uppercase hex", key: "wgl_0123456789AB_" + strings.Repeat("f", 48), ok: false},
		{name: "legacy hex key", key: strings.Repeat("a", 64), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup, secret, ok := ParseAPIKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.lookup, lookup)
				assert.Len(t, secret, 48)
			}
		})
	}
}

func BenchmarkGenerateAPIKey(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _, _, _ = GenerateAPIKey()
	}
}
