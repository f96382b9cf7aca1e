package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims quotes and bearer prefix", `"Bearer nb-abc123"`, "nb-abc123"},
		{"strips escaped and real control characters", "nb-abc\\n123\r\n\t", "nb-abc123"},
		{"strips hidden unicode characters", "nb-\u200babc\ufeff123", "nb-abc123"},
		{"empty input", "   ", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalizeAPIKey(tt.in))
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "<unset>", maskAPIKey(""))
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "****cdef", maskAPIKey("nb-0123456789abcdef"))
}
