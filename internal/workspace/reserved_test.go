package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedContains(t *testing.T) {
	r := Reserved{"db_config.php", "vibe.php", "vendor/**", "**/*.sqlite", "*.env", " "}

	tests := []struct {
		path string
		want bool
	}{
		{"db_config.php", true},
		{"./db_config.php", true},
		{"/vibe.php", true},
		{"lib/db_config.php", false},
		{"index.php", false},
		{"vendor/autoload.php", true},
		{"vendor/a/b/c.php", true},
		{"vendors/x.php", false},
		{"data/app.sqlite", true},
		{"app.sqlite", true},
		{"config/env", false},
		{"prod.env", true},
		{"conf/prod.env", true},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, r.Contains(tc.path), tc.path)
	}
}

func TestReservedMatchReportsEntry(t *testing.T) {
	r := Reserved{"vibe.php", "vendor/**"}

	entry, ok := r.Match("vendor/pkg/x.php")

	assert.True(t, ok)
	assert.Equal(t, "vendor/**", entry)
}

func TestReservedFilter(t *testing.T) {
	files := []File{NewFile("index.php", ""), NewFile("vibe.php", ""), NewFile("vendor/a.php", "")}

	out := Reserved{"vibe.php", "vendor/**"}.Filter(files)

	assert.Equal(t, []File{NewFile("index.php", "")}, out)
	assert.Len(t, files, 3)
}
