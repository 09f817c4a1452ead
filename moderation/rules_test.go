package moderation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_OverridesDefaults(t *testing.T) {
	rules, err := ParseRules([]byte(`
keywords:
  - "ama "
  - pinned
max_upvotes: 250
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"ama ", "pinned"}, rules.Keywords)
	assert.Equal(t, 250, rules.MaxUpvotes)
	assert.Equal(t, DefaultRules().TitleTags, rules.TitleTags)
	assert.Equal(t, 3, rules.MinComments)
}

func TestParseRules_Empty(t *testing.T) {
	rules, err := ParseRules(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "negative upvotes", data: "max_upvotes: -1", wantErr: ErrNegativeUpvotes},
		{name: "negative comments", data: "min_comments: -1", wantErr: ErrNegativeComments},
		{name: "empty keyword", data: "keywords: [\"\"]", wantErr: ErrEmptyMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	_, err := ParseRules([]byte("keywords: [unterminated"))
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title_tags: [\"[psa]\"]\n"), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"[psa]"}, rules.TitleTags)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
