package moderation

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule validation errors.
var (
	ErrNegativeUpvotes  = errors.New("max_upvotes must be non-negative")
	ErrNegativeComments = errors.New("min_comments must be non-negative")
	ErrEmptyMarker      = errors.New("rule entries must not be empty")
)

// Rules tunable inputs of the moderation filter. Matching is case-insensitive
// and substring based; whitespace inside entries is significant ("mod " only
// matches when followed by a space).
type Rules struct {
	// TitleTags bracketed prefixes that mark a post as official
	TitleTags []string `yaml:"title_tags"`
	// Keywords searched for in the lower-cased title and body
	Keywords []string `yaml:"keywords"`
	// FlairMarkers searched for in the author flair text and flair class
	FlairMarkers []string `yaml:"flair_markers"`
	// MaxUpvotes posts scoring above this ...
	MaxUpvotes int `yaml:"max_upvotes"`
	// MinComments ... with fewer comments than this look like announcements
	MinComments int `yaml:"min_comments"`
}

// DefaultRules returns the built-in moderator heuristics.
func DefaultRules() Rules {
	return Rules{
		TitleTags: []string{"[mod]", "[meta]", "[announcement]"},
		Keywords: []string{
			"moderator", "mod ", "mods ", "modding", "moderation",
			"rules", "rule", "announcement", "official", "meta",
			"welcome", "introduction", "guideline", "reminder", "update",
		},
		FlairMarkers: []string{"mod", "moderator"},
		MaxUpvotes:   100,
		MinComments:  3,
	}
}

// LoadRules reads a YAML rules file. Keys missing from the file keep their
// built-in values.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules over DefaultRules and validates the result.
func ParseRules(data []byte) (Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks thresholds and entries.
func (r Rules) Validate() error {
	if r.MaxUpvotes < 0 {
		return ErrNegativeUpvotes
	}
	if r.MinComments < 0 {
		return ErrNegativeComments
	}
	for name, list := range map[string][]string{
		"title_tags":    r.TitleTags,
		"keywords":      r.Keywords,
		"flair_markers": r.FlairMarkers,
	} {
		for i, v := range list {
			if v == "" {
				return fmt.Errorf("%w: %s[%d]", ErrEmptyMarker, name, i)
			}
		}
	}
	return nil
}

// normalized lower-cases every entry once so Classify does not have to.
func (r Rules) normalized() Rules {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, v := range in {
			out[i] = strings.ToLower(v)
		}
		return out
	}
	return Rules{
		TitleTags:    lower(r.TitleTags),
		Keywords:     lower(r.Keywords),
		FlairMarkers: lower(r.FlairMarkers),
		MaxUpvotes:   r.MaxUpvotes,
		MinComments:  r.MinComments,
	}
}
