// Package moderation decides whether a post is genuine user content (signal)
// or moderator / announcement content (noise).
package moderation

import (
	"strings"
	"sync/atomic"

	"mindpulse/models"
)

// Verdict outcome of classifying one post
type Verdict int

const (
	Signal Verdict = iota
	Noise
)

func (v Verdict) String() string {
	if v == Noise {
		return "noise"
	}
	return "signal"
}

// Reason names the heuristic that marked a post as noise.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonModeratorFlag Reason = "moderator_flag"
	ReasonRoster        Reason = "moderator_roster"
	ReasonFlair         Reason = "moderator_flair"
	ReasonDistinguished Reason = "distinguished"
	ReasonStickied      Reason = "stickied"
	ReasonTitleTag      Reason = "title_tag"
	ReasonKeyword       Reason = "keyword"
	ReasonEngagement    Reason = "engagement_ratio"
)

// Decision result of Classify. Match holds the tag or keyword that fired, if any.
type Decision struct {
	Verdict Verdict
	Reason  Reason
	Match   string
}

// IsNoise reports whether the post should be dropped.
func (d Decision) IsNoise() bool {
	return d.Verdict == Noise
}

// Roster answers whether an author moderates a collection. Only available
// while fetching; persisted posts are re-checked without one.
type Roster interface {
	IsModerator(collection, author string) bool
}

// Filter applies the moderation rules. Safe for concurrent use; rules can be
// replaced at runtime with SetRules.
type Filter struct {
	rules atomic.Pointer[Rules]
}

// NewFilter creates a filter using the given rules.
func NewFilter(rules Rules) *Filter {
	f := &Filter{}
	f.SetRules(rules)
	return f
}

// NewDefaultFilter creates a filter with DefaultRules.
func NewDefaultFilter() *Filter {
	return NewFilter(DefaultRules())
}

// SetRules atomically swaps the active rules.
func (f *Filter) SetRules(rules Rules) {
	n := rules.normalized()
	f.rules.Store(&n)
}

// Rules returns a copy of the active rules.
func (f *Filter) Rules() Rules {
	return *f.rules.Load()
}

// Classify evaluates every heuristic against a post. It never panics and
// treats zero values as absent. roster may be nil.
func (f *Filter) Classify(p models.Post, roster Roster) Decision {
	r := f.rules.Load()

	if p.IsModeratorFlagged {
		return noise(ReasonModeratorFlag, "")
	}
	if roster != nil && p.Author != "" && roster.IsModerator(p.CollectionID, p.Author) {
		return noise(ReasonRoster, p.Author)
	}

	flair := strings.ToLower(p.ModeratorFlair)
	flairClass := strings.ToLower(p.FlairClass)
	for _, m := range r.FlairMarkers {
		if strings.Contains(flair, m) || strings.Contains(flairClass, m) {
			return noise(ReasonFlair, m)
		}
	}

	if p.Distinguished != "" {
		return noise(ReasonDistinguished, p.Distinguished)
	}
	if p.Stickied {
		return noise(ReasonStickied, "")
	}

	title := strings.ToLower(p.Title)
	trimmed := strings.TrimLeft(title, " \t")
	for _, tag := range r.TitleTags {
		if strings.HasPrefix(trimmed, tag) {
			return noise(ReasonTitleTag, tag)
		}
	}

	combined := title + "\n" + strings.ToLower(p.Body)
	for _, kw := range r.Keywords {
		if strings.Contains(combined, kw) {
			return noise(ReasonKeyword, kw)
		}
	}

	if p.UpvoteCount > r.MaxUpvotes && p.CommentCount < r.MinComments {
		return noise(ReasonEngagement, "")
	}

	return Decision{Verdict: Signal}
}

// IsNoise is shorthand for Classify(p, roster).IsNoise().
func (f *Filter) IsNoise(p models.Post, roster Roster) bool {
	return f.Classify(p, roster).IsNoise()
}

// Report outcome of filtering a batch
type Report struct {
	Kept    []models.Post
	Removed map[Reason]int
}

// RemovedCount total posts dropped.
func (r Report) RemovedCount() int {
	n := 0
	for _, c := range r.Removed {
		n += c
	}
	return n
}

// Partition splits posts into kept signal posts (input order preserved) and
// per-reason removal counts.
func (f *Filter) Partition(posts []models.Post, roster Roster) Report {
	rep := Report{
		Kept:    make([]models.Post, 0, len(posts)),
		Removed: make(map[Reason]int),
	}
	for _, p := range posts {
		d := f.Classify(p, roster)
		if d.IsNoise() {
			rep.Removed[d.Reason]++
			continue
		}
		rep.Kept = append(rep.Kept, p)
	}
	return rep
}

// Apply returns only the signal posts, in input order.
func (f *Filter) Apply(posts []models.Post, roster Roster) []models.Post {
	return f.Partition(posts, roster).Kept
}

// Repair re-filters persisted posts. No roster is available after
// persistence, so roster membership is not re-checked here.
func (f *Filter) Repair(posts []models.Post) []models.Post {
	return f.Apply(posts, nil)
}

func noise(reason Reason, match string) Decision {
	return Decision{Verdict: Noise, Reason: reason, Match: match}
}
