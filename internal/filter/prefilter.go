// Package filter implements the candidate filter chain: a free metadata
// prefilter, batched text relevance scoring and targeted vision analysis.
package filter

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"

	"github.com/sells-group/trend-curator/internal/model"
)

// Rejection records why the prefilter dropped a candidate.
type Rejection struct {
	Video model.VideoCandidate
	Term  string
}

// Prefilter rejects candidates whose description or hashtags contain an
// exclude term or anti-keyword. Matching is case-insensitive substring
// matching over Unicode case-folded text.
type Prefilter struct {
	terms   []string
	matcher *ahocorasick.Matcher
}

// NewPrefilter builds a matcher over the profile's exclude terms and
// anti-keywords. Blank and duplicate terms are ignored.
func NewPrefilter(profile model.ProjectProfile) *Prefilter {
	seen := make(map[string]bool)
	var terms []string
	for _, raw := range append(append([]string{}, profile.Exclude...), profile.AntiKeywords...) {
		term := fold(strings.TrimSpace(raw))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}

	p := &Prefilter{terms: terms}
	if len(terms) > 0 {
		p.matcher = ahocorasick.NewStringMatcher(terms)
	}
	return p
}

// Terms returns the folded terms the prefilter matches.
func (p *Prefilter) Terms() []string {
	return p.terms
}

// Match returns the first exclude term found in the candidate's text.
func (p *Prefilter) Match(v *model.VideoCandidate) (string, bool) {
	if p.matcher == nil {
		return "", false
	}
	hits := p.matcher.Match([]byte(candidateText(v)))
	if len(hits) == 0 {
		return "", false
	}
	first := hits[0]
	for _, h := range hits[1:] {
		if h < first {
			first = h
		}
	}
	return p.terms[first], true
}

// Apply partitions candidates into passed and rejected, preserving order.
func (p *Prefilter) Apply(videos []model.VideoCandidate) ([]model.VideoCandidate, []Rejection) {
	passed := make([]model.VideoCandidate, 0, len(videos))
	var rejected []Rejection
	for i := range videos {
		if term, ok := p.Match(&videos[i]); ok {
			rejected = append(rejected, Rejection{Video: videos[i], Term: term})
			continue
		}
		passed = append(passed, videos[i])
	}
	return passed, rejected
}

func candidateText(v *model.VideoCandidate) string {
	var b strings.Builder
	b.WriteString(v.Description)
	for _, h := range v.Hashtags {
		b.WriteByte(' ')
		b.WriteString(h)
	}
	return fold(b.String())
}

func fold(s string) string {
	return cases.Fold().String(s)
}
