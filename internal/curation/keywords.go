package curation

import (
	"strings"

	"github.com/sells-group/trend-curator/internal/model"
)

// fallbackKeyword is searched when neither the config nor the profile name any terms.
const fallbackKeyword = "trending"

// Keywords picks the search terms for a run: the config's override, else the
// profile keywords, else niche and sub-niche, else a generic term.
func Keywords(cfg *model.ScanConfig, profile model.ProjectProfile) []string {
	if kw := cleanTerms(cfg.CustomKeywords); len(kw) > 0 {
		return kw
	}
	if kw := cleanTerms(profile.Keywords); len(kw) > 0 {
		return kw
	}
	if kw := cleanTerms([]string{profile.Niche, profile.SubNiche}); len(kw) > 0 {
		return kw
	}
	return []string{fallbackKeyword}
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
