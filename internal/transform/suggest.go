package transform

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/rowjay/restorekit/internal/meta"
)

// Suggestion proposes a mapping from a source value or id to a target one.
type Suggestion struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

const (
	picklistThreshold   = 0.6
	recordTypeThreshold = 0.5
	userThreshold       = 0.7
)

func similarity(a, b string) float64 {
	return levenshtein.Similarity(strings.ToLower(a), strings.ToLower(b), nil)
}

// SuggestPicklistMappings pairs source values missing from the target with
// their closest target value.
func SuggestPicklistMappings(source, target []string) []Suggestion {
	var out []Suggestion
	for _, s := range source {
		if s == "" || contains(target, s) {
			continue
		}
		best, score, reason := "", 0.0, ""
		for _, t := range target {
			if strings.EqualFold(s, t) {
				best, score, reason = t, 1, "case-insensitive match"
				break
			}
			if sc := similarity(s, t); sc > score {
				best, score, reason = t, sc, "similar value"
			}
		}
		if best != "" && score >= picklistThreshold {
			out = append(out, Suggestion{Source: s, Target: best, Score: score, Reason: reason})
		}
	}
	return sortSuggestions(out)
}

// SuggestRecordTypeMappings pairs source record types with target ones by
// developer name, then label, then similarity.
func SuggestRecordTypeMappings(source, target []meta.RecordTypeInfo) []Suggestion {
	var out []Suggestion
	for _, s := range source {
		var match *Suggestion
		for _, t := range target {
			switch {
			case s.DeveloperName != "" && s.DeveloperName == t.DeveloperName:
				match = &Suggestion{Source: s.ID, Target: t.ID, Score: 1, Reason: "developer name match"}
			case match == nil && s.Name != "" && s.Name == t.Name:
				match = &Suggestion{Source: s.ID, Target: t.ID, Score: 0.95, Reason: "name match"}
			}
			if match != nil && match.Score == 1 {
				break
			}
		}
		if match == nil {
			best, score := meta.RecordTypeInfo{}, 0.0
			for _, t := range target {
				sc := 0.0
				if s.DeveloperName != "" && t.DeveloperName != "" {
					sc = similarity(s.DeveloperName, t.DeveloperName)
				}
				if s.Name != "" && t.Name != "" {
					sc = max(sc, similarity(s.Name, t.Name))
				}
				if sc > score {
					best, score = t, sc
				}
			}
			if score >= recordTypeThreshold {
				match = &Suggestion{Source: s.ID, Target: best.ID, Score: score, Reason: "similar name"}
			}
		}
		if match != nil && match.Source != match.Target {
			out = append(out, *match)
		}
	}
	return sortSuggestions(out)
}

// Principal identifies a user of the source or target environment.
type Principal struct {
	ID       string
	Username string
	Email    string
	Name     string
}

// SuggestUserMappings pairs source principals with target ones by email,
// then username before the domain, then display name similarity.
func SuggestUserMappings(source, target []Principal) []Suggestion {
	var out []Suggestion
	for _, s := range source {
		var match *Suggestion
		for _, t := range target {
			if s.Email != "" && strings.EqualFold(s.Email, t.Email) {
				match = &Suggestion{Source: s.ID, Target: t.ID, Score: 1, Reason: "email match"}
				break
			}
		}
		if match == nil {
			base := usernameBase(s.Username)
			for _, t := range target {
				if base != "" && strings.EqualFold(base, usernameBase(t.Username)) {
					match = &Suggestion{Source: s.ID, Target: t.ID, Score: 0.9, Reason: "username match"}
					break
				}
			}
		}
		if match == nil {
			best, score := Principal{}, 0.0
			for _, t := range target {
				if sc := similarity(s.Name, t.Name); s.Name != "" && sc > score {
					best, score = t, sc
				}
			}
			if score >= userThreshold {
				match = &Suggestion{Source: s.ID, Target: best.ID, Score: score, Reason: "similar name"}
			}
		}
		if match != nil {
			out = append(out, *match)
		}
	}
	return sortSuggestions(out)
}

// ApplyPicklistSuggestions merges suggestions into an object's picklist mapping for field
// without overriding configured entries.
func (c *ObjectConfig) ApplyPicklistSuggestions(field string, suggestions []Suggestion) {
	if c.PicklistMappings == nil {
		c.PicklistMappings = map[string]map[string]string{}
	}
	if c.PicklistMappings[field] == nil {
		c.PicklistMappings[field] = map[string]string{}
	}
	for _, s := range suggestions {
		if _, ok := c.PicklistMappings[field][s.Source]; !ok {
			c.PicklistMappings[field][s.Source] = s.Target
		}
	}
}

func usernameBase(username string) string {
	if i := strings.Index(username, "@"); i > 0 {
		return username[:i]
	}
	return username
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

func sortSuggestions(s []Suggestion) []Suggestion {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Source < s[j].Source })
	return s
}
