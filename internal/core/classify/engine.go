// Package classify maps free-text study descriptions to normalized exam
// categories and RVU weights. The engine is pure and stateless: identical
// inputs always produce identical results, and it is safe for unlimited
// concurrent use. The weight table is the source of truth for valid
// categories; nothing outside it is ever returned.
package classify

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/pacsight/rvutrack/internal/core/domain"
)

// Stage identifies which cascade step produced a match.
type Stage string

const (
	StageRule    Stage = "rule"
	StageExact   Stage = "exact"
	StageKeyword Stage = "keyword"
	StagePrefix  Stage = "prefix"
	StagePartial Stage = "partial"
	StageNone    Stage = "none"
)

// Match is a resolved classification with its provenance.
type Match struct {
	Category string
	RVU      float64
	Stage    Stage
}

// Classify resolves a description against the rule set. It is total:
// malformed input degrades to (Unknown, 0), never an error.
func Classify(description string, rs domain.RuleSet) (string, float64) {
	m := Evaluate(description, rs)
	return m.Category, m.RVU
}

// Evaluate runs the ordered cascade and reports which stage matched.
// Stages, first match wins: declared rules, exact table key, fixed keyword
// list (longest first), modality prefix, bidirectional partial match.
func Evaluate(description string, rs domain.RuleSet) Match {
	desc := normalize(description)
	if desc == "" {
		return unknown()
	}
	if !rs.HasWeights() {
		// Caller-configuration fault, not a runtime fault.
		slog.Error("classification requested with empty weight table", "rules_version", rs.Version)
		return unknown()
	}

	if m, ok := matchRules(desc, rs); ok {
		return m
	}
	if m, ok := matchExact(desc, rs); ok {
		return m
	}
	if m, ok := matchKeyword(desc, rs); ok {
		return m
	}
	if m, ok := matchPrefix(desc, rs); ok {
		return m
	}
	if m, ok := matchPartial(desc, rs); ok {
		return m
	}
	return unknown()
}

func unknown() Match {
	return Match{Category: domain.CategoryUnknown, RVU: 0, Stage: StageNone}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// matchRules walks the declared rules in table order. A condition matches
// when it is not excluded, all required keywords are present (vacuously
// true if none) and at least one any-of keyword is present (vacuously true
// if none). A matched condition whose category is missing from the weight
// table abandons the whole rule; remaining conditions of that rule are not
// retried.
func matchRules(desc string, rs domain.RuleSet) (Match, bool) {
	for _, rule := range rs.Rules {
		for _, cond := range rule.Conditions {
			if conditionExcluded(rule.Category, cond, desc) {
				continue
			}
			if !containsAll(desc, cond.Required) {
				continue
			}
			if len(cond.AnyOf) > 0 && !containsAny(desc, cond.AnyOf) {
				continue
			}
			rvu, ok := rs.Weight(rule.Category)
			if !ok {
				break
			}
			return Match{Category: rule.Category, RVU: rvu, Stage: StageRule}, true
		}
	}
	return Match{}, false
}

// conditionExcluded applies the ANY-excluded-keyword veto, except for the
// one category whose exclusions only count when all of them appear.
func conditionExcluded(category string, cond domain.RuleCondition, desc string) bool {
	if len(cond.Excluded) == 0 {
		return false
	}
	if category == exhaustiveExclusionCategory {
		return containsAll(desc, cond.Excluded)
	}
	return containsAny(desc, cond.Excluded)
}

func matchExact(desc string, rs domain.RuleSet) (Match, bool) {
	for _, key := range sortedCategories(rs) {
		if strings.EqualFold(desc, key) {
			return Match{Category: key, RVU: rs.Weights[key], Stage: StageExact}, true
		}
	}
	return Match{}, false
}

func matchKeyword(desc string, rs domain.RuleSet) (Match, bool) {
	for _, entry := range keywordTable {
		if !strings.Contains(desc, entry.keyword) {
			continue
		}
		if rvu, ok := rs.Weight(entry.category); ok {
			return Match{Category: entry.category, RVU: rvu, Stage: StageKeyword}, true
		}
	}
	return Match{}, false
}

func matchPrefix(desc string, rs domain.RuleSet) (Match, bool) {
	if strings.HasPrefix(desc, angioPrefix) {
		if rvu, ok := rs.Weight(angioPrefixCategory); ok {
			return Match{Category: angioPrefixCategory, RVU: rvu, Stage: StagePrefix}, true
		}
	}
	if len(desc) >= 2 {
		if category, ok := modalityPrefixes[desc[:2]]; ok {
			if rvu, ok := rs.Weight(category); ok {
				return Match{Category: category, RVU: rvu, Stage: StagePrefix}, true
			}
		}
	}
	return Match{}, false
}

// matchPartial scans every weight-table entry for substring containment in
// either direction and scores candidates by category-name length, so the
// most specific name wins. Non-"Other" candidates beat "Other"-suffixed
// ones regardless of score; the conjunctive category trails everything.
func matchPartial(desc string, rs domain.RuleSet) (Match, bool) {
	var best, bestOther Match
	var lastResort Match
	var haveBest, haveOther, haveLastResort bool

	for _, key := range sortedCategories(rs) {
		lowerKey := strings.ToLower(key)

		if key == conjunctiveCategory {
			if strings.Contains(desc, conjunctiveMarkers[0]) && strings.Contains(desc, conjunctiveMarkers[1]) {
				lastResort = Match{Category: key, RVU: rs.Weights[key], Stage: StagePartial}
				haveLastResort = true
			}
			continue
		}
		if !strings.Contains(desc, lowerKey) && !strings.Contains(lowerKey, desc) {
			continue
		}
		if key == indicatorCategory && !containsAny(desc, plainFilmIndicators) {
			continue
		}

		candidate := Match{Category: key, RVU: rs.Weights[key], Stage: StagePartial}
		if strings.HasSuffix(key, " Other") {
			if !haveOther || len(key) > len(bestOther.Category) {
				bestOther = candidate
				haveOther = true
			}
			continue
		}
		if !haveBest || len(key) > len(best.Category) {
			best = candidate
			haveBest = true
		}
	}

	switch {
	case haveBest:
		return best, true
	case haveOther:
		return bestOther, true
	case haveLastResort:
		return lastResort, true
	}
	return Match{}, false
}

// sortedCategories keeps table scans deterministic across map orderings.
func sortedCategories(rs domain.RuleSet) []string {
	keys := make([]string, 0, len(rs.Weights))
	for key := range rs.Weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func containsAll(desc string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(desc, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

func containsAny(desc string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(desc, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
