// Package pattern implements deterministic rule matching and the text
// normalization shared by the heuristic layers.
package pattern

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

type Rule = model.CategorizationRule

// Matcher evaluates transactions against a fixed rule set. It is safe for
// concurrent use once built.
type Matcher struct {
	compiledRegex map[int64]*regexp.Regexp
	categories    model.CategoryIndex
	rules         []Rule
}

// NewMatcher creates a matcher over rules. Categories, when given, enable the
// direction compatibility check. Regex rules that fail to compile are logged
// and never match.
func NewMatcher(rules []Rule, categories []model.Category) *Matcher {
	m := &Matcher{
		rules:         make([]Rule, 0, len(rules)),
		compiledRegex: make(map[int64]*regexp.Regexp),
		categories:    model.IndexCategories(categories),
	}

	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.MatchType == model.MatchRegex {
			re, err := common.CompileRulePattern(rule.Keyword)
			if err != nil {
				slog.Warn("Invalid regex in rule, skipping",
					"rule_id", rule.ID,
					"pattern", rule.Keyword,
					"error", err)
				continue
			}
			m.compiledRegex[rule.ID] = re
		}
		m.rules = append(m.rules, rule)
	}

	sortRules(m.rules)
	return m
}

// Match returns the best rule for txn within scope, or nil.
func (m *Matcher) Match(txn model.Transaction, scope model.Scope) *Rule {
	for i := range m.rules {
		if m.matchesRule(txn, scope, m.rules[i]) {
			rule := m.rules[i]
			return &rule
		}
	}
	return nil
}

// MatchAll returns every matching rule, best first.
func (m *Matcher) MatchAll(txn model.Transaction, scope model.Scope) []Rule {
	var matches []Rule
	for _, rule := range m.rules {
		if m.matchesRule(txn, scope, rule) {
			matches = append(matches, rule)
		}
	}
	return matches
}

// Len reports how many usable rules the matcher holds.
func (m *Matcher) Len() int {
	return len(m.rules)
}

func (m *Matcher) matchesRule(txn model.Transaction, scope model.Scope, rule Rule) bool {
	if rule.TransactionType != nil && *rule.TransactionType != txn.Type {
		return false
	}

	if rule.UserID != nil && *rule.UserID != scope.UserID {
		return false
	}

	if rule.EntityID != nil {
		entity := effectiveEntity(txn, scope)
		if entity == nil || *entity != *rule.EntityID {
			return false
		}
	}

	if cat, ok := m.categories[rule.CategoryID]; ok && !DirectionCompatible(txn.Type, cat.Type) {
		return false
	}

	for _, text := range fieldTexts(rule.PatternField, txn) {
		if m.matchesText(rule, text) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchesText(rule Rule, text string) bool {
	switch rule.MatchType {
	case model.MatchRegex:
		re, ok := m.compiledRegex[rule.ID]
		return ok && re.MatchString(text)
	case model.MatchExact:
		return foldSpace(text) == foldSpace(rule.Keyword)
	case model.MatchContains:
		kw := foldSpace(rule.Keyword)
		return kw != "" && strings.Contains(foldSpace(text), kw)
	case model.MatchStartsWith:
		kw := foldSpace(rule.Keyword)
		return kw != "" && strings.HasPrefix(foldSpace(text), kw)
	}
	return false
}

// fieldTexts returns the non-empty transaction texts a rule inspects.
func fieldTexts(field model.PatternField, txn model.Transaction) []string {
	var texts []string
	if field != model.FieldMerchant && txn.Description != "" {
		texts = append(texts, txn.Description)
	}
	if field != model.FieldDescription && txn.MerchantName != "" {
		texts = append(texts, txn.MerchantName)
	}
	return texts
}

func effectiveEntity(txn model.Transaction, scope model.Scope) *string {
	if scope.EntityID != nil {
		return scope.EntityID
	}
	return txn.EntityID
}

// foldSpace lowercases s and collapses runs of whitespace.
func foldSpace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Less reports whether a outranks b: priority desc, usage desc, then oldest
// creation and lowest ID.
func Less(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.UsageCount != b.UsageCount {
		return a.UsageCount > b.UsageCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return Less(rules[i], rules[j])
	})
}
