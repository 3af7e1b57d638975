package storage

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

//go:embed default_seed.yaml
var defaultSeed []byte

// Seed is the YAML document describing the system taxonomy and rules.
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
	Rules      []SeedRule     `yaml:"rules"`
}

// SeedCategory is one system category.
type SeedCategory struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Color string `yaml:"color"`
	Icon  string `yaml:"icon"`
}

// SeedRule is one system rule. MatchType and Field default to contains/description.
type SeedRule struct {
	Keyword         string   `yaml:"keyword"`
	MatchType       string   `yaml:"match_type"`
	Field           string   `yaml:"field"`
	TransactionType string   `yaml:"transaction_type"`
	Category        string   `yaml:"category"`
	Description     string   `yaml:"description"`
	Confidence      *float64 `yaml:"confidence"`
	Priority        int      `yaml:"priority"`
	AutoApprove     bool     `yaml:"auto_approve"`
}

// SeedResult reports what ApplySeed wrote.
type SeedResult struct {
	CategoriesCreated int
	RulesCreated      int
}

// DefaultSeed returns the built-in system taxonomy.
func DefaultSeed() (*Seed, error) {
	return LoadSeed(bytes.NewReader(defaultSeed))
}

// LoadSeed parses a seed document.
func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// ApplySeed creates missing system categories and rules. Running it twice is a no-op.
func ApplySeed(ctx context.Context, store service.Storage, seed *Seed) (SeedResult, error) {
	var result SeedResult

	for _, sc := range seed.Categories {
		cat := &model.Category{
			ID:    sc.ID,
			Name:  sc.Name,
			Type:  model.CategoryType(strings.ToLower(sc.Type)),
			Color: sc.Color,
			Icon:  sc.Icon,
		}
		err := store.CreateCategory(ctx, cat)
		switch {
		case errors.Is(err, common.ErrDuplicateEntry):
			continue
		case err != nil:
			return result, fmt.Errorf("failed to seed category %q: %w", sc.ID, err)
		}
		result.CategoriesCreated++
	}

	// An empty user sees only system rules.
	existing, err := store.ListRules(ctx, model.Scope{}, true)
	if err != nil {
		return result, fmt.Errorf("failed to list system rules: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		if r.IsSystem() {
			seen[keywordKey(r.Keyword)+"|"+r.CategoryID] = true
		}
	}

	for _, sr := range seed.Rules {
		rule, err := sr.toRule()
		if err != nil {
			return result, err
		}
		key := keywordKey(rule.Keyword) + "|" + rule.CategoryID
		if seen[key] {
			continue
		}
		if err := store.CreateRule(ctx, rule); err != nil {
			return result, fmt.Errorf("failed to seed rule %q: %w", sr.Keyword, err)
		}
		seen[key] = true
		result.RulesCreated++
	}

	slog.Info("Applied seed",
		"categories_created", result.CategoriesCreated,
		"rules_created", result.RulesCreated)
	return result, nil
}

func (sr SeedRule) toRule() (*model.CategorizationRule, error) {
	rule := &model.CategorizationRule{
		Keyword:      sr.Keyword,
		MatchType:    model.MatchType(strings.ToLower(sr.MatchType)),
		PatternField: model.PatternField(strings.ToLower(sr.Field)),
		CategoryID:   sr.Category,
		Confidence:   1.0,
		AutoApprove:  sr.AutoApprove,
		Priority:     sr.Priority,
		Source:       model.RuleSourceSystem,
		IsActive:     true,
		Description:  sr.Description,
	}
	if rule.MatchType == "" {
		rule.MatchType = model.MatchContains
	}
	if rule.PatternField == "" {
		rule.PatternField = model.FieldDescription
	}
	if sr.Confidence != nil {
		rule.Confidence = *sr.Confidence
	}
	if sr.TransactionType != "" {
		tt, ok := model.ParseTransactionType(sr.TransactionType)
		if !ok {
			return nil, fmt.Errorf("%w: seed rule %q transaction type %q", ErrInvalidRule, sr.Keyword, sr.TransactionType)
		}
		rule.TransactionType = &tt
	}
	return rule, nil
}
