package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/tally/internal/model"
)

var (
	errEmptyResponse   = errors.New("empty response")
	errUnknownCategory = errors.New("unknown category")
)

// cleanMarkdownWrapper strips ``` fences and any prose around the JSON object.
func cleanMarkdownWrapper(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

type classificationJSON struct {
	CategoryID    string   `json:"category_id"`
	Justification string   `json:"justification"`
	Confidence    *float64 `json:"confidence"`
}

// parseClassification decodes a provider response and validates the category
// against the allowed set.
func parseClassification(content string, allowed model.CategoryIndex) (Suggestion, error) {
	content = cleanMarkdownWrapper(content)
	if content == "" {
		return Suggestion{}, errEmptyResponse
	}

	var out classificationJSON
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Suggestion{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	id := strings.TrimSpace(out.CategoryID)
	cat, ok := allowed[id]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %q", errUnknownCategory, id)
	}

	conf := 0.0
	if out.Confidence != nil && !math.IsNaN(*out.Confidence) {
		conf = *out.Confidence
	}

	return Suggestion{
		CategoryID:    cat.ID,
		CategoryName:  cat.Name,
		Confidence:    conf,
		Justification: strings.TrimSpace(out.Justification),
	}, nil
}
