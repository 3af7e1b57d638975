package common

import (
	"fmt"
	"regexp"
	"strings"
)

// CompileRulePattern compiles a stored rule pattern. Patterns match
// case-insensitively unless they already carry their own flags.
func CompileRulePattern(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidInput)
	}
	if !strings.HasPrefix(pattern, "(?") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return re, nil
}
