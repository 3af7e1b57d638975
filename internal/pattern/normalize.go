package pattern

import (
	"regexp"
	"strings"
)

// cardPrefixes are processor boilerplate that precede the merchant on
// card statements.
var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"CARD PURCHASE ",
	"ACH DEBIT ",
	"ACH CREDIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"CONTACTLESS ",
	"CARD PAYMENT TO ",
	"DIRECT DEBIT ",
}

// locationCodes are trailing country and region markers.
var locationCodes = map[string]struct{}{
	"GB": {}, "UK": {}, "US": {}, "USA": {}, "IE": {}, "FR": {}, "DE": {},
	"NL": {}, "ES": {}, "IT": {}, "CA": {}, "AU": {}, "NY": {}, "GBR": {},
}

// genericWords never make useful rule keywords.
var genericWords = map[string]struct{}{
	"CARD": {}, "PAYMENT": {}, "PURCHASE": {}, "DEBIT": {}, "CREDIT": {},
	"TRANSFER": {}, "DIRECT": {}, "BANK": {}, "ONLINE": {}, "STORE": {},
	"STORES": {}, "VISA": {}, "CONTACTLESS": {}, "FROM": {}, "WITH": {},
}

var (
	refPattern       = regexp.MustCompile(`\b(?:REF|REFERENCE|TXN|AUTH)\b[:.#]?\s*\S*`)
	hashPattern      = regexp.MustCompile(`#\s*\S*`)
	starRefPattern   = regexp.MustCompile(`\*[A-Z0-9]*[0-9][A-Z0-9]*`)
	numericDate      = regexp.MustCompile(`\b\d{1,4}[/.-]\d{1,2}(?:[/.-]\d{1,4})?\b`)
	monthDate        = regexp.MustCompile(`\b\d{1,2}(?:JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)\d{0,4}\b`)
	longDigits       = regexp.MustCompile(`\d{4,}`)
	pureDigits       = regexp.MustCompile(`^\d+$`)
	keywordCandidate = regexp.MustCompile(`^[A-Z]{4,}$`)
	edgePunct        = "*-.,:;/"
)

// Normalize reduces transaction text to a stable form for repetition
// detection. Reference numbers, dates, card boilerplate and trailing store or
// location codes are removed and the result is uppercase with single spaces.
func Normalize(text string) string {
	s := strings.Join(strings.Fields(strings.ToUpper(text)), " ")

	for _, prefix := range cardPrefixes {
		s = strings.TrimPrefix(s, prefix)
	}

	s = refPattern.ReplaceAllString(s, " ")
	s = hashPattern.ReplaceAllString(s, " ")
	s = starRefPattern.ReplaceAllString(s, " ")
	s = monthDate.ReplaceAllString(s, " ")
	s = numericDate.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "*", " ")

	tokens := make([]string, 0, 8)
	for _, tok := range strings.Fields(s) {
		tok = strings.Trim(tok, edgePunct)
		if tok == "" || longDigits.MatchString(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}

	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if _, ok := locationCodes[last]; ok || pureDigits.MatchString(last) {
			tokens = tokens[:len(tokens)-1]
			continue
		}
		break
	}

	return strings.Join(tokens, " ")
}

// Prefix returns the first two tokens of normalized text.
func Prefix(normalized string) string {
	tokens := strings.Fields(normalized)
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	return strings.Join(tokens, " ")
}

// ExtractKeyword picks the keyword a learned rule should match on, from the
// raw description and merchant name. In order of preference: the leading run
// of the normalized merchant that appears verbatim in the merchant name, the
// first distinctive word of at least four letters in the description, or the
// leading verbatim run of the normalized description. Because references and
// store codes can sit between merchant words, a keyword never spans a removed
// token. The result is lowercase and a substring of the folded raw text.
func ExtractKeyword(description, merchant string) string {
	if kw := verbatimRun(Normalize(merchant), merchant); kw != "" {
		return kw
	}

	normalized := Normalize(description)
	for _, tok := range strings.Fields(normalized) {
		if !keywordCandidate.MatchString(tok) {
			continue
		}
		if _, generic := genericWords[tok]; generic {
			continue
		}
		return strings.ToLower(tok)
	}

	if kw := verbatimRun(normalized, description); kw != "" {
		return kw
	}
	return foldSpace(description)
}

// verbatimRun returns the longest leading run of normalized tokens that
// occurs contiguously in raw, lowercased.
func verbatimRun(normalized, raw string) string {
	tokens := strings.Fields(strings.ToLower(normalized))
	folded := foldSpace(raw)
	for n := len(tokens); n > 0; n-- {
		run := strings.Join(tokens[:n], " ")
		if strings.Contains(folded, run) {
			return run
		}
	}
	return ""
}
