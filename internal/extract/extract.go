// Package extract pulls the Ozon card price out of heterogeneous response
// shapes: the entrypoint API JSON blob, HTML-entity-escaped fragments, nested
// widgetStates whose values are themselves JSON strings, and rendered product
// pages. Strategies are tried in order and the first valid candidate wins.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Price is a successfully extracted candidate and the strategy that found it.
type Price struct {
	Value  string
	Source string
}

// maxPriceLen guards against matching unrelated prose.
const maxPriceLen = 30

// maxWalkDepth bounds the recursive object search.
const maxWalkDepth = 5

// The exact pattern anchors on the field terminator to avoid partial matches.
var exactCardPrice = regexp.MustCompile(`"cardPrice"\s*:\s*"([^"]+)"\s*(?:,|})`)

// Looser variants, tried in order after the exact anchor fails.
var loosePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{"isAvailable":true,"cardPrice":"([^"]+)"`),
	regexp.MustCompile(`"cardPrice"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`cardPrice&quot;:&quot;([^&]+)&quot;`),
	regexp.MustCompile(`cardPrice[^:]*:\s*["']([^"']+)["']`),
	regexp.MustCompile(`ozonCardPrice[^:]*:\s*["']([^"']+)["']`),
	regexp.MustCompile(`"ozonCardPrice":"([^"]+)"`),
}

// Last resort when the body is not parsable JSON at all.
var scanPattern = regexp.MustCompile(`(?i)cardPrice[^:]*:\s*["']([^"']+)["']`)

// Strategy is one extraction attempt over raw text.
type Strategy struct {
	Name    string
	Extract func(raw string) (string, bool)
}

// Strategies is the ordered chain applied to API-mode responses.
var Strategies = []Strategy{
	{Name: "exact_regex", Extract: exactRegex},
	{Name: "loose_regex", Extract: looseRegex},
	{Name: "json_walk", Extract: jsonWalk},
	{Name: "regex_scan", Extract: regexScan},
}

// CardPrice runs the strategy chain and returns the first valid candidate.
func CardPrice(raw string) (Price, bool) {
	if raw == "" {
		return Price{}, false
	}
	for _, s := range Strategies {
		if v, ok := s.Extract(raw); ok {
			return Price{Value: v, Source: s.Name}, true
		}
	}
	return Price{}, false
}

// IsValidPrice accepts a candidate only if it carries the currency symbol,
// at least one digit, and stays under the length guard. Pure predicate.
func IsValidPrice(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "₽") {
		return false
	}
	if !strings.ContainsAny(s, "0123456789") {
		return false
	}
	if utf8.RuneCountInString(s) >= maxPriceLen {
		return false
	}
	return true
}

func exactRegex(raw string) (string, bool) {
	if m := exactCardPrice.FindStringSubmatch(raw); m != nil {
		v := strings.TrimSpace(m[1])
		if IsValidPrice(v) {
			return v, true
		}
	}
	return "", false
}

func looseRegex(raw string) (string, bool) {
	for _, p := range loosePatterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			v := strings.TrimSpace(m[1])
			if IsValidPrice(v) {
				return v, true
			}
		}
	}
	return "", false
}

// jsonWalk parses the whole body and searches nested objects for the price
// fields. widgetStates values are JSON strings themselves and are re-parsed
// before descending.
func jsonWalk(raw string) (string, bool) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", false
	}
	v := findCardPrice(doc, 0)
	if v != "" && IsValidPrice(v) {
		return v, true
	}
	return "", false
}

func findCardPrice(node any, depth int) string {
	if depth > maxWalkDepth {
		return ""
	}

	switch n := node.(type) {
	case map[string]any:
		if v, ok := n["cardPrice"].(string); ok && v != "" {
			return v
		}
		if v, ok := n["ozonCardPrice"].(string); ok && v != "" {
			return v
		}

		if states, ok := n["widgetStates"].(map[string]any); ok {
			for _, sv := range states {
				switch state := sv.(type) {
				case string:
					var inner any
					if err := json.Unmarshal([]byte(state), &inner); err == nil {
						if v := findCardPrice(inner, depth+1); v != "" {
							return v
						}
					}
				default:
					if v := findCardPrice(state, depth+1); v != "" {
						return v
					}
				}
			}
		}

		for k, sv := range n {
			if k == "widgetStates" {
				continue
			}
			if v := findCardPrice(sv, depth+1); v != "" {
				return v
			}
		}
	case []any:
		for _, el := range n {
			if v := findCardPrice(el, depth+1); v != "" {
				return v
			}
		}
	}
	return ""
}

func regexScan(raw string) (string, bool) {
	// only reached when the body defeated JSON parsing outright
	if json.Valid([]byte(raw)) {
		return "", false
	}
	for _, m := range scanPattern.FindAllStringSubmatch(raw, -1) {
		v := strings.TrimSpace(m[1])
		if IsValidPrice(v) {
			return v, true
		}
	}
	return "", false
}
