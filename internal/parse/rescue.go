// Package parse rescues machine-parseable JSON out of raw worker output.
// Workers wrap payloads in prose, markdown fences, or truncate mid-object;
// the ladder tries progressively more invasive strategies and records which
// one produced the accepted candidate.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/veridict/veridict/internal/errors"
)

// Strategy names how a candidate payload was obtained.
type Strategy string

const (
	StrategyDirect     Strategy = "direct"     // raw output parsed as-is
	StrategyFenced     Strategy = "fenced"     // extracted from a ``` block
	StrategyBounded    Strategy = "bounded"    // first-to-last brace/bracket slice
	StrategyTruncation Strategy = "truncation" // unmatched {/[ balanced at the tail
	StrategyRepair     Strategy = "repair"     // general cleanup pass
)

// confidence in how each strategy obtained its candidate. Later stages use
// it to weigh items from heavily repaired output.
var strategyConfidence = map[Strategy]float64{
	StrategyDirect:     1.0,
	StrategyFenced:     0.9,
	StrategyBounded:    0.75,
	StrategyTruncation: 0.5,
	StrategyRepair:     0.35,
}

// Candidate is one rescued JSON payload.
type Candidate struct {
	Raw        string
	Strategy   Strategy
	Confidence float64
}

var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Rescue walks the ladder and returns the first candidate that is valid
// JSON. Output that no strategy can rescue returns ErrParseFailed; the
// caller treats that as a transient failure of the worker for this unit of
// work.
func Rescue(raw string) (*Candidate, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.Wrap(errors.ErrParseFailed, "empty output")
	}

	if json.Valid([]byte(trimmed)) {
		return candidate(trimmed, StrategyDirect), nil
	}

	for _, m := range fencedRe.FindAllStringSubmatch(trimmed, -1) {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			return candidate(body, StrategyFenced), nil
		}
	}

	if body, ok := bounded(trimmed); ok {
		return candidate(body, StrategyBounded), nil
	}

	if body, ok := repairTruncation(trimmed); ok {
		return candidate(body, StrategyTruncation), nil
	}

	if body, ok := generalRepair(trimmed); ok {
		return candidate(body, StrategyRepair), nil
	}

	return nil, errors.Wrap(errors.ErrParseFailed, "no strategy produced valid JSON")
}

// Unmarshal rescues raw output and decodes it into v, returning the
// strategy that produced the accepted payload.
func Unmarshal(raw string, v any) (Strategy, error) {
	c, err := Rescue(raw)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(c.Raw), v); err != nil {
		return "", errors.Wrap(errors.ErrParseFailed, err.Error())
	}
	return c.Strategy, nil
}

func candidate(raw string, s Strategy) *Candidate {
	return &Candidate{Raw: raw, Strategy: s, Confidence: strategyConfidence[s]}
}

// bounded slices from the first opening brace/bracket to the matching last
// closer, trying object bounds before array bounds.
func bounded(s string) (string, bool) {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start < 0 || end <= start {
			continue
		}
		body := s[start : end+1]
		if json.Valid([]byte(body)) {
			return body, true
		}
	}
	return "", false
}

// repairTruncation balances unmatched { and [ at the end of output that an
// endpoint cut at its token budget. The scan tracks string state so braces
// inside values are ignored.
func repairTruncation(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	body := s[start:]

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) == 0 {
		return "", false
	}

	if inString {
		body += `"`
	}
	body = strings.TrimRight(body, " \t\n,")
	// A truncated "key": with no value cannot be closed into valid JSON;
	// drop the dangling pair.
	body = strings.TrimRight(body, ":")
	body = strings.TrimRight(body, " \t\n,")

	var closers strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		closers.WriteByte(stack[i])
	}
	repaired := body + closers.String()
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return "", false
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotesRe   = regexp.MustCompile("[“”]")
)

// generalRepair is the last rung: normalize smart quotes, strip trailing
// commas, then retry the bounded slice.
func generalRepair(s string) (string, bool) {
	s = smartQuotesRe.ReplaceAllString(s, `"`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	if json.Valid([]byte(strings.TrimSpace(s))) {
		return strings.TrimSpace(s), true
	}
	return bounded(s)
}
