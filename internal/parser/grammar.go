package parser

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"kitchen-voice/internal/domain"
)

const (
	confidenceExact       = 0.95
	confidenceOrderPrefix = 0.90
	confidenceLoose       = 0.80
	confidenceLooseGuess  = 0.70
	confidenceBulk        = 0.90
	confidenceView        = 0.85
	confidenceList        = 0.85
	confidenceNewOrder    = 0.85
	confidenceHelp        = 0.90
)

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
}

var statusWords = []string{
	"ready",
	"complete", "completed", "done", "finished",
	"preparing", "prepare", "making", "cooking",
	"pending", "waiting", "new",
}

var (
	exactNumberWord = regexp.MustCompile(`^(` + alternation(keys(numberWords)) + `) ` + filler + `(` + alternation(statusWords) + `)$`)
	orderNumberWord = regexp.MustCompile(`^order (?:number )?(` + alternation(keys(numberWords)) + `) ` + filler + `(` + alternation(statusWords) + `)$`)
	exactDigits     = regexp.MustCompile(`^(\d+) ` + filler + `(` + alternation(statusWords) + `)$`)
	orderDigits     = regexp.MustCompile(`^order (?:number )?(\d+) ` + filler + `(` + alternation(statusWords) + `)$`)
	looseDigits     = regexp.MustCompile(`\b(\d+)\b`)
)

const filler = `(?:is |to |as |now )?`

// Grammar is the offline parsing strategy. It is pure: the same text always
// yields the same result.
type Grammar struct{}

func NewGrammar() *Grammar {
	return &Grammar{}
}

func (g *Grammar) Name() string { return "grammar" }

func (g *Grammar) Parse(_ context.Context, text string, _ domain.OrderNumberMap) (domain.CommandResult, error) {
	return g.Match(text), nil
}

// Match tries each pattern family in order; the first hit wins.
func (g *Grammar) Match(text string) domain.CommandResult {
	s := Normalize(text)
	if s == "" {
		return domain.Unknown(text)
	}

	for _, family := range []struct {
		re         *regexp.Regexp
		words      bool
		confidence float64
	}{
		{exactNumberWord, true, confidenceExact},
		{orderNumberWord, true, confidenceOrderPrefix},
		{exactDigits, false, confidenceExact},
		{orderDigits, false, confidenceOrderPrefix},
	} {
		m := family.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, ok := toNumber(m[1], family.words)
		if !ok {
			continue
		}
		status, _ := domain.ParseStatus(m[2])
		return statusUpdate(text, n, status, family.confidence)
	}

	if n, ok := firstNumberWord(s); ok {
		return looseUpdate(text, s, n)
	}
	if m := looseDigits.FindStringSubmatch(s); m != nil {
		if n, ok := toNumber(m[1], false); ok {
			return looseUpdate(text, s, n)
		}
	}

	switch {
	case strings.Contains(s, "all preparing") && strings.Contains(s, "ready"):
		return result(text, domain.ActionUpdateAllPreparing, confidenceBulk)
	case strings.Contains(s, "all ready") && strings.Contains(s, "complete"):
		return result(text, domain.ActionUpdateAllReady, confidenceBulk)
	case strings.Contains(s, "all orders") && strings.Contains(s, "complete"):
		return result(text, domain.ActionCompleteAll, confidenceBulk)
	}

	switch {
	case strings.Contains(s, "all day"):
		r := result(text, domain.ActionShowAllDay, confidenceView)
		r.View = domain.ViewAllDay
		return r
	case strings.Contains(s, "recently completed"):
		r := result(text, domain.ActionShowRecentlyCompleted, confidenceView)
		r.View = domain.ViewRecentlyCompleted
		return r
	}

	if containsAny(s, "list", "show", "how many", "all orders") {
		r := result(text, domain.ActionListOrders, confidenceList)
		r.Filter = listFilter(s)
		return r
	}

	if containsAny(s, "add", "new", "create") && strings.Contains(s, "order") {
		return result(text, domain.ActionNewOrder, confidenceNewOrder)
	}

	if containsAny(s, "help", "what can", "command") {
		return result(text, domain.ActionHelp, confidenceHelp)
	}

	return domain.Unknown(text)
}

// Normalize lowercases, folds accents, replaces punctuation with spaces and
// collapses whitespace.
func Normalize(text string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func looseUpdate(text, s string, n int) domain.CommandResult {
	if status, ok := inferStatus(s); ok {
		return statusUpdate(text, n, status, confidenceLoose)
	}
	return statusUpdate(text, n, domain.StatusReady, confidenceLooseGuess)
}

func inferStatus(s string) (domain.Status, bool) {
	switch {
	case strings.Contains(s, "ready"):
		return domain.StatusReady, true
	case containsAny(s, "complete", "done", "finish"):
		return domain.StatusComplete, true
	case containsAny(s, "prepar", "making", "cook"):
		return domain.StatusPreparing, true
	case containsAny(s, "pending", "wait", "new"):
		return domain.StatusPending, true
	}
	return "", false
}

func listFilter(s string) domain.Filter {
	switch {
	case strings.Contains(s, "ready"):
		return domain.FilterReady
	case strings.Contains(s, "prepar"):
		return domain.FilterPreparing
	case containsAny(s, "complete", "done", "finished"):
		return domain.FilterCompleted
	}
	return ""
}

func firstNumberWord(s string) (int, bool) {
	for _, tok := range strings.Fields(s) {
		if n, ok := numberWords[tok]; ok {
			return n, true
		}
	}
	return 0, false
}

func toNumber(tok string, word bool) (int, bool) {
	if word {
		n, ok := numberWords[tok]
		return n, ok
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func statusUpdate(text string, n int, status domain.Status, confidence float64) domain.CommandResult {
	r := result(text, domain.ActionUpdateStatus, confidence)
	r.OrderNumber = &n
	r.Status = status
	return r
}

func result(text string, action domain.Action, confidence float64) domain.CommandResult {
	return domain.CommandResult{Action: action, Confidence: confidence, OriginalText: text}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// alternation builds a regexp alternation, longest words first so that
// "completed" wins over "complete".
func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	for i, w := range sorted {
		sorted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(sorted, "|")
}
