package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"kitchen-voice/internal/domain"
)

// ErrNoJSON is returned when a cloud response holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// SystemPrompt is the structured-extraction instruction shared by every
// prompt-based strategy. The order number map, when present, is appended.
func SystemPrompt(numbers domain.OrderNumberMap) string {
	var b strings.Builder
	b.WriteString(`You convert spoken commands from restaurant kitchen staff into structured commands for an order display.

Recognised phrasings:
- "<number> <status>", "order <number> <status>", "mark order <number> as <status>": set one order's status. Numbers may be spoken ("five") or digits ("5").
- "mark all preparing orders ready": every preparing order becomes ready.
- "mark all ready orders complete": every ready order becomes complete.
- "complete all orders": every open order becomes complete.
- "all day": show the all day view.
- "recently completed": show recently completed orders.
- "list orders", "show orders", "how many orders", optionally with a status ("show ready orders").
- "add a new order", "create order": start a new order.
- "help", "what can I say": list the available commands.

Status words: pending (also "waiting", "new"), preparing (also "making", "cooking"), ready, complete (also "completed", "done", "finished").

Respond with a single fenced JSON block and nothing else:
` + "```json" + `
{
  "action": "update_status|update_all_preparing|update_all_ready|complete_all|show_all_day|show_recently_completed|list_orders|new_order|help|unknown",
  "orderNumber": 5,
  "status": "pending|preparing|ready|complete",
  "view": "default|allDay|recentlyCompleted",
  "filter": "preparing|ready|completed",
  "confidence": 0.95
}
` + "```" + `
Omit fields that do not apply. Use action "unknown" with confidence 0 when the command is not understood. Confidence is your certainty between 0 and 1.`)

	if numbers.Len() > 0 {
		b.WriteString("\n\nActive orders by spoken number:\n")
		m := numbers.Numbers()
		nums := make([]int, 0, len(m))
		for k := range m {
			n, _ := strconv.Atoi(k)
			nums = append(nums, n)
		}
		sort.Ints(nums)
		for _, n := range nums {
			fmt.Fprintf(&b, "- %d: %s\n", n, m[strconv.Itoa(n)])
		}
	}
	return b.String()
}

// ExtractJSON returns the JSON object in a model response: the first fenced
// block if there is one, otherwise the outermost braces.
func ExtractJSON(raw string) (string, error) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return raw[start : end+1], nil
}

type wireResult struct {
	Action      string          `json:"action"`
	OrderNumber json.RawMessage `json:"orderNumber"`
	Status      string          `json:"status"`
	View        string          `json:"view"`
	Filter      string          `json:"filter"`
	Confidence  float64         `json:"confidence"`
}

// DecodeResult parses a cloud response body, fenced or raw, into a
// normalised CommandResult.
func DecodeResult(raw, text string) (domain.CommandResult, error) {
	body, err := ExtractJSON(raw)
	if err != nil {
		return domain.CommandResult{}, err
	}

	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return domain.CommandResult{}, fmt.Errorf("decoding command JSON (%s): %w", body, err)
	}

	action := domain.ParseAction(w.Action)
	if action == domain.ActionChangeStatus {
		action = domain.ActionUpdateStatus
	}

	r := domain.CommandResult{
		Action:       action,
		Confidence:   w.Confidence,
		OriginalText: text,
	}
	if n, ok := decodeNumber(w.OrderNumber); ok {
		r.OrderNumber = &n
	}
	if s, ok := domain.ParseStatus(w.Status); ok {
		r.Status = s
	}
	if v, ok := domain.ParseView(w.View); ok {
		r.View = v
	}
	if f, ok := domain.ParseFilter(w.Filter); ok {
		r.Filter = f
	}
	return r.Normalize(), nil
}

// decodeNumber accepts 5, 5.0 and "5".
func decodeNumber(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f < 0 || f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(s, "#")))
		if err == nil && n >= 0 {
			return n, true
		}
	}
	return 0, false
}
