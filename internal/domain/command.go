package domain

import "strings"

type Action string

const (
	ActionChangeStatus          Action = "change_status"
	ActionShowAllDay            Action = "show_all_day"
	ActionShowRecentlyCompleted Action = "show_recently_completed"
	ActionListOrders            Action = "list_orders"
	ActionUpdateStatus          Action = "update_status"
	ActionUpdateAllPreparing    Action = "update_all_preparing"
	ActionUpdateAllReady        Action = "update_all_ready"
	ActionCompleteAll           Action = "complete_all"
	ActionNewOrder              Action = "new_order"
	ActionHelp                  Action = "help"
	ActionUnknown               Action = "unknown"
)

var knownActions = map[Action]bool{
	ActionChangeStatus:          true,
	ActionShowAllDay:            true,
	ActionShowRecentlyCompleted: true,
	ActionListOrders:            true,
	ActionUpdateStatus:          true,
	ActionUpdateAllPreparing:    true,
	ActionUpdateAllReady:        true,
	ActionCompleteAll:           true,
	ActionNewOrder:              true,
	ActionHelp:                  true,
	ActionUnknown:               true,
}

// ParseAction maps a free-form action name onto the canonical enum.
// Anything unrecognised becomes ActionUnknown.
func ParseAction(s string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if knownActions[a] {
		return a
	}
	return ActionUnknown
}

// ChangesStatus reports whether the action mutates order status and
// therefore needs an explicit confirmation before dispatch.
func (a Action) ChangesStatus() bool {
	switch a {
	case ActionChangeStatus, ActionUpdateStatus, ActionUpdateAllPreparing, ActionUpdateAllReady, ActionCompleteAll:
		return true
	}
	return false
}

// TargetsSingleOrder reports whether the action needs an order number.
func (a Action) TargetsSingleOrder() bool {
	return a == ActionChangeStatus || a == ActionUpdateStatus
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusComplete  Status = "complete"
)

// ParseStatus accepts the canonical names plus the spoken synonyms.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "new", "waiting":
		return StatusPending, true
	case "preparing", "prepare", "making", "cooking":
		return StatusPreparing, true
	case "ready":
		return StatusReady, true
	case "complete", "completed", "done", "finished":
		return StatusComplete, true
	}
	return "", false
}

type View string

const (
	ViewDefault           View = "default"
	ViewAllDay            View = "allDay"
	ViewRecentlyCompleted View = "recentlyCompleted"
)

func ParseView(s string) (View, bool) {
	switch View(strings.TrimSpace(s)) {
	case ViewDefault, ViewAllDay, ViewRecentlyCompleted:
		return View(strings.TrimSpace(s)), true
	}
	return "", false
}

type Filter string

const (
	FilterPreparing Filter = "preparing"
	FilterReady     Filter = "ready"
	FilterCompleted Filter = "completed"
)

func ParseFilter(s string) (Filter, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "preparing":
		return FilterPreparing, true
	case "ready":
		return FilterReady, true
	case "completed", "complete":
		return FilterCompleted, true
	}
	return "", false
}

// CommandResult is the structured output of parsing a single utterance or
// typed text. It is also the wire shape of the text-only endpoint.
type CommandResult struct {
	Action       Action  `json:"action"`
	OrderNumber  *int    `json:"orderNumber,omitempty"`
	Status       Status  `json:"status,omitempty"`
	View         View    `json:"view,omitempty"`
	Filter       Filter  `json:"filter,omitempty"`
	Confidence   float64 `json:"confidence"`
	OriginalText string  `json:"original_text"`
}

// Unknown returns the zero-confidence result for text nothing matched.
func Unknown(text string) CommandResult {
	return CommandResult{Action: ActionUnknown, Confidence: 0, OriginalText: text}
}

// Number returns the order number and whether one was set.
func (r CommandResult) Number() (int, bool) {
	if r.OrderNumber == nil {
		return 0, false
	}
	return *r.OrderNumber, true
}

// Normalize enforces the output invariants: confidence clamped to [0,1],
// unknown carries zero confidence, and status-bearing actions have a status.
func (r CommandResult) Normalize() CommandResult {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if r.Action == "" {
		r.Action = ActionUnknown
	}
	if r.Action.TargetsSingleOrder() && (r.Status == "" || r.OrderNumber == nil) {
		r.Action = ActionUnknown
	}
	if r.OrderNumber != nil && *r.OrderNumber < 0 {
		r.Action = ActionUnknown
	}
	if r.Action == ActionUnknown {
		return Unknown(r.OriginalText)
	}
	return r
}

// VoiceCommand is a parsed spoken command as handed to the host.
// Confidence (embedded) is the parser's certainty; RecognizerConfidence is
// the acoustic score reported by the recognizer, zero when not reported.
type VoiceCommand struct {
	CommandResult
	Transcript           string  `json:"transcript"`
	RecognizerConfidence float64 `json:"recognizerConfidence,omitempty"`
	OrderID              string  `json:"orderId,omitempty"`
	SessionID            string  `json:"sessionId,omitempty"`
}
