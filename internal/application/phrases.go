package application

import (
	"fmt"
	"strings"

	"kitchen-voice/internal/domain"
)

const helpText = "You can say things like: order five ready, three preparing, show all orders, all day, or recently completed."

func confirmationPrompt(cmd domain.VoiceCommand) string {
	switch cmd.Action {
	case domain.ActionUpdateAllPreparing:
		return "Mark all preparing orders as ready? Say yes to confirm."
	case domain.ActionUpdateAllReady:
		return "Mark all ready orders as complete? Say yes to confirm."
	case domain.ActionCompleteAll:
		return "Complete all orders? Say yes to confirm."
	}
	n, _ := cmd.Number()
	return fmt.Sprintf("Set order %d to %s? Say yes to confirm.", n, cmd.Status)
}

func completion(cmd domain.VoiceCommand) string {
	switch cmd.Action {
	case domain.ActionUpdateAllPreparing:
		return "All preparing orders are ready."
	case domain.ActionUpdateAllReady:
		return "All ready orders are complete."
	case domain.ActionCompleteAll:
		return "All orders are complete."
	}
	n, _ := cmd.Number()
	return fmt.Sprintf("Order %d is now %s.", n, cmd.Status)
}

func acknowledgement(cmd domain.VoiceCommand) string {
	switch cmd.Action {
	case domain.ActionHelp:
		return helpText
	case domain.ActionListOrders:
		if cmd.Filter != "" {
			return fmt.Sprintf("Showing %s orders.", cmd.Filter)
		}
		return "Showing orders."
	case domain.ActionShowAllDay:
		return "Showing the all day view."
	case domain.ActionShowRecentlyCompleted:
		return "Showing recently completed orders."
	case domain.ActionNewOrder:
		return "Starting a new order."
	}
	return "OK."
}

// isAffirmative accepts "yes" as a word or anything starting with
// "confirm" ("confirm", "confirmed").
func isAffirmative(reply string) bool {
	for _, tok := range strings.Fields(strings.ToLower(reply)) {
		tok = strings.Trim(tok, ".,!?;:'\"")
		if tok == "yes" || strings.HasPrefix(tok, "confirm") {
			return true
		}
	}
	return false
}
