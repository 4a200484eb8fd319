package engine

import (
	"strings"

	"github.com/homedesk/homedesk/internal/example"
)

// categoryKeywords maps each trade to the substrings that signal it.
// Matching is case-insensitive substring search; first category with a hit
// wins, in the order listed in categoryOrder.
var categoryKeywords = map[string][]string{
	example.CategoryPlumbing:   {"plumb", "leak", "pipe", "drain", "faucet", "toilet", "sink", "water"},
	example.CategoryHVAC:       {"hvac", "heat", "ac", "air", "furnace", "thermostat", "duct", "cool"},
	example.CategoryElectrical: {"electric", "wiring", "outlet", "breaker", "light", "switch", "power"},
	example.CategoryRoofing:    {"roof", "shingle", "gutter", "attic"},
}

var categoryOrder = []string{
	example.CategoryPlumbing,
	example.CategoryHVAC,
	example.CategoryElectrical,
	example.CategoryRoofing,
}

// DetectCategory classifies a message into a service category by keyword.
// Returns CategoryGeneral when nothing matches.
func DetectCategory(message string) string {
	lower := strings.ToLower(message)
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return example.CategoryGeneral
}

// languageMarkers maps ISO 639-1 codes to phrases that identify the
// language. English is the default when nothing matches.
var languageMarkers = []struct {
	code    string
	markers []string
}{
	{"es", []string{"hola", "gracias", "necesito", "cuánto"}},
	{"zh", []string{"你好", "谢谢", "需要"}},
	{"vi", []string{"xin chào", "cảm ơn"}},
}

// DetectLanguage guesses the message language from marker phrases.
func DetectLanguage(message string) string {
	lower := strings.ToLower(message)
	for _, lang := range languageMarkers {
		for _, marker := range lang.markers {
			if strings.Contains(lower, marker) {
				return lang.code
			}
		}
	}
	return "en"
}

// Suggested action identifiers returned alongside responses.
const (
	ActionBookAppointment  = "book_appointment"
	ActionGetQuote         = "get_quote"
	ActionEmergencyService = "emergency_service"
)

var actionKeywords = []struct {
	action   string
	keywords []string
}{
	{ActionBookAppointment, []string{"book", "appointment", "schedule"}},
	{ActionGetQuote, []string{"quote", "cost", "price"}},
	{ActionEmergencyService, []string{"emergency", "urgent", "asap"}},
}

// SuggestedActions derives follow-up actions from intent keywords. Multiple
// actions can apply to one message; order is stable.
func SuggestedActions(message string) []string {
	lower := strings.ToLower(message)
	var actions []string
	for _, a := range actionKeywords {
		for _, kw := range a.keywords {
			if strings.Contains(lower, kw) {
				actions = append(actions, a.action)
				break
			}
		}
	}
	return actions
}
