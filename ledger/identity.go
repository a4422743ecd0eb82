package ledger

import (
	"strings"

	"github.com/warp/expense-ledger/calendar"
)

// =============================================================================
// DETERMINISTIC IDENTITY - (template, occurrence date) -> entry key
// =============================================================================

// InstanceID returns the primary key of the instance of template t on day d.
//
// The key embeds the template id and the calendar day (not a timestamp), so
// there is at most one instance per template per day, and re-issuing a write
// for the same pair overwrites the same row instead of inserting a duplicate.
func InstanceID(t TemplateID, d calendar.Date) EntryID {
	return EntryID(string(t) + "_" + d.Compact())
}

// ParseInstanceID splits an instance key. ok is false for keys that were not
// produced by InstanceID.
func ParseInstanceID(id EntryID) (TemplateID, calendar.Date, bool) {
	s := string(id)
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || len(s)-i-1 != 8 {
		return "", calendar.Date{}, false
	}
	raw := s[i+1:]
	d, err := calendar.Parse(raw[:4] + "-" + raw[4:6] + "-" + raw[6:])
	if err != nil {
		return "", calendar.Date{}, false
	}
	return TemplateID(s[:i]), d, true
}
