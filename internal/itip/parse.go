package itip

import (
	"bytes"

	"github.com/emersion/go-ical"
)

// Parse decodes raw ICS bytes into a calendar object. The grammar itself is
// go-ical's job; failures surface as parsing errors keyed by the content
// hash.
func Parse(data []byte) (*ical.Calendar, string, error) {
	hash := HashICS(data)
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, hash, WrapError(KindParsing, hash, err)
	}
	return cal, hash, nil
}

// SemanticDiff reports whether two events differ in the fields a user would
// notice: summary, description, location, or the attendee set. Used to skip
// backend writes for equal-sequence updates that change nothing visible.
func SemanticDiff(a, b *Vevent) bool {
	if a.Summary != b.Summary || a.Description != b.Description || a.Location != b.Location {
		return true
	}
	if len(a.Attendees) != len(b.Attendees) {
		return true
	}
	byEmail := make(map[string]Partstat, len(a.Attendees))
	for _, att := range a.Attendees {
		byEmail[att.Email] = att.Partstat
	}
	for _, att := range b.Attendees {
		if _, ok := byEmail[att.Email]; !ok {
			return true
		}
	}
	return false
}
