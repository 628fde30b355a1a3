package flightaware

import (
	"fmt"
	"strings"
	"time"
)

// Flight is the subset of an AeroAPI flight record we render.
type Flight struct {
	Ident           string     `json:"ident"`
	Operator        *string    `json:"operator"`
	Origin          *Airport   `json:"origin"`
	Destination     *Airport   `json:"destination"`
	Status          string     `json:"status"`
	ProgressPercent *int       `json:"progress_percent"`
	Cancelled       bool       `json:"cancelled"`
	Diverted        bool       `json:"diverted"`
	ScheduledOut    *time.Time `json:"scheduled_out"`
	ScheduledIn     *time.Time `json:"scheduled_in"`
}

type Airport struct {
	Code     string  `json:"code"`
	CodeIATA *string `json:"code_iata"`
	Name     string  `json:"name"`
}

const (
	unknown      = "Unknown"
	notAvailable = "Not Available"
	timeLayout   = "2006-01-02 15:04 MST"
)

// DeriveStatus picks the most relevant status word for a flight.
func DeriveStatus(f Flight) string {
	switch {
	case f.Cancelled:
		return "CANCELLED"
	case f.Diverted:
		return "DIVERTED"
	case f.ProgressPercent != nil && *f.ProgressPercent == 100:
		return "ARRIVED"
	case f.Status == "Arrived / Gate Arrival" || f.Status == "Arrived":
		return "ARRIVED"
	case f.Status == "Scheduled":
		return "SCHEDULED"
	case f.Status == "":
		return strings.ToUpper(unknown)
	default:
		return strings.ToUpper(f.Status)
	}
}

// FormatStatus renders the chat message for a flight. ident is the
// identifier the user asked for, which may differ from f.Ident.
func FormatStatus(ident string, f Flight, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	operator := unknown
	if f.Operator != nil && *f.Operator != "" {
		operator = *f.Operator
	}
	return fmt.Sprintf("✈️ %s flight %s\nFrom: %s\nTo: %s\nDeparture: %s\nArrival: %s\nStatus: %s",
		operator, ident,
		airportCode(f.Origin),
		airportCode(f.Destination),
		formatTime(f.ScheduledOut, loc),
		formatTime(f.ScheduledIn, loc),
		DeriveStatus(f),
	)
}

func airportCode(a *Airport) string {
	if a == nil || a.CodeIATA == nil || *a.CodeIATA == "" {
		return unknown
	}
	return *a.CodeIATA
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return notAvailable
	}
	return t.In(loc).Format(timeLayout)
}
