// Package normalize holds the field normalizers applied to extracted intake
// data before it is persisted or submitted downstream. Every function is
// best-effort: on input it cannot make sense of, it returns the original
// value rather than an error, so a bad field never blocks a referral.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

var stateNames = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY", "dc": "DC", "district of columbia": "DC",
}

var nonDigits = regexp.MustCompile(`\D`)

// Phone formats a US phone number as (XXX) XXX-XXXX. Ten digits are formatted
// directly; eleven digits with a leading 1 have the country code stripped.
// Anything else is returned unchanged.
func Phone(raw string) string {
	if raw == "" {
		return ""
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 10:
		return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
	case len(digits) == 11 && digits[0] == '1':
		return "(" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
	}
	return raw
}

// State converts a state name to its 2-letter code. The second return value
// reports whether the input matched a known form; when it does not, the
// upper-cased first two characters are returned as a guess.
func State(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	s := strings.TrimSpace(raw)
	if len(s) == 2 {
		return strings.ToUpper(s), true
	}
	if code, ok := stateNames[strings.ToLower(s)]; ok {
		return code, true
	}
	up := strings.ToUpper(s)
	if len(up) > 2 {
		up = up[:2]
	}
	return up, false
}

// Zip normalizes a ZIP code to its bare digits. Five and nine digit values
// pass through, longer values are truncated to five, and values too short to
// be a ZIP are returned unchanged.
func Zip(raw string) string {
	if raw == "" {
		return ""
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 5 || len(digits) == 9:
		return digits
	case len(digits) > 5:
		return digits[:5]
	}
	return raw
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Layouts tried in order when parsing a date.
var dateLayouts = []string{
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
	"2 January 2006",
	"2 Jan 2006",
}

// Date converts common US date formats to YYYY-MM-DD. The second return value
// reports whether the input parsed; unparseable dates come back unchanged.
func Date(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if isoDate.MatchString(raw) {
		return raw, true
	}
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return raw, false
}

// SplitName splits a full name into first and last components. A single token
// is treated as a last name, and with three or more tokens the first token is
// the first name and the remainder the last name. The boolean reports whether
// the split produced both components.
func SplitName(full string) (first, last string, ok bool) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", "", false
	case 1:
		return "", parts[0], false
	case 2:
		return parts[0], parts[1], true
	default:
		return parts[0], strings.Join(parts[1:], " "), true
	}
}

// Address holds the components of a parsed street address.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

var stateZip = regexp.MustCompile(`(\w{2})\s+(\d{5}(?:-\d{4})?)`)

// ParseAddress splits a comma-separated address like
// "123 Main St, Springfield, IL 62701" into components. The boolean reports
// whether a city was recovered; when it is false the whole input lands in
// Street.
func ParseAddress(raw string) (Address, bool) {
	var a Address
	if raw == "" {
		return a, false
	}

	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	a.Street = parts[0]
	if len(parts) < 2 {
		return a, false
	}
	a.City = parts[1]

	if len(parts) >= 3 {
		if m := stateZip.FindStringSubmatch(parts[2]); m != nil {
			a.State = m[1]
			a.Zip = m[2]
		} else {
			a.State = parts[2]
		}
	}
	return a, true
}
