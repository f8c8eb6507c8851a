package itip

import (
	"fmt"
	"strings"
	"time"
)

// tzAliases canonicalizes timezone identifiers that clients emit but the IANA
// database does not know under that spelling. Outlook exports Windows zone
// names; a handful of legacy aliases show up in older exporters.
var tzAliases = map[string]string{
	// Windows time zone names (the ones most commonly seen in the wild).
	"AUS Eastern Standard Time":        "Australia/Sydney",
	"Central Europe Standard Time":     "Europe/Budapest",
	"Central European Standard Time":   "Europe/Warsaw",
	"Central Standard Time":            "America/Chicago",
	"China Standard Time":              "Asia/Shanghai",
	"Eastern Standard Time":            "America/New_York",
	"GMT Standard Time":                "Europe/London",
	"Greenwich Standard Time":          "Atlantic/Reykjavik",
	"India Standard Time":              "Asia/Kolkata",
	"Mountain Standard Time":           "America/Denver",
	"Pacific Standard Time":            "America/Los_Angeles",
	"Romance Standard Time":            "Europe/Paris",
	"Russian Standard Time":            "Europe/Moscow",
	"SE Asia Standard Time":            "Asia/Bangkok",
	"Singapore Standard Time":          "Asia/Singapore",
	"Tokyo Standard Time":              "Asia/Tokyo",
	"UTC":                              "UTC",
	"W. Europe Standard Time":          "Europe/Berlin",
	"E. Europe Standard Time":          "Europe/Chisinau",
	"US Eastern Standard Time":         "America/New_York",
	"US Mountain Standard Time":        "America/Phoenix",
	"AUS Central Standard Time":        "Australia/Darwin",
	"New Zealand Standard Time":        "Pacific/Auckland",
	"South Africa Standard Time":       "Africa/Johannesburg",
	"E. South America Standard Time":   "America/Sao_Paulo",
	"Argentina Standard Time":          "America/Buenos_Aires",
	"Atlantic Standard Time":           "America/Halifax",
	"Arab Standard Time":               "Asia/Riyadh",
	"Arabian Standard Time":            "Asia/Dubai",
	"Israel Standard Time":             "Asia/Jerusalem",
	"Korea Standard Time":              "Asia/Seoul",
	"Taipei Standard Time":             "Asia/Taipei",
	"W. Australia Standard Time":       "Australia/Perth",
	"Alaskan Standard Time":            "America/Anchorage",
	"Hawaiian Standard Time":           "Pacific/Honolulu",
	"Greenland Standard Time":          "America/Godthab",
	"Montevideo Standard Time":         "America/Montevideo",
	"Pakistan Standard Time":           "Asia/Karachi",
	"Bangladesh Standard Time":         "Asia/Dhaka",
	"Nepal Standard Time":              "Asia/Kathmandu",
	"Myanmar Standard Time":            "Asia/Rangoon",
	"North Asia Standard Time":         "Asia/Krasnoyarsk",
	"FLE Standard Time":                "Europe/Kiev",
	"GTB Standard Time":                "Europe/Bucharest",
	"Turkey Standard Time":             "Europe/Istanbul",
	"Egypt Standard Time":              "Africa/Cairo",
	"Morocco Standard Time":            "Africa/Casablanca",
	"W. Central Africa Standard Time":  "Africa/Lagos",
	"Canada Central Standard Time":     "America/Regina",
	"Venezuela Standard Time":          "America/Caracas",
	"SA Pacific Standard Time":         "America/Bogota",
	"SA Western Standard Time":         "America/La_Paz",
	"SA Eastern Standard Time":         "America/Cayenne",
	"Central America Standard Time":    "America/Guatemala",
	"Mexico Standard Time":             "America/Mexico_City",
	"Central Standard Time (Mexico)":   "America/Mexico_City",
	"Pacific Standard Time (Mexico)":   "America/Tijuana",
	"Mountain Standard Time (Mexico)":  "America/Chihuahua",
	"Newfoundland Standard Time":       "America/St_Johns",
	"Cen. Australia Standard Time":     "Australia/Adelaide",
	"E. Australia Standard Time":       "Australia/Brisbane",
	"Tasmania Standard Time":           "Australia/Hobart",
	"West Pacific Standard Time":       "Pacific/Port_Moresby",
	"Fiji Standard Time":               "Pacific/Fiji",
	"Azores Standard Time":             "Atlantic/Azores",
	"Cape Verde Standard Time":         "Atlantic/Cape_Verde",
	"Caucasus Standard Time":           "Asia/Yerevan",
	"Georgian Standard Time":           "Asia/Tbilisi",
	"Iran Standard Time":               "Asia/Tehran",
	"Afghanistan Standard Time":        "Asia/Kabul",
	"Sri Lanka Standard Time":          "Asia/Colombo",
	"Central Asia Standard Time":       "Asia/Almaty",
	"West Asia Standard Time":          "Asia/Tashkent",
	"Ekaterinburg Standard Time":       "Asia/Yekaterinburg",
	"N. Central Asia Standard Time":    "Asia/Novosibirsk",
	"Ulaanbaatar Standard Time":        "Asia/Ulaanbaatar",
	"North Asia East Standard Time":    "Asia/Irkutsk",
	"Yakutsk Standard Time":            "Asia/Yakutsk",
	"Vladivostok Standard Time":        "Asia/Vladivostok",
	"Magadan Standard Time":            "Asia/Magadan",
	"Samoa Standard Time":              "Pacific/Apia",
	"Tonga Standard Time":              "Pacific/Tongatapu",
	"Dateline Standard Time":           "Etc/GMT+12",
	"UTC-02":                           "Etc/GMT+2",
	"UTC-11":                           "Etc/GMT+11",
	"UTC+12":                           "Etc/GMT-12",
	"Namibia Standard Time":            "Africa/Windhoek",
	"Mauritius Standard Time":          "Indian/Mauritius",
	"E. Africa Standard Time":          "Africa/Nairobi",
	"Jordan Standard Time":             "Asia/Amman",
	"Middle East Standard Time":        "Asia/Beirut",
	"Syria Standard Time":              "Asia/Damascus",
	"Belarus Standard Time":            "Europe/Minsk",
	"Kaliningrad Standard Time":        "Europe/Kaliningrad",
	"Cuba Standard Time":               "America/Havana",
	"Haiti Standard Time":              "America/Port-au-Prince",
	"Paraguay Standard Time":           "America/Asuncion",
	"Pacific SA Standard Time":         "America/Santiago",
	"Bahia Standard Time":              "America/Bahia",
	"Tocantins Standard Time":          "America/Araguaina",

	// Legacy aliases.
	"GMT":                "UTC",
	"Etc/GMT":            "UTC",
	"Etc/UTC":            "UTC",
	"Z":                  "UTC",
	"Asia/Calcutta":      "Asia/Kolkata",
	"Asia/Saigon":        "Asia/Ho_Chi_Minh",
	"Asia/Katmandu":      "Asia/Kathmandu",
	"Europe/Kiev":        "Europe/Kyiv",
	"America/Godthab":    "America/Nuuk",
	"US/Eastern":         "America/New_York",
	"US/Central":         "America/Chicago",
	"US/Mountain":        "America/Denver",
	"US/Pacific":         "America/Los_Angeles",
	"Canada/Eastern":     "America/Toronto",
	"Canada/Pacific":     "America/Vancouver",
	"Australia/Canberra": "Australia/Sydney",
}

// ResolveTimezone maps a TZID to a *time.Location, canonicalizing spellings
// the IANA database does not accept directly.
func ResolveTimezone(tzid string) (*time.Location, error) {
	tzid = strings.TrimSpace(tzid)
	if tzid == "" {
		return nil, fmt.Errorf("empty timezone identifier")
	}
	// Some exporters wrap the TZID in quotes or prefix it with a slash.
	tzid = strings.Trim(tzid, `"`)
	tzid = strings.TrimPrefix(tzid, "/")

	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc, nil
	}
	if canonical, ok := tzAliases[tzid]; ok {
		if loc, err := time.LoadLocation(canonical); err == nil {
			return loc, nil
		}
	}
	// Case-insensitive fallback over the alias table.
	for alias, canonical := range tzAliases {
		if strings.EqualFold(alias, tzid) {
			if loc, err := time.LoadLocation(canonical); err == nil {
				return loc, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown timezone identifier %q", tzid)
}
