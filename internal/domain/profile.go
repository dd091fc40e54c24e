package domain

import "strings"

// Profile is the consumer category used by the fallback discount schedule.
type Profile string

const (
	ProfileResidential Profile = "residential"
	ProfileCommercial  Profile = "commercial"
	ProfileIndustrial  Profile = "industrial"
	ProfileUnknown     Profile = "unknown"
)

// ParseProfile is case-insensitive and never fails: anything it does not
// recognize maps to ProfileUnknown.
func ParseProfile(s string) Profile {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "residential", "residencial":
		return ProfileResidential
	case "commercial", "comercial":
		return ProfileCommercial
	case "industrial":
		return ProfileIndustrial
	}
	return ProfileUnknown
}
