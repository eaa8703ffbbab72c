package schedule

import "strings"

// IsOwner reports whether the schedule exists and was created by the viewer.
// Only schedule metadata mutation is owner-gated; viewing and marking
// attendance are not.
func IsOwner(viewerID string, sched *Schedule) bool {
	if sched == nil {
		return false
	}
	return SameIdentity(viewerID, sched.CreatedBy)
}

// SameIdentity compares two user identities by coerced numeric equality.
// Login providers hand identities over as strings or numbers, so "007" and
// "7" refer to the same account while non-numeric identities compare as
// plain strings.
func SameIdentity(a, b string) bool {
	ca := canonicalIdentity(a)
	if ca == "" {
		return false
	}
	return ca == canonicalIdentity(b)
}

func canonicalIdentity(identity string) string {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" {
		return ""
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return trimmed
		}
	}
	stripped := strings.TrimLeft(trimmed, "0")
	if stripped == "" {
		return "0"
	}
	return stripped
}
