package notes

import "strings"

// criticalKeywords flag emergencies in English and Hindi descriptions.
var criticalKeywords = []string{
	"chest pain",
	"difficulty breathing",
	"unconscious",
	"severe bleeding",
	"stroke",
	"seizure",
	"बेहोश",
	"सांस लेने में दिक्कत",
}

// IsCritical reports whether text mentions any critical keyword,
// case-insensitively.
func IsCritical(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
