package nlp

import "strings"

// NormalizeCityInput resolves free text to a canonical city display name.
// It accepts the canonical name itself, any listed synonym, or a message
// that merely contains one ("estoy en cueca" resolves to "Cuenca").
func NormalizeCityInput(text string) (string, bool) {
	canon := Canonical(text)
	if canon == "" {
		return "", false
	}
	if city, ok := cityLookup[canon]; ok {
		return city, true
	}
	if city, ok := findCity(canon); ok {
		return city, true
	}
	return "", false
}

// findCity scans canonical text for any city term on word boundaries,
// table order, first match wins.
func findCity(canon string) (string, bool) {
	for _, entry := range citySynonyms {
		if containsPadded(canon, Canonical(entry.Canonical)) {
			return entry.Canonical, true
		}
		for _, syn := range entry.Synonyms {
			if containsPadded(canon, Canonical(syn)) {
				return entry.Canonical, true
			}
		}
	}
	return "", false
}

// findService scans canonical text for a service synonym first, then for
// the bare canonical service terms.
func findService(canon string) (string, bool) {
	for _, entry := range serviceSynonyms {
		for _, syn := range entry.Synonyms {
			if containsPadded(canon, Canonical(syn)) {
				return entry.Canonical, true
			}
		}
	}
	for _, service := range CommonServices {
		if containsPadded(canon, service) {
			return service, true
		}
	}
	return "", false
}

// DetectService scans free text for a recognizable service term.
func DetectService(text string) (string, bool) {
	canon := Canonical(text)
	if canon == "" {
		return "", false
	}
	return findService(canon)
}

// InterpretYesNo classifies text as affirmative (true), negative (false) or
// undecidable (nil). A leading "1" or "2" wins over word matching, mirroring
// the numbered button options sent to the user.
func InterpretYesNo(text string) *bool {
	canon := Canonical(text)
	if canon == "" {
		return nil
	}

	// Canonical strips punctuation, so a button pick like "1) Sí" arrives
	// here as "1 si" and the first field is the bare number.
	first := strings.Fields(canon)[0]
	if first == "1" {
		return boolPtr(true)
	}
	if first == "2" {
		return boolPtr(false)
	}

	for _, word := range AffirmativeWords {
		if containsPadded(canon, Canonical(word)) {
			return boolPtr(true)
		}
	}
	for _, word := range NegativeWords {
		if containsPadded(canon, Canonical(word)) {
			return boolPtr(false)
		}
	}
	return nil
}

// IsGreeting reports whether the text is only a greeting (no actionable
// content beyond pleasantries).
func IsGreeting(text string) bool {
	canon := Canonical(text)
	if canon == "" {
		return false
	}
	for _, greeting := range Greetings {
		g := Canonical(greeting)
		if canon == g {
			return true
		}
	}
	// Multi-word greetings like "hola buenas tardes".
	fields := strings.Fields(canon)
	if len(fields) > 4 {
		return false
	}
	for _, f := range fields {
		if !greetingWord(f) {
			return false
		}
	}
	return true
}

func greetingWord(word string) bool {
	for _, greeting := range Greetings {
		for _, g := range strings.Fields(Canonical(greeting)) {
			if word == g {
				return true
			}
		}
	}
	return false
}

// IsResetKeyword reports whether the text is a reset command.
func IsResetKeyword(text string) bool {
	canon := Canonical(text)
	if canon == "" {
		return false
	}
	for _, kw := range ResetKeywords {
		if canon == Canonical(kw) {
			return true
		}
	}
	return false
}

func boolPtr(v bool) *bool { return &v }
