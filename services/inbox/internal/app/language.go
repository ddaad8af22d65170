package app

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// stopwords are frequent short words that identify a language in chat text.
var stopwords = map[string][]string{
	"en": {"the", "and", "is", "you", "my", "can", "we", "to", "lesson", "tomorrow", "please", "thanks", "hi", "what", "when", "could", "would"},
	"de": {"der", "die", "das", "und", "ist", "ich", "nicht", "bitte", "morgen", "danke", "wir", "stunde", "können", "kann", "mit", "hallo"},
	"fr": {"le", "la", "les", "et", "est", "je", "pas", "merci", "demain", "vous", "nous", "cours", "bonjour", "pour", "avec"},
	"es": {"el", "los", "las", "y", "es", "yo", "no", "gracias", "mañana", "usted", "clase", "hola", "por", "para", "con", "puedo"},
	"it": {"il", "lo", "gli", "e", "è", "io", "non", "grazie", "domani", "lezione", "ciao", "per", "con", "posso"},
	"nl": {"de", "het", "een", "en", "is", "ik", "niet", "bedankt", "morgen", "les", "hallo", "voor", "met", "kan"},
	"pt": {"o", "os", "as", "e", "é", "eu", "não", "obrigado", "obrigada", "amanhã", "aula", "olá", "para", "com", "posso"},
}

// detectOrder breaks ties between languages with equal scores.
var detectOrder = []string{"en", "de", "fr", "es", "it", "nl", "pt"}

// DetectLanguage returns a BCP 47 base language for text. A parseable hint
// from the channel wins; otherwise stopwords are scored and "und" is returned
// when nothing matches.
func DetectLanguage(text, hint string) string {
	if hint = strings.TrimSpace(hint); hint != "" {
		if tag, err := language.Parse(hint); err == nil {
			if base, conf := tag.Base(); conf != language.No {
				return base.String()
			}
		}
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return language.Und.String()
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	best, bestScore := "", 0
	for _, lang := range detectOrder {
		score := 0
		for _, w := range stopwords[lang] {
			score += counts[w]
		}
		if score > bestScore {
			best, bestScore = lang, score
		}
	}
	if best == "" {
		return language.Und.String()
	}
	return best
}
