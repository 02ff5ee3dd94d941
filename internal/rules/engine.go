// Package rules evaluates an inbound message against the guild's moderation
// rules in a fixed priority order: prohibited words, link allow-listing,
// frequency spam, repetition spam. Evaluation short-circuits on the first
// match, so a message never carries more than one violation.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"guardia/internal/spamtrack"
)

const (
	RuleProhibitedWord = "prohibited_word"
	RuleLink           = "link"
	RuleFrequency      = "frequency_spam"
	RuleRepetition     = "repetition_spam"
)

type Violation struct {
	Rule    string
	Reason  string
	Matched string
}

type Engine struct {
	tracker *spamtrack.Tracker

	spamWindowSeconds   int
	repetitionThreshold int

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func NewEngine(tracker *spamtrack.Tracker, spamWindowSeconds, repetitionThreshold int) *Engine {
	return &Engine{
		tracker:             tracker,
		spamWindowSeconds:   spamWindowSeconds,
		repetitionThreshold: repetitionThreshold,
		patterns:            make(map[string]*regexp.Regexp),
	}
}

// Evaluate runs the rules in order and returns the first violation, or nil.
// It mutates the spam tracker as a side effect: every call corresponds to
// exactly one inbound message.
func (e *Engine) Evaluate(guildID, userID, content string, prohibitedWords, allowedLinkPrefixes []string) *Violation {
	if violation := e.checkProhibitedWords(content, prohibitedWords); violation != nil {
		return violation
	}
	if violation := e.checkLinks(content, allowedLinkPrefixes); violation != nil {
		return violation
	}
	if e.tracker.RecordAndCheckFrequency(guildID, userID) {
		return &Violation{
			Rule:   RuleFrequency,
			Reason: fmt.Sprintf("Spam detectado (demasiados mensajes en %d segundos).", e.spamWindowSeconds),
		}
	}
	if e.tracker.RecordAndCheckRepetition(guildID, userID, content) {
		return &Violation{
			Rule:   RuleRepetition,
			Reason: fmt.Sprintf("Spam detectado (mensaje idéntico repetido %d veces).", e.repetitionThreshold),
		}
	}
	return nil
}

// EvaluateDegraded runs only the built-in spam rules. The bot falls back to
// it when the guild's configured rules cannot be read, where an empty word
// list and an empty link allow-list would otherwise reject every URL.
func (e *Engine) EvaluateDegraded(guildID, userID, content string) *Violation {
	if e.tracker.RecordAndCheckFrequency(guildID, userID) {
		return &Violation{
			Rule:   RuleFrequency,
			Reason: fmt.Sprintf("Spam detectado (demasiados mensajes en %d segundos).", e.spamWindowSeconds),
		}
	}
	if e.tracker.RecordAndCheckRepetition(guildID, userID, content) {
		return &Violation{
			Rule:   RuleRepetition,
			Reason: fmt.Sprintf("Spam detectado (mensaje idéntico repetido %d veces).", e.repetitionThreshold),
		}
	}
	return nil
}

func (e *Engine) checkProhibitedWords(content string, words []string) *Violation {
	if len(words) == 0 {
		return nil
	}
	lowered := strings.ToLower(content)
	for _, word := range words {
		if word == "" {
			continue
		}
		if e.wordPattern(word).MatchString(lowered) {
			return &Violation{
				Rule:    RuleProhibitedWord,
				Reason:  fmt.Sprintf("Uso de palabra prohibida: '%s'", word),
				Matched: word,
			}
		}
	}
	return nil
}

func (e *Engine) checkLinks(content string, prefixes []string) *Violation {
	urls := ExtractURLs(content)
	if len(urls) == 0 {
		return nil
	}
	for _, raw := range urls {
		if !HasAllowedPrefix(NormalizeURL(raw), prefixes) {
			return &Violation{
				Rule:    RuleLink,
				Reason:  fmt.Sprintf("Envío de enlace no permitido: '%s'", raw),
				Matched: raw,
			}
		}
	}
	return nil
}

// wordPattern caches the compiled whole-word pattern for a configured word.
// Words come from storage already lowercased.
func (e *Engine) wordPattern(word string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()
	pattern := e.patterns[word]
	if pattern == nil {
		pattern = regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
		e.patterns[word] = pattern
	}
	return pattern
}
