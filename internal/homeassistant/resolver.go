package homeassistant

import (
	"strings"
	"unicode"
)

// MatchEntities resolves a human phrase against a candidate entity
// list. An entity matches when every token of the normalized filter
// occurs as a substring of the entity's normalized friendly name plus
// entity_id. Filters of three or more tokens name a specific device
// and collapse to the single best match; shorter filters express
// room-level intent and return every match.
func MatchEntities(filter string, entities []*Entity) []*Entity {
	tokens := strings.Fields(normalizeText(filter))
	if len(tokens) == 0 {
		return entities
	}

	var matches []*Entity
	for _, ent := range entities {
		if matchesTokens(tokens, ent) {
			matches = append(matches, ent)
		}
	}
	if len(tokens) >= 3 && len(matches) > 1 {
		return []*Entity{bestMatch(tokens, matches)}
	}
	return matches
}

func matchesTokens(tokens []string, ent *Entity) bool {
	haystack := normalizeText(ent.FriendlyName() + " " + ent.EntityID)
	for _, tok := range tokens {
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

// bestMatch scores candidates by how many filter tokens appear as
// exact words of the friendly name. Ties go to the shorter entity_id.
func bestMatch(tokens []string, matches []*Entity) *Entity {
	best := matches[0]
	bestScore := -1
	for _, ent := range matches {
		score := matchScore(tokens, ent)
		if score > bestScore || (score == bestScore && len(ent.EntityID) < len(best.EntityID)) {
			best = ent
			bestScore = score
		}
	}
	return best
}

func matchScore(tokens []string, ent *Entity) int {
	words := map[string]bool{}
	for _, w := range strings.Fields(normalizeText(ent.FriendlyName())) {
		words[w] = true
	}
	score := 0
	for _, tok := range tokens {
		if words[tok] {
			score++
		}
	}
	return score
}

// normalizeText lowercases, maps underscores to spaces, strips
// punctuation, collapses whitespace, and drops a trailing plural s
// (lamps -> lamp).
func normalizeText(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "_", " "))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	s = strings.Join(strings.Fields(b.String()), " ")
	if len(s) > 3 && strings.HasSuffix(s, "s") {
		s = s[:len(s)-1]
	}
	return s
}
