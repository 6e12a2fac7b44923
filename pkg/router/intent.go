package router

import (
	"strings"

	"github.com/steward-ai/steward/pkg/models"
)

// Closed keyword vocabularies for intent inference. The vocabulary with
// the most token matches wins; ties resolve in the order security,
// development, database, planning. No matches at all means general.
var intentVocabularies = []struct {
	intent models.Intent
	words  map[string]struct{}
}{
	{models.IntentSecurity, wordSet(
		"security", "vulnerability", "vulnerabilities", "exploit", "cve",
		"auth", "authentication", "authorization", "credential", "credentials",
		"encrypt", "encryption", "decrypt", "tls", "ssl", "certificate",
		"injection", "xss", "csrf", "sanitize", "audit", "pentest", "secret",
		"secrets", "token", "password", "hash", "firewall", "breach",
	)},
	{models.IntentDevelopment, wordSet(
		"code", "function", "refactor", "implement", "implementation", "bug",
		"debug", "compile", "build", "test", "tests", "api", "endpoint",
		"class", "method", "library", "module", "package", "deploy", "merge",
		"commit", "branch", "lint", "typescript", "python", "golang", "rust",
		"javascript", "react", "backend", "frontend",
	)},
	{models.IntentDatabase, wordSet(
		"database", "sql", "query", "queries", "table", "tables", "schema",
		"index", "indexes", "migration", "migrations", "postgres", "postgresql",
		"mysql", "sqlite", "redis", "mongodb", "join", "transaction", "orm",
		"column", "columns", "row", "rows", "primary", "foreign", "normalize",
	)},
	{models.IntentPlanning, wordSet(
		"plan", "planning", "roadmap", "milestone", "milestones", "sprint",
		"estimate", "estimation", "timeline", "schedule", "prioritize",
		"priority", "backlog", "scope", "requirements", "architecture",
		"design", "strategy", "breakdown", "epic", "stories",
	)},
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// tokenize lowercases the query and splits on anything that is not a
// letter or digit.
func tokenize(query string) []string {
	lower := strings.ToLower(query)
	return strings.FieldsFunc(lower, func(r rune) bool {
		isLetter := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		return !isLetter && !isDigit
	})
}

// inferIntent classifies tokens against the vocabularies. The returned
// matches are the distinct tokens that hit the winning vocabulary, in
// first-seen order.
func inferIntent(tokens []string) (models.Intent, []string) {
	best := models.IntentGeneral
	var bestMatches []string
	for _, vocab := range intentVocabularies {
		var matches []string
		seen := make(map[string]struct{})
		for _, token := range tokens {
			if _, inVocab := vocab.words[token]; !inVocab {
				continue
			}
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			matches = append(matches, token)
		}
		// Strictly greater keeps the declared tie order.
		if len(matches) > len(bestMatches) {
			best = vocab.intent
			bestMatches = matches
		}
	}
	return best, bestMatches
}
