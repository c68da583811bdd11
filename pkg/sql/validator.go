// Package sql validates extraction queries before they reach a source.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrNotReadOnly indicates the query is not a read-only statement.
	ErrNotReadOnly = errors.New("extraction queries must be read-only")
)

// readOnlyPrefixes are the statement forms an extraction query may take.
var readOnlyPrefixes = []string{"select", "with", "values", "show", "table"}

// ValidateExtractionQuery normalizes a query and verifies it is a single
// read-only statement. Extraction pulls data out of a source; a query
// that mutates the source is a configuration error, not an extraction.
func ValidateExtractionQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("invalid parameter: query is required")
	}

	normalized := stripTrailingSemicolon(query)

	if hasSemicolonOutsideStrings(normalized) {
		return "", ErrMultipleStatements
	}

	lowered := strings.ToLower(normalized)
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(lowered, prefix+" ") || strings.HasPrefix(lowered, prefix+"\n") ||
			strings.HasPrefix(lowered, prefix+"\t") || strings.HasPrefix(lowered, prefix+"(") {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("%w: statement must start with one of %s",
		ErrNotReadOnly, strings.Join(readOnlyPrefixes, ", "))
}

func stripTrailingSemicolon(query string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
}

// hasSemicolonOutsideStrings reports whether the query contains a
// semicolon outside of string literals. The trailing semicolon has
// already been stripped, so any hit means a second statement.
func hasSemicolonOutsideStrings(query string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	var prev rune

	for _, char := range query {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = char
	}
	return false
}
