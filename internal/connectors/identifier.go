package connectors

import (
	"fmt"
	"regexp"
)

// identifierPattern is the whole defense against SQL injection for
// interpolated identifiers: letters, digits and underscore only, no leading
// digit, so quoting or escaping characters can never reach a query string.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidIdentifierError rejects a schema, table or column name that does not
// match the identifier grammar.
type InvalidIdentifierError struct {
	FieldName string
	Value     string
}

func (e *InvalidIdentifierError) Error() string {
	if e == nil {
		return "invalid identifier"
	}
	return fmt.Sprintf("invalid %s: %s", e.FieldName, e.Value)
}

// ValidateIdentifier returns the value unchanged when it matches the
// identifier grammar and fails otherwise. Every schema, table and column name
// must pass through here before being placed into generated SQL.
func ValidateIdentifier(value, fieldName string) (string, error) {
	if !identifierPattern.MatchString(value) {
		return "", &InvalidIdentifierError{FieldName: fieldName, Value: value}
	}
	return value, nil
}
