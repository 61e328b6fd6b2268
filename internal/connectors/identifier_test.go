package connectors

import (
	"errors"
	"testing"
)

func TestValidateIdentifierAccepts(t *testing.T) {
	for _, value := range []string{"users", "Users", "_private", "tbl_2024", "a"} {
		got, err := ValidateIdentifier(value, "table")
		if err != nil {
			t.Fatalf("ValidateIdentifier(%q): %v", value, err)
		}
		if got != value {
			t.Fatalf("ValidateIdentifier(%q): want unchanged got=%q", value, got)
		}
	}
}

func TestValidateIdentifierRejects(t *testing.T) {
	for _, value := range []string{
		"",
		"2fast",
		"users; DROP TABLE users",
		`users"`,
		"users table",
		"users-archive",
		"schema.table",
		"col\n",
	} {
		_, err := ValidateIdentifier(value, "column")
		var invalid *InvalidIdentifierError
		if !errors.As(err, &invalid) {
			t.Fatalf("ValidateIdentifier(%q): want=*InvalidIdentifierError got=%T (%v)", value, err, err)
		}
		if invalid.FieldName != "column" {
			t.Fatalf("field name: want=%q got=%q", "column", invalid.FieldName)
		}
	}
}

func TestQuoteIdentifiers(t *testing.T) {
	got, err := quotePostgresIdentifier("events", "table")
	if err != nil {
		t.Fatalf("quotePostgresIdentifier: %v", err)
	}
	if got != `"events"` {
		t.Fatalf("postgres quote: want=%q got=%q", `"events"`, got)
	}

	got, err = quoteClickHouseIdentifier("events", "table")
	if err != nil {
		t.Fatalf("quoteClickHouseIdentifier: %v", err)
	}
	if got != "`events`" {
		t.Fatalf("clickhouse quote: want=%q got=%q", "`events`", got)
	}

	if _, err := quotePostgresIdentifier(`ev"ents`, "table"); err == nil {
		t.Fatalf("quotePostgresIdentifier: want error for embedded quote")
	}
	if _, err := quoteClickHouseIdentifier("ev`ents", "table"); err == nil {
		t.Fatalf("quoteClickHouseIdentifier: want error for embedded backtick")
	}
}
