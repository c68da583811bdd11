package sql

import (
	"errors"
	"testing"
)

func TestValidateExtractionQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    string
		wantErr error
	}{
		{
			name:  "plain select",
			query: "SELECT id, total FROM orders",
			want:  "SELECT id, total FROM orders",
		},
		{
			name:  "trailing semicolon stripped",
			query: "select * from orders;",
			want:  "select * from orders",
		},
		{
			name:  "cte allowed",
			query: "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
			want:  "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		},
		{
			name:  "semicolon inside string literal",
			query: "SELECT * FROM orders WHERE note = 'a;b'",
			want:  "SELECT * FROM orders WHERE note = 'a;b'",
		},
		{
			name:    "multiple statements rejected",
			query:   "SELECT 1; DROP TABLE orders",
			wantErr: ErrMultipleStatements,
		},
		{
			name:    "mutation rejected",
			query:   "DELETE FROM orders",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "insert rejected",
			query:   "INSERT INTO orders VALUES (1)",
			wantErr: ErrNotReadOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateExtractionQuery(tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("normalized = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateExtractionQueryEmpty(t *testing.T) {
	if _, err := ValidateExtractionQuery("   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}
