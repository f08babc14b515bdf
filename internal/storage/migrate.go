package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"ats-platform/pkg/utils"
)

//go:embed schema.sql
var schema string

// Statements returns the schema split into individual statements, with
// comment-only chunks dropped.
func Statements() []string {
	var out []string
	for _, chunk := range strings.Split(schema, "\n;\n") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := utils.ExecStatements(ctx, db, Statements()); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}
