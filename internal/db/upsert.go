package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder selects the bind parameter syntax of the target driver.
type Placeholder int

const (
	// Dollar emits $1, $2, ... (Postgres).
	Dollar Placeholder = iota
	// Question emits ? (SQLite).
	Question
)

// UpsertConfig describes a single-row INSERT ... ON CONFLICT DO UPDATE.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // inserted columns, in bind order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns overwritten on conflict; nil = all non-key columns
	Returning    []string // optional RETURNING columns
}

// BuildUpsert renders the upsert statement. Every non-key column is replaced
// on conflict unless UpdateCols narrows it, so repeated writes converge on
// the last one.
func BuildUpsert(cfg UpsertConfig, ph Placeholder) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	binds := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		if ph == Question {
			binds[i] = "?"
		} else {
			binds[i] = fmt.Sprintf("$%d", i+1)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(binds, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)

	if len(updateCols) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		sets := make([]string, len(updateCols))
		for i, c := range updateCols {
			q := pgx.Identifier{c}.Sanitize()
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}

	if len(cfg.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(quoteAndJoin(cfg.Returning))
	}
	return b.String(), nil
}

// MustBuildUpsert is BuildUpsert for statements fixed at init time.
func MustBuildUpsert(cfg UpsertConfig, ph Placeholder) string {
	s, err := BuildUpsert(cfg, ph)
	if err != nil {
		panic(err)
	}
	return s
}

// sanitizeTable handles schema-qualified names like "leads.enrichments".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
