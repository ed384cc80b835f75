package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes how a batch of rows is folded into a keyed table: rows are
// staged with COPY into a session temp table, then merged with
// INSERT ... ON CONFLICT in the same transaction.
type Merge struct {
	Table   string   // optionally schema-qualified
	Columns []string // column order of every row
	Keys    []string // unique constraint the merge conflicts on
	// Update lists the columns rewritten on conflict. nil means every
	// non-key column.
	Update []string
	// Touch names a timestamp column set to now() whenever a row is
	// inserted or changed.
	Touch string
	// SkipUnchanged leaves existing rows whose update columns already hold
	// the incoming values untouched; they are not counted as affected.
	SkipUnchanged bool
}

func (m Merge) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: no table specified")
	case len(m.Columns) == 0:
		return eris.Errorf("db: merge %s: no columns specified", m.Table)
	case len(m.Keys) == 0:
		return eris.Errorf("db: merge %s: no conflict keys specified", m.Table)
	}
	for _, k := range m.Keys {
		if !slices.Contains(m.Columns, k) {
			return eris.Errorf("db: merge %s: key %q is not a column", m.Table, k)
		}
	}
	return nil
}

func (m Merge) updateColumns() []string {
	if m.Update != nil {
		return m.Update
	}
	var cols []string
	for _, c := range m.Columns {
		if !slices.Contains(m.Keys, c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// stage is the temp table rows are copied into.
func (m Merge) stage() string {
	return "_stage_" + strings.ReplaceAll(m.Table, ".", "_")
}

func (m Merge) createStageSQL() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{m.stage()}.Sanitize(), sanitizeTable(m.Table))
}

func (m Merge) mergeSQL() string {
	table := sanitizeTable(m.Table)
	cols := quoteAndJoin(m.Columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		table, cols, cols, pgx.Identifier{m.stage()}.Sanitize(), quoteAndJoin(m.Keys))

	update := m.updateColumns()
	if len(update) == 0 && m.Touch == "" {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	set := make([]string, 0, len(update)+1)
	current := make([]string, 0, len(update))
	incoming := make([]string, 0, len(update))
	for _, c := range update {
		col := pgx.Identifier{c}.Sanitize()
		set = append(set, col+" = EXCLUDED."+col)
		current = append(current, table+"."+col)
		incoming = append(incoming, "EXCLUDED."+col)
	}
	if m.Touch != "" {
		set = append(set, pgx.Identifier{m.Touch}.Sanitize()+" = now()")
	}
	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(set, ", "))

	if m.SkipUnchanged && len(update) > 0 {
		fmt.Fprintf(&b, " WHERE (%s) IS DISTINCT FROM (%s)",
			strings.Join(current, ", "), strings.Join(incoming, ", "))
	}
	return b.String()
}

// Apply stages rows and merges them into the table, returning the number of
// rows inserted or changed.
func (m Merge) Apply(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin tx", m.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.createStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create stage table", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{m.stage()}, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy %d rows", m.Table, len(rows))
	}

	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}

func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
