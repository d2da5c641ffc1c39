package migrator

import (
	"fmt"
	"sort"
	"strings"
)

// scriptHeader is the first line of every emitted script, the external
// contract named in §6 ("Script file format").
const scriptHeader = "-- Generated using Minfold, do not edit manually"

// scriptBuilder accumulates phases of a migration script. Each phase is
// a banner followed by zero or more statements; phases that contributed
// no statements are omitted entirely from the final text.
type scriptBuilder struct {
	phases []*phaseBuilder
	log    Logger
}

type phaseBuilder struct {
	number int
	title  string
	stmts  []string
}

func newScriptBuilder(log Logger) *scriptBuilder {
	if log == nil {
		log = NopLogger
	}
	return &scriptBuilder{log: log}
}

// phase starts (or resumes) a numbered phase. Calling phase with the
// same number twice returns the same accumulator, so a phase can be
// filled incrementally across helper functions.
func (b *scriptBuilder) phase(number int, title string) *phaseBuilder {
	for _, p := range b.phases {
		if p.number == number {
			return p
		}
	}
	p := &phaseBuilder{number: number, title: title}
	b.phases = append(b.phases, p)
	return p
}

func (p *phaseBuilder) add(stmt string) {
	stmt = strings.TrimRight(stmt, "\n")
	if stmt == "" {
		return
	}
	p.stmts = append(p.stmts, stmt)
}

func (p *phaseBuilder) addf(format string, args ...any) {
	p.add(fmt.Sprintf(format, args...))
}

// build concatenates non-empty phases, in ascending phase number, each
// preceded by the banner from §6. Returns ErrNoChanges if every phase
// is empty.
func (b *scriptBuilder) build() (string, error) {
	var out strings.Builder
	out.WriteString(scriptHeader + "\n")
	out.WriteString("SET XACT_ABORT ON;\n")

	any := false
	for _, p := range b.phases {
		if len(p.stmts) == 0 {
			continue
		}
		any = true
		b.log.Debug("emitting phase", F("phase", p.number), F("title", p.title), F("statements", len(p.stmts)))
		out.WriteString("-- =============================================\n")
		out.WriteString(fmt.Sprintf("-- Phase %d: %s\n", p.number, p.title))
		out.WriteString("-- =============================================\n")
		for _, s := range p.stmts {
			out.WriteString(s)
			out.WriteString("\n")
		}
	}
	if !any {
		return "", ErrNoChanges
	}
	return out.String(), nil
}

// --- shared SQL fragment builders used by both plan_up.go and plan_down.go ---

func qbracket(name string) string { return "[" + name + "]" }

func qualifiedBracket(schema, name string) string {
	if schema == "" {
		schema = "dbo"
	}
	return qbracket(schema) + "." + qbracket(name)
}

// dropDefaultConstraintSQL emits a dynamic lookup-and-drop of the
// default constraint on (schema.table.column), since SQL Server blocks
// dropping or altering a column while its default constraint exists
// and default constraint names are not always known statically
// (§4.5.1 U8 step 3/5).
func dropDefaultConstraintSQL(schema, table, column string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DECLARE @df_%s NVARCHAR(128);\n", anonSuffix(schema, table, column))
	fmt.Fprintf(&b, "SELECT @df_%s = dc.name FROM sys.default_constraints dc\n", anonSuffix(schema, table, column))
	fmt.Fprintf(&b, "  JOIN sys.columns c ON c.object_id = dc.parent_object_id AND c.column_id = dc.parent_column_id\n")
	fmt.Fprintf(&b, "  WHERE dc.parent_object_id = OBJECT_ID('%s') AND c.name = '%s';\n", qualifiedBracket(schema, table), column)
	fmt.Fprintf(&b, "IF @df_%s IS NOT NULL EXEC('ALTER TABLE %s DROP CONSTRAINT [' + @df_%s + ']');",
		anonSuffix(schema, table, column), qualifiedBracket(schema, table), anonSuffix(schema, table, column))
	return b.String()
}

func anonSuffix(parts ...string) string { return deterministicSuffix(parts...) }

func dropConstraintGuardedSQL(schema, table, constraint string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID('%s', 'F') IS NOT NULL OR OBJECT_ID('%s', 'PK') IS NOT NULL ALTER TABLE %s DROP CONSTRAINT %s;",
		qualifiedBracket(schema, constraint), qualifiedBracket(schema, constraint), qualifiedBracket(schema, table), qbracket(constraint))
}

func dropIndexGuardedSQL(schema, table, index string) string {
	return fmt.Sprintf(
		"IF EXISTS (SELECT 1 FROM sys.indexes WHERE object_id = OBJECT_ID('%s') AND name = '%s') DROP INDEX %s ON %s;",
		qualifiedBracket(schema, table), index, qbracket(index), qualifiedBracket(schema, table))
}

func createIndexSQL(schema, table string, idx Index) string {
	unique := ""
	if idx.IsUnique {
		unique = "UNIQUE "
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = qbracket(c)
	}
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE object_id = OBJECT_ID('%s') AND name = '%s') CREATE %sINDEX %s ON %s (%s);",
		qualifiedBracket(schema, table), idx.Name, unique, qbracket(idx.Name), qualifiedBracket(schema, table), strings.Join(cols, ", "))
}

// columnDefSQL renders a full inline column definition as used in
// CREATE TABLE / reorder rebuilds (§4.5.1 U7, U10).
func columnDefSQL(schema, table string, c *Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s ", qbracket(c.Name))
	if c.IsComputed {
		expr := ""
		if c.ComputedSQL != nil {
			expr = *c.ComputedSQL
		}
		fmt.Fprintf(&b, "AS %s", expr)
		return b.String()
	}
	fmt.Fprintf(&b, "%s", renderType(c))
	if c.IsIdentity {
		fmt.Fprintf(&b, " %s", renderIdentity(c))
	}
	if c.IsNullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultValue != nil {
		name := c.DefaultConstraintName
		if name == "" {
			name = defaultConstraintName(schema, table, c.Name, *c.DefaultValue)
		}
		fmt.Fprintf(&b, " CONSTRAINT %s DEFAULT %s", qbracket(name), *c.DefaultValue)
	}
	return b.String()
}

// foreignKeyDefSQL renders the "FOREIGN KEY (...) REFERENCES ..." tail
// used both inline and in standalone ADD CONSTRAINT statements.
func foreignKeyDefSQL(fk *ForeignKey) string {
	s := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		qbracket(fk.Column), qualifiedBracket(fk.RefSchema, fk.RefTable), qbracket(fk.RefColumn))
	if fk.DeleteAction != "" && fk.DeleteAction != ActionNoAction {
		s += " ON DELETE " + strings.ReplaceAll(string(fk.DeleteAction), "_", " ")
	}
	if fk.UpdateAction != "" && fk.UpdateAction != ActionNoAction {
		s += " ON UPDATE " + strings.ReplaceAll(string(fk.UpdateAction), "_", " ")
	}
	if fk.NotForReplication {
		s += " NOT FOR REPLICATION"
	}
	return s
}

// addForeignKeySQL implements the two-phase validation protocol from
// §4.5.1 U9: create WITH NOCHECK unconditionally, then, only when the
// target wants the FK trusted, drop and recreate WITH CHECK. This is
// the only reliable way to land the catalog's is_not_trusted flag in
// the intended state.
func addForeignKeySQL(fk *ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s WITH NOCHECK ADD CONSTRAINT %s %s;",
		qualifiedBracket(fk.Schema, fk.Table), qbracket(fk.Name), foreignKeyDefSQL(fk))
	if !fk.NotEnforced {
		b.WriteString("\n")
		fmt.Fprintf(&b, "ALTER TABLE %s DROP CONSTRAINT %s;\n", qualifiedBracket(fk.Schema, fk.Table), qbracket(fk.Name))
		fmt.Fprintf(&b, "ALTER TABLE %s WITH CHECK ADD CONSTRAINT %s %s;\n",
			qualifiedBracket(fk.Schema, fk.Table), qbracket(fk.Name), foreignKeyDefSQL(fk))
		fmt.Fprintf(&b, "ALTER TABLE %s CHECK CONSTRAINT %s;", qualifiedBracket(fk.Schema, fk.Table), qbracket(fk.Name))
	}
	return b.String()
}

func createSequenceSQL(s *Sequence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE SEQUENCE %s AS %s", qualifiedBracket(s.Schema, s.Name), s.DataType)
	if s.StartValue != nil {
		fmt.Fprintf(&b, " START WITH %d", *s.StartValue)
	}
	if s.Increment != nil {
		fmt.Fprintf(&b, " INCREMENT BY %d", *s.Increment)
	}
	if s.MinValue != nil {
		fmt.Fprintf(&b, " MINVALUE %d", *s.MinValue)
	}
	if s.MaxValue != nil {
		fmt.Fprintf(&b, " MAXVALUE %d", *s.MaxValue)
	}
	if s.CacheSize != nil {
		fmt.Fprintf(&b, " CACHE %d", *s.CacheSize)
	}
	if s.Cycle {
		b.WriteString(" CYCLE")
	} else {
		b.WriteString(" NO CYCLE")
	}
	b.WriteString(";")
	return b.String()
}

func dropSequenceGuardedSQL(schema, name string) string {
	return fmt.Sprintf("IF OBJECT_ID('%s', 'SO') IS NOT NULL DROP SEQUENCE %s;", qualifiedBracket(schema, name), qualifiedBracket(schema, name))
}

func dropProcedureGuardedSQL(schema, name string) string {
	return fmt.Sprintf("IF OBJECT_ID('%s', 'P') IS NOT NULL DROP PROCEDURE %s;", qualifiedBracket(schema, name), qualifiedBracket(schema, name))
}

func dropTableIfExistsSQL(schema, name string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", qualifiedBracket(schema, name))
}

// sortedForeignKeyGroups returns groups's constraints ordered by their
// (lower-cased schema.table#name) key, so statements built by ranging
// over ForeignKeysByConstraint's result come out in the same order on
// every run (§4.5.4, §8 invariant 4).
func sortedForeignKeyGroups(groups map[string][]ForeignKey) [][]ForeignKey {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]ForeignKey, len(keys))
	for i, k := range keys {
		out[i] = groups[k]
	}
	return out
}
