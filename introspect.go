package migrator

import "context"

// Introspector is the opaque provider contract the core consumes to
// read a live database's structure (§6 "Introspection contract").
// Implementations are out of scope for this module — §1's Non-goals
// excludes the introspection backend itself; only its shape is fixed
// here so generate-initial/generate-incremental can be wired against
// any conforming provider (real SQL Server catalog queries, a
// fixture, a mock).
type Introspector interface {
	// GetSchema returns every table visible under schemaFilter, minus
	// excludeTables (by qualified name), keyed by qualified name.
	GetSchema(ctx context.Context, schemaFilter string, excludeTables []string) (map[string]*Table, error)

	// GetForeignKeys returns every foreign key owned by the given
	// qualified table names, grouped by owning table.
	GetForeignKeys(ctx context.Context, tableNames []string) (map[string][]ForeignKey, error)

	// GetSequences returns every SEQUENCE object in the database.
	GetSequences(ctx context.Context) ([]*Sequence, error)

	// GetStoredProcedures returns every user stored procedure.
	GetStoredProcedures(ctx context.Context) ([]*StoredProcedure, error)

	// ScriptTableCreate returns the literal CREATE TABLE script SQL
	// Server's own scripting facility would produce for qualifiedName;
	// when the table does not exist it returns "", false and a nil
	// error.
	ScriptTableCreate(ctx context.Context, qualifiedName string) (string, bool, error)
}

// SQLExecutor is a minimal statement-execution contract: a SQL
// statement and its bound args in, an affected-row count or error out.
// Nothing in this package consumes it; the Applier executes batches
// through *sql.Tx directly, and *sql.Tx does not satisfy it.
type SQLExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// BuildSchema assembles a *Schema from an Introspector, the shape
// generate-initial and generate-incremental both need before handing
// the result to a Differ. excludeTables should always include the
// tracking table (§6: "Must not be included in introspected schemas").
func BuildSchema(ctx context.Context, intro Introspector, schemaFilter string, excludeTables []string) (*Schema, error) {
	excludeTables = append(excludeTables, trackingTable)

	tables, err := intro.GetSchema(ctx, schemaFilter, excludeTables)
	if err != nil {
		return nil, &IntrospectionError{Op: "GetSchema", Err: err}
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	fks, err := intro.GetForeignKeys(ctx, names)
	if err != nil {
		return nil, &IntrospectionError{Op: "GetForeignKeys", Err: err}
	}
	for tableName, tableFKs := range fks {
		t, ok := tables[tableName]
		if !ok {
			continue
		}
		for _, fk := range tableFKs {
			c, ok := t.Columns.Get(fk.Column)
			if !ok {
				continue
			}
			c.ForeignKeys = append(c.ForeignKeys, fk)
		}
	}

	sequences, err := intro.GetSequences(ctx)
	if err != nil {
		return nil, &IntrospectionError{Op: "GetSequences", Err: err}
	}
	procedures, err := intro.GetStoredProcedures(ctx)
	if err != nil {
		return nil, &IntrospectionError{Op: "GetStoredProcedures", Err: err}
	}

	schema := NewSchema()
	for name, t := range tables {
		schema.Tables.Set(name, t)
	}
	for _, s := range sequences {
		schema.Sequences.Set(s.Name, s)
	}
	for _, p := range procedures {
		schema.Procedures.Set(p.Name, p)
	}
	return schema, nil
}
