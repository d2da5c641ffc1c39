package migrator

import (
	"fmt"
	"strings"
)

// u10ColumnReorder rebuilds a table in place when its physical column
// order no longer matches target, after U7-U9 have landed every other
// change (§4.5.1 U10). Tables that only differ in order (OrderOnly) and
// tables whose column changes leave a stale order both land here.
func (p *Planner) u10ColumnReorder(b *scriptBuilder, diff *SchemaDiff, current, target *Schema) {
	ph := b.phase(10, "Column Reorder")
	for _, td := range diff.ModifiedTables {
		tt, ok := target.Tables.Get(qualify(td.Schema, td.TableName))
		if !ok {
			continue
		}
		ct, _ := current.Tables.Get(qualify(td.Schema, td.TableName))
		if !td.OrderOnly && !reorderNeeded(ct, tt) {
			continue
		}
		rebuildTableInPlace(ph, td.Schema, td.TableName, tt, current, target)
	}
}

// reorderNeeded reports whether the relative order of columns common to
// both current and target (by name) differs, ignoring columns that are
// being added or dropped: those land at the physical end of the table
// under U7/U8 regardless, so they never by themselves force a reorder.
func reorderNeeded(current, target *Table) bool {
	if current == nil || target == nil {
		return false
	}
	var curShared, tgtShared []string
	for _, c := range current.OrderedColumns() {
		if target.Columns.Has(c.Name) {
			curShared = append(curShared, strings.ToLower(c.Name))
		}
	}
	for _, c := range target.OrderedColumns() {
		if current.Columns.Has(c.Name) {
			tgtShared = append(tgtShared, strings.ToLower(c.Name))
		}
	}
	if len(curShared) != len(tgtShared) {
		return true
	}
	for i := range curShared {
		if curShared[i] != tgtShared[i] {
			return true
		}
	}
	return false
}

// rebuildTableInPlace implements U10 steps 1-6 (and the symmetric down
// reorder named in §4.5.2): drop every referencing FK, create a
// <table>_reorder_<suffix> shadow table with the desired column order,
// copy data positionally via dynamic SQL, swap the tables, then
// reattach PK, indexes and FKs under two-phase validation.
func rebuildTableInPlace(ph *phaseBuilder, schema, table string, desired *Table, current, target *Schema) {
	tmpName := reorderTableName(schema, table)

	// Step 1: drop every FK referencing this table, from both schemas
	// so a reorder triggered purely by order still clears FKs that will
	// be recreated against the rebuilt table.
	seen := make(map[string]bool)
	for _, s := range []*Schema{current, target} {
		for _, fks := range sortedForeignKeyGroups(s.ForeignKeysByConstraint()) {
			fk := fks[0]
			if strings.EqualFold(fk.RefTable, table) {
				key := strings.ToLower(fk.Schema + "." + fk.Name)
				if seen[key] {
					continue
				}
				seen[key] = true
				ph.add(dropConstraintGuardedSQL(fk.Schema, fk.Table, fk.Name))
			}
		}
	}

	// Step 2: create the shadow table with the desired order.
	ph.add(createTableSQLNamed(desired, tmpName))

	cols := desired.OrderedColumns()
	names := make([]string, len(cols))
	hasIdentity := false
	for i, c := range cols {
		names[i] = qbracket(c.Name)
		if c.IsIdentity {
			hasIdentity = true
		}
	}
	colList := strings.Join(names, ", ")

	// Step 3/4/5: identity insert, positional copy, swap.
	if hasIdentity {
		ph.addf("SET IDENTITY_INSERT %s ON;", qualifiedBracket(schema, tmpName))
	}
	ph.add(positionalCopySQL(schema, table, tmpName, colList))
	if hasIdentity {
		ph.addf("SET IDENTITY_INSERT %s OFF;", qualifiedBracket(schema, tmpName))
	}
	ph.add(dropTableIfExistsSQL(schema, table))
	ph.addf("EXEC sp_rename '%s', '%s';", qualifiedBracket(schema, tmpName), table)

	// Step 6: reattach PK, indexes, FKs.
	var pkCols []string
	for _, c := range cols {
		if c.IsPrimaryKey {
			pkCols = append(pkCols, qbracket(c.Name))
		}
	}
	if len(pkCols) > 0 {
		ph.addf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s);",
			qualifiedBracket(schema, table), qbracket(pkConstraintName(table)), strings.Join(pkCols, ", "))
	}
	for _, idx := range desired.Indexes {
		ph.add(createIndexSQL(schema, table, idx))
	}
	for _, fks := range sortedForeignKeyGroups(target.ForeignKeysByConstraint()) {
		fk := fks[0]
		if strings.EqualFold(fk.Table, table) || strings.EqualFold(fk.RefTable, table) {
			ph.add(addForeignKeySQL(&fk))
		}
	}
}

func createTableSQLNamed(t *Table, name string) string {
	shadow := *t
	shadow.Name = name
	return createTableSQLWithPK(&shadow, false)
}

// positionalCopySQL builds the guarded, late-bound INSERT...SELECT used
// by U10 step 4: the SELECT list matches colList positionally, sourced
// from the current physical layout of src, and the whole statement is
// wrapped in an existence check plus executed via sp_executesql so a
// prior phase's drift cannot produce an invalid static plan.
func positionalCopySQL(schema, src, dst, colList string) string {
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		qualifiedBracket(schema, dst), colList, colList, qualifiedBracket(schema, src))
	return fmt.Sprintf(
		"IF OBJECT_ID('%s') IS NOT NULL EXEC sp_executesql N'%s';",
		qualifiedBracket(schema, src), strings.ReplaceAll(stmt, "'", "''"))
}
