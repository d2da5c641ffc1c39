package migrator

import (
	"fmt"
	"strings"
)

// Planner turns a SchemaDiff into up.sql / down.sql text (§4.5). It
// carries no state between calls; the same diff always produces the
// same scripts (§4.5.4, §8 invariant 4).
type Planner struct {
	log Logger
}

// NewPlanner returns a Planner. A nil logger installs NopLogger.
func NewPlanner(log Logger) *Planner {
	if log == nil {
		log = NopLogger
	}
	return &Planner{log: log}
}

// PlanUp emits the up-script phases U1-U11 (§4.5.1). current is the
// pre-migration schema, used to resolve live column counts for the
// single-column safety protocol and to locate FKs referencing tables
// being dropped. target is the desired post-migration schema, the
// source of truth for U10's desired column order and the FKs U10
// must reattach.
func (p *Planner) PlanUp(diff *SchemaDiff, current, target *Schema) (string, error) {
	b := newScriptBuilder(p.log)

	p.u1DropProcedures(b, diff)
	p.u2DropSequences(b, diff)
	p.u3DropForeignKeys(b, diff, current)
	p.u4DropPrimaryKeys(b, diff)
	p.u5DropTables(b, diff)
	p.u6CreateSequences(b, diff)
	p.u7CreateTables(b, diff)
	p.u8ModifyColumns(b, diff, current)
	p.u9Constraints(b, diff)
	p.u10ColumnReorder(b, diff, current, target)
	p.u11CreateProcedures(b, diff)

	return b.build()
}

// u1DropProcedures drops every procedure removed or about to be
// redefined, each wrapped in its own GO-delimited batch to mirror
// U11's emitProcedure (§4.5.1 U1).
func (p *Planner) u1DropProcedures(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(1, "Drop Stored Procedures")
	for _, proc := range diff.DroppedProcedures {
		ph.add("GO")
		ph.add(dropProcedureGuardedSQL(proc.Schema, proc.Name))
		ph.add("GO")
	}
	for _, ch := range diff.ProcedureChanges {
		if ch.Kind == entityModify {
			ph.add("GO")
			ph.add(dropProcedureGuardedSQL(ch.Old.Schema, ch.Old.Name))
			ph.add("GO")
		}
	}
}

func (p *Planner) u2DropSequences(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(2, "Drop Sequences")
	for _, seq := range diff.DroppedSequences {
		ph.add(dropSequenceGuardedSQL(seq.Schema, seq.Name))
	}
	for _, ch := range diff.SequenceChanges {
		if ch.Kind == entityModify {
			ph.add(dropSequenceGuardedSQL(ch.Old.Schema, ch.Old.Name))
		}
	}
}

// u3DropForeignKeys drops FKs owned by or referencing dropped tables,
// FKs that reference a primary key column slated to be dropped in U4,
// and FKs whose constraint is itself dropped or modified (§4.5.1 U3).
func (p *Planner) u3DropForeignKeys(b *scriptBuilder, diff *SchemaDiff, current *Schema) {
	ph := b.phase(3, "Drop Foreign Keys")

	dropped := make(map[string]bool)
	for _, name := range diff.DroppedTableNames {
		dropped[strings.ToLower(name)] = true
	}
	isDropped := func(schema, table string) bool {
		return dropped[strings.ToLower(table)] || dropped[strings.ToLower(qualify(schema, table))]
	}
	for _, fks := range sortedForeignKeyGroups(current.ForeignKeysByConstraint()) {
		fk := fks[0]
		if isDropped(fk.Schema, fk.Table) || isDropped(fk.RefSchema, fk.RefTable) {
			ph.add(dropConstraintGuardedSQL(fk.Schema, fk.Table, fk.Name))
		}
	}

	for _, td := range diff.ModifiedTables {
		for _, cc := range td.ColumnChanges {
			if cc.Kind != ColumnDrop && cc.Kind != ColumnRebuild && cc.Kind != ColumnModify {
				continue
			}
			col := cc.Old
			if col == nil || !col.IsPrimaryKey {
				continue
			}
			for _, fk := range current.ForeignKeysReferencing(td.Schema, td.TableName, col.Name) {
				ph.add(dropConstraintGuardedSQL(fk.Schema, fk.Table, fk.Name))
			}
		}
		for _, fkc := range td.ForeignKeyChanges {
			if fkc.Kind == entityDrop || fkc.Kind == entityModify {
				ph.add(dropConstraintGuardedSQL(fkc.Old.Schema, fkc.Old.Table, fkc.Old.Name))
			}
		}
	}
}

// u4DropPrimaryKeys drops PK_<table> for any table whose column changes
// touch a current-PK column (§4.5.1 U4).
func (p *Planner) u4DropPrimaryKeys(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(4, "Drop Primary Keys")
	for _, td := range diff.ModifiedTables {
		if touchesPK(td) {
			ph.add(dropConstraintGuardedSQL(td.Schema, td.TableName, pkConstraintName(td.TableName)))
		}
	}
}

func touchesPK(td *TableDiff) bool {
	for _, cc := range td.ColumnChanges {
		if cc.Kind != ColumnDrop && cc.Kind != ColumnRebuild && cc.Kind != ColumnModify {
			continue
		}
		if cc.Old != nil && cc.Old.IsPrimaryKey {
			return true
		}
	}
	return false
}

func (p *Planner) u5DropTables(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(5, "Drop Tables")
	for _, name := range diff.DroppedTableNames {
		schema := "dbo"
		if i := strings.Index(name, "."); i >= 0 {
			schema, name = name[:i], name[i+1:]
		}
		ph.add(dropTableIfExistsSQL(schema, name))
	}
}

func (p *Planner) u6CreateSequences(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(6, "Create Sequences")
	for _, s := range diff.NewSequences {
		ph.add(createSequenceSQL(s))
	}
	for _, ch := range diff.SequenceChanges {
		if ch.Kind == entityModify {
			ph.add(createSequenceSQL(ch.New))
		}
	}
}

func (p *Planner) u7CreateTables(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(7, "Create Tables")
	for _, t := range diff.NewTables {
		ph.add(createTableSQL(t))
	}
}

func createTableSQL(t *Table) string {
	return createTableSQLWithPK(t, true)
}

// createTableSQLWithPK renders a CREATE TABLE statement for t, inlining
// a PRIMARY KEY constraint only when inlinePK is set. The U10 reorder
// rebuild (§4.5.1 U10 step 2) needs the shadow table to carry only
// column-level constraints (defaults, IDENTITY); the PK is reattached
// separately in step 6, so inlining it here as well would leave the
// table with two PRIMARY KEY constraints.
func createTableSQLWithPK(t *Table, inlinePK bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualifiedBracket(t.Schema, t.Name))
	cols := t.OrderedColumns()
	var pkCols []string
	lines := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		lines = append(lines, "  "+columnDefSQL(t.Schema, t.Name, c))
		if c.IsPrimaryKey {
			pkCols = append(pkCols, qbracket(c.Name))
		}
	}
	if inlinePK && len(pkCols) > 0 {
		lines = append(lines, fmt.Sprintf("  CONSTRAINT %s PRIMARY KEY (%s)", qbracket(pkConstraintName(t.Name)), strings.Join(pkCols, ", ")))
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")
	return b.String()
}

// u8ModifyColumns implements the per-table intra-table ordering from
// §4.5.1 U8, including the single/zero-column safety protocol (§4.5.3).
func (p *Planner) u8ModifyColumns(b *scriptBuilder, diff *SchemaDiff, current *Schema) {
	ph := b.phase(8, "Modify Columns")
	for _, td := range diff.ModifiedTables {
		p.planTableColumns(ph, td, current)
	}
}

// planTableColumns emits U8's six steps for one table. It is shared by
// the up and down paths: the down path calls it with an
// already-inverted TableDiff and the live (post-up) schema in current.
func (p *Planner) planTableColumns(ph *phaseBuilder, td *TableDiff, current *Schema) {
	schema := td.Schema
	table := td.TableName

	ct, _ := current.Tables.Get(qualify(schema, table))
	if ct == nil {
		ct, _ = current.Tables.Get(table)
	}

	drops := columnsOfKind(td, ColumnDrop)
	modifies := append(columnsOfKind(td, ColumnModify), columnsOfKind(td, ColumnRebuild)...)
	adds := columnsOfKind(td, ColumnAdd)

	// Step 1: drop indexes touching any dropped column.
	if ct != nil {
		dropNames := make(map[string]bool)
		for _, cc := range drops {
			dropNames[strings.ToLower(cc.Old.Name)] = true
		}
		for _, idx := range ct.Indexes {
			for _, c := range idx.Columns {
				if dropNames[strings.ToLower(c)] {
					ph.add(dropIndexGuardedSQL(schema, table, idx.Name))
					break
				}
			}
		}
	}

	liveCount := 0
	if ct != nil {
		liveCount = ct.Columns.Len()
	}

	// Step 2: pre-ADD when a rebuild targets the table's only data
	// column and at least one Add exists, or dropping everything would
	// empty the table.
	preAdded := make(map[string]bool)
	wouldEmpty := len(drops) >= liveCount && liveCount > 0
	soleColumnRebuild := liveCount == 1 && len(modifies) > 0 && len(adds) > 0
	if (wouldEmpty || soleColumnRebuild) && len(adds) > 0 {
		for _, cc := range adds {
			ph.add(addColumnSQL(schema, table, cc.New, ct))
			preAdded[strings.ToLower(cc.New.Name)] = true
		}
	}

	// Step 3: drop columns, dynamic default lookup first.
	for _, cc := range drops {
		ph.add(dropDefaultConstraintSQL(schema, table, cc.Old.Name))
		ph.addf("ALTER TABLE %s DROP COLUMN %s;", qualifiedBracket(schema, table), qbracket(cc.Old.Name))
	}

	// Step 4/5: modify/rebuild columns.
	for _, cc := range modifies {
		decision := classifySafety(cc.Old, td, liveCount-len(drops))
		switch {
		case cc.Kind == ColumnRebuild && decision != safeDropThenAdd:
			emitSafeRename(ph, schema, table, cc, ct)
		case cc.Kind == ColumnRebuild:
			ph.addf("ALTER TABLE %s DROP COLUMN %s;", qualifiedBracket(schema, table), qbracket(cc.Old.Name))
			ph.add(addColumnSQL(schema, table, cc.New, ct))
		default: // pure Modify: ALTER COLUMN, default handled separately
			ph.addf("ALTER TABLE %s ALTER COLUMN %s;", qualifiedBracket(schema, table), alterColumnTail(cc.New))
			if normalizeDefault(cc.Old.DefaultValue) != normalizeDefault(cc.New.DefaultValue) {
				ph.add(dropDefaultConstraintSQL(schema, table, cc.New.Name))
				if cc.New.DefaultValue != nil {
					name := defaultConstraintName(schema, table, cc.New.Name, *cc.New.DefaultValue)
					ph.addf("ALTER TABLE %s ADD CONSTRAINT %s DEFAULT %s FOR %s;",
						qualifiedBracket(schema, table), qbracket(name), *cc.New.DefaultValue, qbracket(cc.New.Name))
				}
			}
		}
	}

	// Step 6: remaining adds.
	for _, cc := range adds {
		if preAdded[strings.ToLower(cc.New.Name)] {
			continue
		}
		ph.add(addColumnSQL(schema, table, cc.New, ct))
	}
}

func columnsOfKind(td *TableDiff, kind ColumnChangeKind) []ColumnChange {
	var out []ColumnChange
	for _, cc := range td.ColumnChanges {
		if cc.Kind == kind {
			out = append(out, cc)
		}
	}
	return out
}

// alterColumnTail renders "[name] TYPE [NULL|NOT NULL]" for ALTER
// COLUMN; ALTER COLUMN cannot carry DEFAULT (§4.5.1 U8 step 5).
func alterColumnTail(c *Column) string {
	null := "NOT NULL"
	if c.IsNullable {
		null = "NULL"
	}
	return fmt.Sprintf("%s %s %s", qbracket(c.Name), renderType(c), null)
}

// addColumnSQL emits ALTER TABLE ... ADD for a new column, synthesizing
// a deterministically-named DEFAULT when the column is NOT NULL, not an
// identity, and the table may already contain data (§4.5.1 U8 step 6).
func addColumnSQL(schema, table string, c *Column, current *Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD %s %s", qualifiedBracket(schema, table), qbracket(c.Name), renderType(c))
	if c.IsIdentity {
		fmt.Fprintf(&b, " %s", renderIdentity(c))
	}
	if c.IsNullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
		if !c.IsIdentity {
			value := zeroValueSentinel(c)
			if c.DefaultValue != nil {
				value = *c.DefaultValue
			}
			name := defaultConstraintName(schema, table, c.Name, value)
			fmt.Fprintf(&b, " CONSTRAINT %s DEFAULT %s", qbracket(name), value)
		}
	}
	b.WriteString(";")
	return b.String()
}

type safetyDecision int

const (
	safeDropThenAdd safetyDecision = iota
	safeAddThenDropThenRename
	safeAddNewThenDropOld
)

// classifySafety implements §4.5.3's decision for one Modify/Rebuild:
// given the live column count *after* this phase's drops have already
// been subtracted, decide whether a plain DROP+ADD is safe or whether
// the column must survive the transition under a temporary name. Only
// liveAfterDrops is consulted; old and td do not affect the result, and
// safeAddNewThenDropOld is never returned.
func classifySafety(old *Column, td *TableDiff, liveAfterDrops int) safetyDecision {
	if liveAfterDrops <= 1 {
		return safeAddThenDropThenRename
	}
	return safeDropThenAdd
}

// emitSafeRename implements the add-then-drop-then-rename protocol
// (§4.5.1 U8 step 4): add the target column under a temporary name,
// drop the old column, then sp_rename the temp column into place.
func emitSafeRename(ph *phaseBuilder, schema, table string, cc ColumnChange, current *Table) {
	tmp := tempColumnName(schema, table, cc.New.Name)
	tmpCol := *cc.New
	tmpCol.Name = tmp
	injectedDefault := tmpCol.DefaultValue == nil && !tmpCol.IsNullable && !tmpCol.IsIdentity

	ph.add(addColumnSQL(schema, table, &tmpCol, current))
	ph.add(dropDefaultConstraintSQL(schema, table, cc.Old.Name))
	ph.addf("ALTER TABLE %s DROP COLUMN %s;", qualifiedBracket(schema, table), qbracket(cc.Old.Name))
	ph.addf("EXEC sp_rename '%s.%s', '%s', 'COLUMN';", qualifiedBracket(schema, table), tmp, cc.New.Name)

	if injectedDefault {
		value := zeroValueSentinel(cc.New)
		name := defaultConstraintName(schema, table, tmp, value)
		ph.addf("ALTER TABLE %s DROP CONSTRAINT %s;", qualifiedBracket(schema, table), qbracket(name))
	}
}

// u9Constraints implements §4.5.1 U9: add new/modified FKs with
// two-phase validation, add the PK for tables where a column gains PK
// status, then drop and re-create changed indexes. FKs slated for
// drop/modify are not dropped here; U3 has already dropped them.
func (p *Planner) u9Constraints(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(9, "Constraints")

	for _, td := range diff.ModifiedTables {
		for _, fkc := range td.ForeignKeyChanges {
			if fkc.Kind == entityAdd || fkc.Kind == entityModify {
				ph.add(addForeignKeySQL(fkc.New))
			}
		}
		if gainedPK(td) {
			pkCols := currentTargetPKColumns(td)
			if len(pkCols) > 0 {
				ph.addf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s);",
					qualifiedBracket(td.Schema, td.TableName), qbracket(pkConstraintName(td.TableName)), strings.Join(pkCols, ", "))
			}
		}
		for _, idxc := range td.IndexChanges {
			if idxc.Kind == entityDrop || idxc.Kind == entityModify {
				ph.add(dropIndexGuardedSQL(td.Schema, td.TableName, idxc.Old.Name))
			}
		}
		for _, idxc := range td.IndexChanges {
			if idxc.Kind == entityAdd || idxc.Kind == entityModify {
				ph.add(createIndexSQL(td.Schema, td.TableName, *idxc.New))
			}
		}
	}
}

func gainedPK(td *TableDiff) bool {
	for _, cc := range td.ColumnChanges {
		if cc.New != nil && cc.New.IsPrimaryKey && (cc.Old == nil || !cc.Old.IsPrimaryKey) {
			return true
		}
	}
	return false
}

func currentTargetPKColumns(td *TableDiff) []string {
	var cols []string
	for _, cc := range td.ColumnChanges {
		if cc.New != nil && cc.New.IsPrimaryKey {
			cols = append(cols, qbracket(cc.New.Name))
		}
	}
	return cols
}

func (p *Planner) u11CreateProcedures(b *scriptBuilder, diff *SchemaDiff) {
	ph := b.phase(11, "Create Stored Procedures")
	for _, proc := range diff.NewProcedures {
		emitProcedure(ph, proc)
	}
	for _, ch := range diff.ProcedureChanges {
		if ch.Kind == entityModify {
			emitProcedure(ph, ch.New)
		}
	}
}

// emitProcedure emits GO / DROP PROCEDURE IF EXISTS / GO / body / GO,
// since CREATE PROCEDURE must start its own batch (§4.5.1 U11).
func emitProcedure(ph *phaseBuilder, proc *StoredProcedure) {
	ph.add("GO")
	ph.add(dropProcedureGuardedSQL(proc.Schema, proc.Name))
	ph.add("GO")
	ph.add(strings.TrimSpace(proc.Definition))
	ph.add("GO")
}
