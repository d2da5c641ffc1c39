package migrator

import (
	"maps"
	"slices"
	"strings"
)

// ColumnChangeKind is the tagged-union discriminant for ColumnChange, so
// the planner can exhaustively switch on it without the "change type
// says Add but OldColumn is non-nil" class of bug a bare struct-plus-
// enum representation is prone to.
type ColumnChangeKind int

const (
	ColumnAdd ColumnChangeKind = iota
	ColumnDrop
	ColumnModify
	ColumnRebuild
)

// ColumnChange is a tagged union: exactly one of Old/New is nil for
// Add/Drop; both are set for Modify/Rebuild.
type ColumnChange struct {
	Kind ColumnChangeKind
	Old  *Column
	New  *Column
}

type entityChangeKind int

const (
	entityAdd entityChangeKind = iota
	entityDrop
	entityModify
)

// ForeignKeyChange is Add(new) | Drop(old) | Modify(old,new).
type ForeignKeyChange struct {
	Kind entityChangeKind
	Old  *ForeignKey
	New  *ForeignKey
}

// IndexChange is Add(new) | Drop(old) | Modify(old,new).
type IndexChange struct {
	Kind entityChangeKind
	Old  *Index
	New  *Index
}

// SequenceChange is Add(new) | Drop(old) | Modify(old,new).
type SequenceChange struct {
	Kind entityChangeKind
	Old  *Sequence
	New  *Sequence
}

// ProcedureChange is Add(new) | Drop(old) | Modify(old,new).
type ProcedureChange struct {
	Kind entityChangeKind
	Old  *StoredProcedure
	New  *StoredProcedure
}

// TableDiff is the set of changes for one table that exists in both
// current and target. It is retained even when every list is empty if
// OrderOnly is set (§4.3, "Column-order-only difference").
type TableDiff struct {
	TableName         string
	Schema            string
	ColumnChanges     []ColumnChange
	ForeignKeyChanges []ForeignKeyChange
	IndexChanges      []IndexChange
	OrderOnly         bool
}

func (td *TableDiff) isEmpty() bool {
	return len(td.ColumnChanges) == 0 && len(td.ForeignKeyChanges) == 0 && len(td.IndexChanges) == 0 && !td.OrderOnly
}

// SchemaDiff is the full structural diff between a current and target
// Schema, produced by Diff and consumed by the planner.
type SchemaDiff struct {
	NewTables         []*Table
	DroppedTableNames []string
	ModifiedTables    []*TableDiff

	NewSequences     []*Sequence
	DroppedSequences []*Sequence
	SequenceChanges  []SequenceChange

	NewProcedures     []*StoredProcedure
	DroppedProcedures []*StoredProcedure
	ProcedureChanges  []ProcedureChange
}

// Differ produces a SchemaDiff between a current and target schema,
// including cross-table type propagation (§4.3).
type Differ struct {
	log Logger
}

// NewDiffer returns a Differ. A nil logger installs NopLogger.
func NewDiffer(log Logger) *Differ {
	if log == nil {
		log = NopLogger
	}
	return &Differ{log: log}
}

// Diff computes the structural diff from current to target.
func (d *Differ) Diff(current, target *Schema) *SchemaDiff {
	diff := &SchemaDiff{}

	for _, name := range target.Tables.Keys() {
		if !current.Tables.Has(name) {
			t, _ := target.Tables.Get(name)
			diff.NewTables = append(diff.NewTables, t)
		}
	}
	for _, name := range current.Tables.Keys() {
		if !target.Tables.Has(name) {
			diff.DroppedTableNames = append(diff.DroppedTableNames, name)
		}
	}
	for _, name := range target.Tables.Keys() {
		ct, ok := current.Tables.Get(name)
		if !ok {
			continue
		}
		tt, _ := target.Tables.Get(name)
		td := d.compareTables(ct, tt)
		if td != nil {
			diff.ModifiedTables = append(diff.ModifiedTables, td)
		}
	}

	d.diffSequences(current, target, diff)
	d.diffProcedures(current, target, diff)

	d.propagateTypeChanges(current, target, diff)

	d.log.Debug("diff complete",
		F("new_tables", len(diff.NewTables)),
		F("dropped_tables", len(diff.DroppedTableNames)),
		F("modified_tables", len(diff.ModifiedTables)))

	return diff
}

// compareTables produces the column/FK/index change lists for a table
// present on both sides, or nil if there is no difference at all.
func (d *Differ) compareTables(current, target *Table) *TableDiff {
	td := &TableDiff{TableName: target.Name, Schema: target.Schema}

	for _, name := range target.Columns.Keys() {
		tc, _ := target.Columns.Get(name)
		cc, ok := current.Columns.Get(name)
		if !ok {
			td.ColumnChanges = append(td.ColumnChanges, ColumnChange{Kind: ColumnAdd, New: tc})
			continue
		}
		if !cc.Equal(tc) {
			kind := Classify(cc, tc, current)
			td.ColumnChanges = append(td.ColumnChanges, ColumnChange{Kind: kind, Old: cc, New: tc})
		}
	}
	for _, name := range current.Columns.Keys() {
		if !target.Columns.Has(name) {
			cc, _ := current.Columns.Get(name)
			td.ColumnChanges = append(td.ColumnChanges, ColumnChange{Kind: ColumnDrop, Old: cc})
		}
	}

	td.ForeignKeyChanges = diffForeignKeys(current, target)
	td.IndexChanges = diffIndexes(current, target)

	if td.isEmpty() {
		if orderDiffers(current, target) {
			td.OrderOnly = true
			return td
		}
		return nil
	}
	return td
}

func orderDiffers(current, target *Table) bool {
	co := current.ColumnNamesInOrder()
	to := target.ColumnNamesInOrder()
	if len(co) != len(to) {
		return false // handled by Add/Drop above
	}
	for i := range co {
		if !strings.EqualFold(co[i], to[i]) {
			return true
		}
	}
	return false
}

func diffForeignKeys(current, target *Table) []ForeignKeyChange {
	curByName := groupFKsByName(current)
	tgtByName := groupFKsByName(target)

	var changes []ForeignKeyChange
	for _, name := range slices.Sorted(maps.Keys(tgtByName)) {
		tfks := tgtByName[name]
		cfks, ok := curByName[name]
		if !ok {
			fk := tfks[0]
			changes = append(changes, ForeignKeyChange{Kind: entityAdd, New: &fk})
			continue
		}
		if !fkGroupsEqual(cfks, tfks) {
			oldFK, newFK := cfks[0], tfks[0]
			changes = append(changes, ForeignKeyChange{Kind: entityModify, Old: &oldFK, New: &newFK})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(curByName)) {
		cfks := curByName[name]
		if _, ok := tgtByName[name]; !ok {
			fk := cfks[0]
			changes = append(changes, ForeignKeyChange{Kind: entityDrop, Old: &fk})
		}
	}
	return changes
}

func groupFKsByName(t *Table) map[string][]ForeignKey {
	out := make(map[string][]ForeignKey)
	for _, c := range t.OrderedColumns() {
		for _, fk := range c.ForeignKeys {
			key := strings.ToLower(fk.Name)
			out[key] = append(out[key], fk)
		}
	}
	return out
}

func fkGroupsEqual(a, b []ForeignKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func diffIndexes(current, target *Table) []IndexChange {
	curByName := make(map[string]Index)
	for _, idx := range current.Indexes {
		curByName[strings.ToLower(idx.Name)] = idx
	}
	tgtByName := make(map[string]Index)
	for _, idx := range target.Indexes {
		tgtByName[strings.ToLower(idx.Name)] = idx
	}

	var changes []IndexChange
	for _, name := range slices.Sorted(maps.Keys(tgtByName)) {
		tidx := tgtByName[name]
		cidx, ok := curByName[name]
		if !ok {
			ti := tidx
			changes = append(changes, IndexChange{Kind: entityAdd, New: &ti})
			continue
		}
		if !cidx.Equal(tidx) {
			ci, ti := cidx, tidx
			changes = append(changes, IndexChange{Kind: entityModify, Old: &ci, New: &ti})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(curByName)) {
		cidx := curByName[name]
		if _, ok := tgtByName[name]; !ok {
			ci := cidx
			changes = append(changes, IndexChange{Kind: entityDrop, Old: &ci})
		}
	}
	return changes
}

func (d *Differ) diffSequences(current, target *Schema, diff *SchemaDiff) {
	for _, name := range target.Sequences.Keys() {
		ts, _ := target.Sequences.Get(name)
		cs, ok := current.Sequences.Get(name)
		if !ok {
			diff.NewSequences = append(diff.NewSequences, ts)
			continue
		}
		if !cs.Equal(ts) {
			diff.SequenceChanges = append(diff.SequenceChanges, SequenceChange{Kind: entityModify, Old: cs, New: ts})
		}
	}
	for _, name := range current.Sequences.Keys() {
		if !target.Sequences.Has(name) {
			cs, _ := current.Sequences.Get(name)
			diff.DroppedSequences = append(diff.DroppedSequences, cs)
		}
	}
}

func (d *Differ) diffProcedures(current, target *Schema, diff *SchemaDiff) {
	for _, name := range target.Procedures.Keys() {
		tp, _ := target.Procedures.Get(name)
		cp, ok := current.Procedures.Get(name)
		if !ok {
			diff.NewProcedures = append(diff.NewProcedures, tp)
			continue
		}
		if !cp.Equal(tp) {
			diff.ProcedureChanges = append(diff.ProcedureChanges, ProcedureChange{Kind: entityModify, Old: cp, New: tp})
		}
	}
	for _, name := range current.Procedures.Keys() {
		if !target.Procedures.Has(name) {
			cp, _ := current.Procedures.Get(name)
			diff.DroppedProcedures = append(diff.DroppedProcedures, cp)
		}
	}
}

// propagateTypeChanges walks every Rebuild/Modify whose sql_type changed
// and, for any FK in the current schema referencing that (table,column),
// synthesizes or upgrades a ColumnChange on the referencing table so its
// type stays aligned (§4.3). The pass is idempotent: re-running it against
// a diff it has already touched adds nothing further, because by the time
// a referencing column's change has been synthesized its New.SQLType
// already equals the referenced column's new type.
func (d *Differ) propagateTypeChanges(current, target *Schema, diff *SchemaDiff) {
	tableDiffByName := make(map[string]*TableDiff)
	for _, td := range diff.ModifiedTables {
		tableDiffByName[strings.ToLower(td.TableName)] = td
	}

	changed := true
	for changed {
		changed = false
		// Snapshot the set of type-changing column changes to scan this
		// pass; synthesized changes are scanned on the next pass.
		var seeds []struct {
			schema, table, column string
			newType               SQLType
		}
		for _, td := range diff.ModifiedTables {
			for _, cc := range td.ColumnChanges {
				if (cc.Kind == ColumnModify || cc.Kind == ColumnRebuild) && cc.Old != nil && cc.New != nil && cc.Old.SQLType != cc.New.SQLType {
					seeds = append(seeds, struct {
						schema, table, column string
						newType               SQLType
					}{td.Schema, td.TableName, cc.New.Name, cc.New.SQLType})
				}
			}
		}

		for _, seed := range seeds {
			refs := current.ForeignKeysReferencing(seed.schema, seed.table, seed.column)
			for _, fk := range refs {
				refTbl, ok := current.Tables.Get(qualify(fk.Schema, fk.Table))
				if !ok {
					refTbl, ok = current.Tables.Get(fk.Table)
					if !ok {
						continue
					}
				}
				refCol, ok := refTbl.Columns.Get(fk.Column)
				if !ok || refCol.SQLType == seed.newType {
					continue
				}

				key := strings.ToLower(refTbl.Name)
				rtd, ok := tableDiffByName[key]
				if !ok {
					rtd = &TableDiff{TableName: refTbl.Name, Schema: refTbl.Schema}
					tableDiffByName[key] = rtd
					diff.ModifiedTables = append(diff.ModifiedTables, rtd)
				}

				newCol := *refCol
				newCol.SQLType = seed.newType
				if existing := findColumnChange(rtd, refCol.Name); existing != nil {
					if existing.New.SQLType == seed.newType {
						continue
					}
					existing.New = &newCol
					existing.Kind = Classify(refCol, &newCol, refTbl)
				} else {
					kind := Classify(refCol, &newCol, refTbl)
					rtd.ColumnChanges = append(rtd.ColumnChanges, ColumnChange{Kind: kind, Old: refCol, New: &newCol})
					d.log.Info("propagated referenced-column type change",
						F("table", refTbl.Name), F("column", refCol.Name), F("new_type", seed.newType))
				}
				changed = true
			}
		}
	}
}

func findColumnChange(td *TableDiff, name string) *ColumnChange {
	for i := range td.ColumnChanges {
		cc := &td.ColumnChanges[i]
		if cc.New != nil && strings.EqualFold(cc.New.Name, name) {
			return cc
		}
	}
	return nil
}
