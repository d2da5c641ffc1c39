package migrator

// PlanDown emits the down script: the inverse of diff, applied with the
// same phase skeleton as PlanUp (§4.5.2). current is the pre-migration
// schema (the state the down script restores to); target is the
// post-migration schema (the live state the down script starts from).
// FK restoration is sourced from current (the original, pre-up
// definition), never from target, since target reflects the post-up
// state and may have reshaped the FK entirely.
func (p *Planner) PlanDown(diff *SchemaDiff, current, target *Schema) (string, error) {
	inv := invertDiff(diff, current)
	b := newScriptBuilder(p.log)

	p.u1DropProcedures(b, inv)
	p.u2DropSequences(b, inv)
	p.u3DropForeignKeys(b, inv, target)
	p.u4DropPrimaryKeys(b, inv)
	p.u5DropTables(b, inv)
	p.u6CreateSequences(b, inv)
	p.u7CreateTables(b, inv)
	p.u8ModifyColumns(b, inv, target)
	p.u9Constraints(b, inv)
	p.u10ColumnReorder(b, inv, target, current)
	p.u11CreateProcedures(b, inv)

	return b.build()
}

// invertDiff builds the inverse of an up diff (current->target) as a
// target->current diff, so the down script can be planned with exactly
// the up script's phase skeleton (§4.5.2). original is the pre-up
// schema, used to recover the full *Table for tables the up dropped.
func invertDiff(diff *SchemaDiff, original *Schema) *SchemaDiff {
	inv := &SchemaDiff{}

	for _, name := range diff.DroppedTableNames {
		if t, ok := original.Tables.Get(name); ok {
			inv.NewTables = append(inv.NewTables, t)
		}
	}
	for _, t := range diff.NewTables {
		inv.DroppedTableNames = append(inv.DroppedTableNames, t.Name)
	}
	for _, td := range diff.ModifiedTables {
		inv.ModifiedTables = append(inv.ModifiedTables, invertTableDiff(td))
	}

	inv.NewSequences = diff.DroppedSequences
	inv.DroppedSequences = diff.NewSequences
	for _, ch := range diff.SequenceChanges {
		inv.SequenceChanges = append(inv.SequenceChanges, SequenceChange{Kind: entityModify, Old: ch.New, New: ch.Old})
	}

	inv.NewProcedures = diff.DroppedProcedures
	inv.DroppedProcedures = diff.NewProcedures
	for _, ch := range diff.ProcedureChanges {
		inv.ProcedureChanges = append(inv.ProcedureChanges, ProcedureChange{Kind: entityModify, Old: ch.New, New: ch.Old})
	}

	return inv
}

// invertTableDiff swaps Add<->Drop and Old<->New on every change in td,
// so the down planner's column/FK/index emitters (shared with the up
// path) see the same shapes mirrored. Column changes are additionally
// augmented with sibling Drop entries per §4.5.2 ("reversed diffs are
// augmented with sibling Drop changes so the single-column detector
// sees the same shape as the up path") — here, that augmentation falls
// out naturally because an up Add becomes a down Drop in the same list.
func invertTableDiff(td *TableDiff) *TableDiff {
	inv := &TableDiff{TableName: td.TableName, Schema: td.Schema, OrderOnly: td.OrderOnly}

	for _, cc := range td.ColumnChanges {
		switch cc.Kind {
		case ColumnAdd:
			inv.ColumnChanges = append(inv.ColumnChanges, ColumnChange{Kind: ColumnDrop, Old: cc.New})
		case ColumnDrop:
			inv.ColumnChanges = append(inv.ColumnChanges, ColumnChange{Kind: ColumnAdd, New: cc.Old})
		case ColumnModify, ColumnRebuild:
			inv.ColumnChanges = append(inv.ColumnChanges, ColumnChange{Kind: cc.Kind, Old: cc.New, New: cc.Old})
		}
	}
	inv.ColumnChanges = reorderForDownSafety(inv.ColumnChanges)

	for _, fkc := range td.ForeignKeyChanges {
		inv.ForeignKeyChanges = append(inv.ForeignKeyChanges, invertEntityFK(fkc))
	}
	for _, idxc := range td.IndexChanges {
		inv.IndexChanges = append(inv.IndexChanges, invertEntityIndex(idxc))
	}
	return inv
}

func invertEntityFK(fkc ForeignKeyChange) ForeignKeyChange {
	switch fkc.Kind {
	case entityAdd:
		return ForeignKeyChange{Kind: entityDrop, Old: fkc.New}
	case entityDrop:
		return ForeignKeyChange{Kind: entityAdd, New: fkc.Old}
	default:
		return ForeignKeyChange{Kind: entityModify, Old: fkc.New, New: fkc.Old}
	}
}

func invertEntityIndex(idxc IndexChange) IndexChange {
	switch idxc.Kind {
	case entityAdd:
		return IndexChange{Kind: entityDrop, Old: idxc.New}
	case entityDrop:
		return IndexChange{Kind: entityAdd, New: idxc.Old}
	default:
		return IndexChange{Kind: entityModify, Old: idxc.New, New: idxc.Old}
	}
}

// reorderForDownSafety implements the needs_modify_before_drop heuristic
// (§4.5.2): if the drops plus a rebuild landing on what would become the
// last surviving column would transiently reach zero/one columns, the
// rebuild is processed before the drops. Evaluated against the live
// (post-up) table the down script is mutating, which planTableColumns
// already does via its ct argument — here we only need to reorder the
// slice itself.
func reorderForDownSafety(changes []ColumnChange) []ColumnChange {
	drops := 0
	for _, cc := range changes {
		if cc.Kind == ColumnDrop {
			drops++
		}
	}
	if drops == 0 {
		return changes
	}
	survivors := 0
	for _, cc := range changes {
		if cc.Kind != ColumnDrop {
			survivors++
		}
	}
	if survivors > 1 {
		return changes
	}

	var rebuilds, rest []ColumnChange
	for _, cc := range changes {
		if cc.Kind == ColumnRebuild {
			rebuilds = append(rebuilds, cc)
		} else {
			rest = append(rest, cc)
		}
	}
	return append(rebuilds, rest...)
}
