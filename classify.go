package migrator

import "strings"

// Classify decides, for a column present with different metadata on
// both sides of a diff, whether the planner may use an in-place
// ALTER COLUMN (ColumnModify) or must DROP+ADD (ColumnRebuild), per
// §4.4. tbl is the table the column lives on in the *current* schema,
// used to look up index participation and computed-column dependents.
func Classify(old, new *Column, tbl *Table) ColumnChangeKind {
	if crossesLegacyLOBBoundary(old.SQLType, new.SQLType) {
		return ColumnRebuild
	}
	if old.SQLType == TypeTimestamp || new.SQLType == TypeTimestamp {
		return ColumnRebuild
	}
	if old.IsIdentity != new.IsIdentity {
		return ColumnRebuild
	}
	if old.IsIdentity && new.IsIdentity && !identitySettingsEqual(old, new) {
		return ColumnRebuild
	}
	if old.IsComputed != new.IsComputed {
		return ColumnRebuild
	}
	if old.IsComputed && new.IsComputed && normalizeComputedSQL(old.ComputedSQL) != normalizeComputedSQL(new.ComputedSQL) {
		return ColumnRebuild
	}
	if old.OrdinalPosition != new.OrdinalPosition && hasOrdinalDependency(old, tbl) {
		return ColumnRebuild
	}
	return ColumnModify
}

// crossesLegacyLOBBoundary reports a transition into or out of the
// legacy large-object types (§4.4 rule 1). Changes that stay on one
// side of the boundary (e.g. TEXT->NTEXT, or VARCHAR(20)->VARCHAR(MAX))
// are never a boundary crossing.
func crossesLegacyLOBBoundary(old, new SQLType) bool {
	return isLegacyLOB(old) != isLegacyLOB(new)
}

func identitySettingsEqual(old, new *Column) bool {
	return int64PtrEqual(old.IdentitySeed, new.IdentitySeed) && int64PtrEqual(old.IdentityIncrement, new.IdentityIncrement)
}

// hasOrdinalDependency reports whether reordering `old` interacts with
// something that cares about its physical position: the column is
// itself computed, is referenced (by substring) in another computed
// column's expression, or participates in any index. The substring
// search is a deliberate heuristic: it matches "[name]" or bare
// "name", case-insensitively, not a parsed expression tree.
func hasOrdinalDependency(old *Column, tbl *Table) bool {
	if old.IsComputed {
		return true
	}
	if tbl != nil {
		for _, c := range tbl.Columns.Values() {
			if c.IsComputed && c.ComputedSQL != nil && computedExprReferences(*c.ComputedSQL, old.Name) {
				return true
			}
		}
		for _, idx := range tbl.Indexes {
			for _, col := range idx.Columns {
				if strings.EqualFold(col, old.Name) {
					return true
				}
			}
		}
	}
	return false
}

// computedExprReferences reports whether expr mentions name as either a
// bracketed identifier "[name]" or a bare word "name", case-insensitively.
func computedExprReferences(expr, name string) bool {
	lower := strings.ToLower(expr)
	lname := strings.ToLower(name)
	if strings.Contains(lower, "["+lname+"]") {
		return true
	}
	return containsWord(lower, lname)
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isIdentChar(s[start-1])
		afterOK := end == len(s) || !isIdentChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
