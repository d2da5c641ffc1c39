package migrator

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// deterministicSuffix returns the first 8 hex characters of
// SHA-256(lower(parts[0])|lower(parts[1])|...), per §4.5.4. Identical
// inputs always produce identical suffixes so that regenerating a
// migration from unchanged state is idempotent.
func deterministicSuffix(parts ...string) string {
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(lowered, "|")))
	return hex.EncodeToString(sum[:])[:8]
}

// deterministicName mints a "<prefix>_<hex8>" name from the given
// context tuple, used for default constraints, temp columns and
// rebuild-temp-table names.
func deterministicName(prefix string, parts ...string) string {
	return prefix + "_" + deterministicSuffix(parts...)
}

// defaultConstraintName names a DEFAULT constraint added by the planner
// for an Add/Modify/Rebuild column change (§4.5.1 U8 step 6).
func defaultConstraintName(schema, table, column, value string) string {
	return deterministicName("DF_"+table+"_"+column, schema, table, column, value, "default")
}

// tempColumnName names the temporary column used by the safe
// add-then-drop-then-rename protocol (§4.5.1 U8 step 4).
func tempColumnName(schema, table, column string) string {
	return deterministicName(column+"_tmp", schema, table, column, "rename")
}

// reorderTableName names the temporary table used by a column-order
// rebuild (§4.5.1 U10).
func reorderTableName(schema, table string) string {
	return table + "_reorder_" + deterministicSuffix(schema, table, "reorder")
}

// pkConstraintName follows the PK_<table> convention named in §4.5.1 U4.
func pkConstraintName(table string) string {
	return "PK_" + table
}
