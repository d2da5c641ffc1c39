package migrator

import (
	"sort"
	"strings"
)

// SQLType enumerates the SQL Server built-in type kinds the engine
// understands. Values are the upper-case type keyword as it would be
// written in a CREATE/ALTER statement, without length modifiers.
type SQLType string

const (
	TypeBit              SQLType = "BIT"
	TypeTinyInt           SQLType = "TINYINT"
	TypeSmallInt          SQLType = "SMALLINT"
	TypeInt               SQLType = "INT"
	TypeBigInt            SQLType = "BIGINT"
	TypeDecimal           SQLType = "DECIMAL"
	TypeNumeric           SQLType = "NUMERIC"
	TypeReal              SQLType = "REAL"
	TypeFloat             SQLType = "FLOAT"
	TypeMoney             SQLType = "MONEY"
	TypeSmallMoney        SQLType = "SMALLMONEY"
	TypeChar              SQLType = "CHAR"
	TypeNChar             SQLType = "NCHAR"
	TypeVarChar           SQLType = "VARCHAR"
	TypeNVarChar          SQLType = "NVARCHAR"
	TypeText              SQLType = "TEXT"
	TypeNText             SQLType = "NTEXT"
	TypeBinary            SQLType = "BINARY"
	TypeVarBinary         SQLType = "VARBINARY"
	TypeImage             SQLType = "IMAGE"
	TypeDate              SQLType = "DATE"
	TypeTime              SQLType = "TIME"
	TypeDateTime          SQLType = "DATETIME"
	TypeDateTime2         SQLType = "DATETIME2"
	TypeDateTimeOffset    SQLType = "DATETIMEOFFSET"
	TypeSmallDateTime     SQLType = "SMALLDATETIME"
	TypeTimestamp         SQLType = "TIMESTAMP" // a.k.a. ROWVERSION
	TypeUniqueIdentifier  SQLType = "UNIQUEIDENTIFIER"
	TypeXML               SQLType = "XML"
)

// refAction is one of the four SQL Server referential actions.
type refAction string

const (
	ActionNoAction  refAction = "NO_ACTION"
	ActionCascade   refAction = "CASCADE"
	ActionSetNull   refAction = "SET_NULL"
	ActionSetDefault refAction = "SET_DEFAULT"
)

// Column is the in-memory representation of a single table column.
type Column struct {
	Name                   string
	SQLType                SQLType
	Length                 *int // -1 denotes MAX
	Precision              *int
	Scale                  *int
	IsNullable             bool
	IsIdentity             bool
	IdentitySeed           *int64
	IdentityIncrement      *int64
	IsComputed             bool
	ComputedSQL            *string
	IsPrimaryKey           bool
	DefaultValue           *string
	DefaultConstraintName  string
	OrdinalPosition        int
	ForeignKeys            []ForeignKey
}

// Table is the in-memory representation of a single table.
type Table struct {
	Name    string
	Schema  string
	Columns *ciMap[*Column]
	Indexes []Index
}

// QualifiedName returns "schema.name", defaulting schema to dbo.
func (t *Table) QualifiedName() string {
	return qualify(t.Schema, t.Name)
}

func qualify(schema, name string) string {
	if schema == "" {
		schema = "dbo"
	}
	return schema + "." + name
}

// OrderedColumns returns the table's columns sorted by OrdinalPosition.
func (t *Table) OrderedColumns() []*Column {
	cols := make([]*Column, 0, t.Columns.Len())
	for _, c := range t.Columns.Values() {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].OrdinalPosition < cols[j].OrdinalPosition })
	return cols
}

// ColumnNamesInOrder returns column names, as stored, in ordinal order.
func (t *Table) ColumnNamesInOrder() []string {
	cols := t.OrderedColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// ForeignKey is one row of a (possibly multi-column) FK constraint.
// Multi-column FKs share Name; all rows with the same (Schema,Table,Name)
// form one logical constraint.
type ForeignKey struct {
	Name              string
	Schema            string
	Table             string
	Column            string
	RefSchema         string
	RefTable          string
	RefColumn         string
	NotEnforced       bool
	NotForReplication bool
	DeleteAction      refAction
	UpdateAction      refAction
}

// Index is a non-PK index (PKs are represented via Column.IsPrimaryKey).
type Index struct {
	Name     string
	Schema   string
	Table    string
	Columns  []string
	IsUnique bool
}

// Sequence is a SQL Server SEQUENCE object.
type Sequence struct {
	Name        string
	Schema      string
	DataType    SQLType
	StartValue  *int64
	Increment   *int64
	MinValue    *int64
	MaxValue    *int64
	Cycle       bool
	CacheSize   *int64
}

// StoredProcedure is an opaque T-SQL procedure definition.
type StoredProcedure struct {
	Name       string
	Schema     string
	Definition string
}

// Schema is the full in-memory model of a database: tables keyed
// case-insensitively by "schema.name", sequences and procedures keyed
// case-insensitively by name.
type Schema struct {
	Tables     *ciMap[*Table]
	Sequences  *ciMap[*Sequence]
	Procedures *ciMap[*StoredProcedure]
}

// NewSchema returns an empty schema ready for population.
func NewSchema() *Schema {
	return &Schema{
		Tables:     newCIMap[*Table](),
		Sequences:  newCIMap[*Sequence](),
		Procedures: newCIMap[*StoredProcedure](),
	}
}

// ForeignKeysByConstraint groups every FK row in the schema's tables by
// (schema, table, name), since multi-column FKs share a name.
func (s *Schema) ForeignKeysByConstraint() map[string][]ForeignKey {
	out := make(map[string][]ForeignKey)
	for _, t := range s.Tables.Values() {
		for _, c := range t.OrderedColumns() {
			for _, fk := range c.ForeignKeys {
				key := strings.ToLower(qualify(fk.Schema, fk.Table)) + "#" + strings.ToLower(fk.Name)
				out[key] = append(out[key], fk)
			}
		}
	}
	return out
}

// ForeignKeysReferencing returns every FK (across the whole schema) whose
// referenced side is (refSchema, refTable, refColumn).
func (s *Schema) ForeignKeysReferencing(refSchema, refTable, refColumn string) []ForeignKey {
	var out []ForeignKey
	for _, t := range s.Tables.Values() {
		for _, c := range t.OrderedColumns() {
			for _, fk := range c.ForeignKeys {
				if strings.EqualFold(fk.RefSchema, refSchema) &&
					strings.EqualFold(fk.RefTable, refTable) &&
					strings.EqualFold(fk.RefColumn, refColumn) {
					out = append(out, fk)
				}
			}
		}
	}
	return out
}

// --- Equality predicates (§4.1) ---

// Equal reports whether two columns are equal under §4.1's
// normalization rules. OrdinalPosition is deliberately excluded.
func (c *Column) Equal(o *Column) bool {
	if c == nil || o == nil {
		return c == o
	}
	if !strings.EqualFold(c.Name, o.Name) {
		return false
	}
	if c.IsNullable != o.IsNullable ||
		c.IsIdentity != o.IsIdentity ||
		c.IsComputed != o.IsComputed ||
		c.IsPrimaryKey != o.IsPrimaryKey ||
		c.SQLType != o.SQLType {
		return false
	}
	if !intPtrEqual(c.Length, o.Length) || !intPtrEqual(c.Precision, o.Precision) || !intPtrEqual(c.Scale, o.Scale) {
		return false
	}
	if normalizeComputedSQL(c.ComputedSQL) != normalizeComputedSQL(o.ComputedSQL) {
		return false
	}
	if normalizeDefault(c.DefaultValue) != normalizeDefault(o.DefaultValue) {
		return false
	}
	return true
}

// Equal reports whether two foreign keys are equal.
func (f ForeignKey) Equal(o ForeignKey) bool {
	return strings.EqualFold(f.Name, o.Name) &&
		strings.EqualFold(f.Schema, o.Schema) &&
		strings.EqualFold(f.Table, o.Table) &&
		strings.EqualFold(f.Column, o.Column) &&
		strings.EqualFold(f.RefSchema, o.RefSchema) &&
		strings.EqualFold(f.RefTable, o.RefTable) &&
		strings.EqualFold(f.RefColumn, o.RefColumn) &&
		f.NotEnforced == o.NotEnforced &&
		f.NotForReplication == o.NotForReplication &&
		f.DeleteAction == o.DeleteAction &&
		f.UpdateAction == o.UpdateAction
}

// Equal reports whether two indexes are equal: same name, uniqueness,
// and column sequence (order matters, case-insensitive).
func (i Index) Equal(o Index) bool {
	if !strings.EqualFold(i.Name, o.Name) || i.IsUnique != o.IsUnique {
		return false
	}
	if len(i.Columns) != len(o.Columns) {
		return false
	}
	for idx := range i.Columns {
		if !strings.EqualFold(i.Columns[idx], o.Columns[idx]) {
			return false
		}
	}
	return true
}

// Equal reports whether two sequences are equal on every persisted attribute.
func (s *Sequence) Equal(o *Sequence) bool {
	if s == nil || o == nil {
		return s == o
	}
	return strings.EqualFold(s.Name, o.Name) &&
		strings.EqualFold(s.Schema, o.Schema) &&
		s.DataType == o.DataType &&
		int64PtrEqual(s.StartValue, o.StartValue) &&
		int64PtrEqual(s.Increment, o.Increment) &&
		int64PtrEqual(s.MinValue, o.MinValue) &&
		int64PtrEqual(s.MaxValue, o.MaxValue) &&
		s.Cycle == o.Cycle &&
		int64PtrEqual(s.CacheSize, o.CacheSize)
}

// Equal reports whether two stored procedures are equal: whitespace
// normalized definitions match case-insensitively.
func (p *StoredProcedure) Equal(o *StoredProcedure) bool {
	if p == nil || o == nil {
		return p == o
	}
	return strings.EqualFold(normalizeWhitespace(p.Definition), normalizeWhitespace(o.Definition))
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// normalizeDefault strips balanced outer parentheses repeatedly, the
// way SQL Server stores defaults internally (e.g. "((0))" -> "0").
func normalizeDefault(v *string) string {
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(*v)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' && parensBalanced(s) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// parensBalanced reports whether stripping the outer pair of s leaves a
// balanced expression (i.e. the first '(' really closes at the last ')').
func parensBalanced(s string) bool {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// normalizeComputedSQL collapses whitespace runs to a single space and trims.
func normalizeComputedSQL(v *string) string {
	if v == nil {
		return ""
	}
	return normalizeWhitespace(*v)
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
