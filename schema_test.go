package migrator

import "testing"

func intp(v int) *int       { return &v }
func i64p(v int64) *int64   { return &v }
func strp(v string) *string { return &v }

func TestColumnEqualIgnoresOrdinalPosition(t *testing.T) {
	a := &Column{Name: "id", SQLType: TypeInt, OrdinalPosition: 1}
	b := &Column{Name: "id", SQLType: TypeInt, OrdinalPosition: 7}
	if !a.Equal(b) {
		t.Error("columns differing only in OrdinalPosition should be equal")
	}
}

func TestColumnEqualNameCaseInsensitive(t *testing.T) {
	a := &Column{Name: "Email", SQLType: TypeNVarChar, Length: intp(255)}
	b := &Column{Name: "email", SQLType: TypeNVarChar, Length: intp(255)}
	if !a.Equal(b) {
		t.Error("column names should compare case-insensitively")
	}
}

func TestColumnEqualDetectsTypeChange(t *testing.T) {
	a := &Column{Name: "age", SQLType: TypeInt}
	b := &Column{Name: "age", SQLType: TypeBigInt}
	if a.Equal(b) {
		t.Error("expected type change to break equality")
	}
}

func TestColumnEqualDefaultNormalization(t *testing.T) {
	a := &Column{Name: "active", SQLType: TypeBit, DefaultValue: strp("((1))")}
	b := &Column{Name: "active", SQLType: TypeBit, DefaultValue: strp("1")}
	if !a.Equal(b) {
		t.Error("defaults differing only by balanced parens should be equal")
	}
}

func TestColumnEqualComputedSQLNormalization(t *testing.T) {
	a := &Column{Name: "full_name", IsComputed: true, ComputedSQL: strp("[first] +  ' ' + [last]")}
	b := &Column{Name: "full_name", IsComputed: true, ComputedSQL: strp("[first] + ' ' + [last]")}
	if !a.Equal(b) {
		t.Error("whitespace-only differences in computed expressions should be equal")
	}
}

func TestForeignKeyEqual(t *testing.T) {
	a := ForeignKey{Name: "FK_orders_customers", Schema: "dbo", Table: "orders", Column: "customer_id",
		RefSchema: "dbo", RefTable: "customers", RefColumn: "id", DeleteAction: ActionCascade}
	b := a
	b.Name = "fk_orders_customers"
	if !a.Equal(b) {
		t.Error("foreign key names should compare case-insensitively")
	}
	b.DeleteAction = ActionNoAction
	if a.Equal(b) {
		t.Error("expected DeleteAction change to break equality")
	}
}

func TestIndexEqualColumnOrderMatters(t *testing.T) {
	a := Index{Name: "IX_orders_a_b", Columns: []string{"a", "b"}}
	b := Index{Name: "IX_orders_a_b", Columns: []string{"b", "a"}}
	if a.Equal(b) {
		t.Error("index equality should be sensitive to column order")
	}
}

func TestSequenceEqual(t *testing.T) {
	a := &Sequence{Name: "seq1", Schema: "dbo", DataType: TypeInt, StartValue: i64p(1), Increment: i64p(1)}
	b := &Sequence{Name: "seq1", Schema: "dbo", DataType: TypeInt, StartValue: i64p(1), Increment: i64p(1)}
	if !a.Equal(b) {
		t.Error("expected equal sequences")
	}
	b.Increment = i64p(2)
	if a.Equal(b) {
		t.Error("expected increment change to break equality")
	}
}

func TestStoredProcedureEqualWhitespaceNormalized(t *testing.T) {
	a := &StoredProcedure{Name: "usp_thing", Definition: "CREATE PROCEDURE usp_thing AS\nSELECT 1"}
	b := &StoredProcedure{Name: "usp_thing", Definition: "CREATE   PROCEDURE usp_thing AS SELECT 1"}
	if !a.Equal(b) {
		t.Error("expected whitespace-normalized definitions to compare equal")
	}
}

func TestTableOrderedColumns(t *testing.T) {
	tbl := &Table{Name: "orders", Schema: "dbo", Columns: newCIMap[*Column]()}
	tbl.Columns.Set("id", &Column{Name: "id", OrdinalPosition: 1})
	tbl.Columns.Set("total", &Column{Name: "total", OrdinalPosition: 3})
	tbl.Columns.Set("customer_id", &Column{Name: "customer_id", OrdinalPosition: 2})

	names := tbl.ColumnNamesInOrder()
	want := []string{"id", "customer_id", "total"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("position %d: expected %s, got %s", i, n, names[i])
		}
	}
}

func TestQualifiedNameDefaultsSchemaToDbo(t *testing.T) {
	tbl := &Table{Name: "orders"}
	if got := tbl.QualifiedName(); got != "dbo.orders" {
		t.Errorf("expected dbo.orders, got %s", got)
	}
}

func TestSchemaForeignKeysByConstraintGroupsMultiColumn(t *testing.T) {
	s := NewSchema()
	tbl := &Table{Name: "order_items", Schema: "dbo", Columns: newCIMap[*Column]()}
	colA := &Column{Name: "order_id", ForeignKeys: []ForeignKey{
		{Name: "FK_composite", Schema: "dbo", Table: "order_items", Column: "order_id", RefSchema: "dbo", RefTable: "orders", RefColumn: "order_id"},
	}}
	colB := &Column{Name: "line_no", ForeignKeys: []ForeignKey{
		{Name: "FK_composite", Schema: "dbo", Table: "order_items", Column: "line_no", RefSchema: "dbo", RefTable: "orders", RefColumn: "line_no"},
	}}
	tbl.Columns.Set("order_id", colA)
	tbl.Columns.Set("line_no", colB)
	s.Tables.Set("dbo.order_items", tbl)

	grouped := s.ForeignKeysByConstraint()
	key := "dbo.order_items#fk_composite"
	if len(grouped[key]) != 2 {
		t.Fatalf("expected 2 rows under %s, got %d", key, len(grouped[key]))
	}
}

func TestSchemaForeignKeysReferencing(t *testing.T) {
	s := NewSchema()
	parent := &Table{Name: "customers", Schema: "dbo", Columns: newCIMap[*Column]()}
	parent.Columns.Set("id", &Column{Name: "id"})
	s.Tables.Set("dbo.customers", parent)

	child := &Table{Name: "orders", Schema: "dbo", Columns: newCIMap[*Column]()}
	child.Columns.Set("customer_id", &Column{Name: "customer_id", ForeignKeys: []ForeignKey{
		{Name: "FK_orders_customers", Schema: "dbo", Table: "orders", Column: "customer_id", RefSchema: "dbo", RefTable: "customers", RefColumn: "id"},
	}})
	s.Tables.Set("dbo.orders", child)

	refs := s.ForeignKeysReferencing("dbo", "customers", "id")
	if len(refs) != 1 || refs[0].Table != "orders" {
		t.Fatalf("expected one FK from orders, got %+v", refs)
	}
}
