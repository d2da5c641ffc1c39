package migrator

import (
	"errors"
	"strings"
	"testing"
)

func TestPlanUpNoChangesReturnsErrNoChanges(t *testing.T) {
	p := NewPlanner(nil)
	schema := NewSchema()
	diff := NewDiffer(nil).Diff(schema, schema)
	_, err := p.PlanUp(diff, schema, schema)
	if !errors.Is(err, ErrNoChanges) {
		t.Errorf("expected ErrNoChanges, got %v", err)
	}
}

func TestPlanUpCreateTableEmitsPrimaryKey(t *testing.T) {
	current := NewSchema()
	target := NewSchema()
	target.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsIdentity: true, IsPrimaryKey: true},
		&Column{Name: "total", SQLType: TypeDecimal, Precision: intp(18), Scale: intp(2)},
	))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if !strings.Contains(script, "CREATE TABLE [dbo].[orders]") {
		t.Errorf("expected a CREATE TABLE statement, got:\n%s", script)
	}
	if !strings.Contains(script, "CONSTRAINT [PK_orders] PRIMARY KEY ([id])") {
		t.Errorf("expected an inline primary key constraint, got:\n%s", script)
	}
	if !strings.HasPrefix(script, scriptHeader) {
		t.Errorf("expected script to start with the standard header")
	}
}

func TestPlanUpAddColumnSynthesizesDefault(t *testing.T) {
	current := NewSchema()
	current.Tables.Set("dbo.orders", newTable("orders", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true}))
	target := NewSchema()
	target.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "status", SQLType: TypeVarChar, Length: intp(20), IsNullable: false},
	))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if !strings.Contains(script, "ADD [status] VARCHAR(20) NOT NULL CONSTRAINT") {
		t.Errorf("expected a NOT NULL add with a synthesized default, got:\n%s", script)
	}
	if !strings.Contains(script, "DEFAULT ''") {
		t.Errorf("expected the varchar zero-value sentinel as the default, got:\n%s", script)
	}
}

func TestPlanUpDropColumnDropsDefaultFirst(t *testing.T) {
	current := NewSchema()
	current.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "legacy_flag", SQLType: TypeBit},
	))
	target := NewSchema()
	target.Tables.Set("dbo.orders", newTable("orders", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true}))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	dropDefaultIdx := strings.Index(script, "sys.default_constraints")
	dropColumnIdx := strings.Index(script, "DROP COLUMN [legacy_flag]")
	if dropDefaultIdx == -1 || dropColumnIdx == -1 || dropDefaultIdx > dropColumnIdx {
		t.Errorf("expected the dynamic default lookup to precede DROP COLUMN, got:\n%s", script)
	}
}

func TestPlanUpForeignKeyUsesTwoPhaseValidation(t *testing.T) {
	current := NewSchema()
	customers := newTable("customers", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true})
	current.Tables.Set("dbo.customers", customers)
	current.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "customer_id", SQLType: TypeInt},
	))

	target := NewSchema()
	target.Tables.Set("dbo.customers", customers)
	target.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "customer_id", SQLType: TypeInt, ForeignKeys: []ForeignKey{
			{Name: "FK_orders_customers", Schema: "dbo", Table: "orders", Column: "customer_id", RefSchema: "dbo", RefTable: "customers", RefColumn: "id"},
		}},
	))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if !strings.Contains(script, "WITH NOCHECK ADD CONSTRAINT [FK_orders_customers]") {
		t.Errorf("expected the initial untrusted add, got:\n%s", script)
	}
	if !strings.Contains(script, "WITH CHECK ADD CONSTRAINT [FK_orders_customers]") {
		t.Errorf("expected the re-add WITH CHECK for a trusted FK, got:\n%s", script)
	}
}

func TestPlanUpNewProcedureWrapsBatchesInGO(t *testing.T) {
	current := NewSchema()
	target := NewSchema()
	target.Procedures.Set("usp_archive", &StoredProcedure{Name: "usp_archive", Schema: "dbo", Definition: "CREATE PROCEDURE usp_archive AS\nSELECT 1"})

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	batches := splitBatches(script)
	found := false
	for _, batch := range batches {
		if strings.Contains(batch, "CREATE PROCEDURE usp_archive") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a standalone batch containing the procedure body, got batches: %v", batches)
	}
}

func TestPlanUpSingleColumnRebuildUsesSafeRename(t *testing.T) {
	current := NewSchema()
	current.Tables.Set("dbo.widgets", newTable("widgets", &Column{Name: "id", SQLType: TypeInt, IsIdentity: true, IsPrimaryKey: true}))
	target := NewSchema()
	target.Tables.Set("dbo.widgets", newTable("widgets", &Column{Name: "id", SQLType: TypeBigInt, IsIdentity: true, IsPrimaryKey: true}))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if !strings.Contains(script, "sp_rename") {
		t.Errorf("expected the sole-column rebuild to use the safe add-then-drop-then-rename protocol, got:\n%s", script)
	}
}

func TestPlanUpColumnReorderRebuildsTable(t *testing.T) {
	current := NewSchema()
	current.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "customer_id", SQLType: TypeInt},
	))
	target := NewSchema()
	target.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "customer_id", SQLType: TypeInt},
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
	))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if !strings.Contains(script, "_reorder_") {
		t.Errorf("expected the reorder phase to rebuild through a temp table, got:\n%s", script)
	}
	if n := strings.Count(script, "PRIMARY KEY"); n != 1 {
		t.Errorf("expected exactly one PRIMARY KEY constraint across the shadow create and reattach, got %d:\n%s", n, script)
	}
}

func TestPlanUpColumnReorderWithReferencedPKEmitsSinglePKConstraint(t *testing.T) {
	current := NewSchema()
	current.Tables.Set("dbo.widgets", newTable("widgets",
		&Column{Name: "a", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "b", SQLType: TypeInt},
	))
	current.Tables.Set("dbo.children", newTable("children",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "widget_a", SQLType: TypeInt, ForeignKeys: []ForeignKey{
			{Name: "FK_children_widgets", Schema: "dbo", Table: "children", Column: "widget_a", RefSchema: "dbo", RefTable: "widgets", RefColumn: "a"},
		}},
	))

	target := NewSchema()
	target.Tables.Set("dbo.widgets", newTable("widgets",
		&Column{Name: "b", SQLType: TypeInt},
		&Column{Name: "a", SQLType: TypeInt, IsPrimaryKey: true},
	))
	target.Tables.Set("dbo.children", current.Tables.Values()[1])

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanUp(diff, current, target)
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if !strings.Contains(script, "_reorder_") {
		t.Errorf("expected the reorder phase to rebuild through a temp table, got:\n%s", script)
	}
	if n := strings.Count(script, "PRIMARY KEY"); n != 1 {
		t.Errorf("expected exactly one PRIMARY KEY constraint when a referenced PK column is reordered, got %d:\n%s", n, script)
	}
}

func TestPlanDownInvertsAddAsDrop(t *testing.T) {
	current := NewSchema()
	current.Tables.Set("dbo.orders", newTable("orders", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true}))
	target := NewSchema()
	target.Tables.Set("dbo.orders", newTable("orders",
		&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
		&Column{Name: "status", SQLType: TypeVarChar, Length: intp(20)},
	))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanDown(diff, current, target)
	if err != nil {
		t.Fatalf("PlanDown failed: %v", err)
	}
	if !strings.Contains(script, "DROP COLUMN [status]") {
		t.Errorf("expected the down script to drop the column the up script added, got:\n%s", script)
	}
}

func TestPlanUpForeignKeyStatementOrderIsDeterministic(t *testing.T) {
	build := func() (*Schema, *Schema) {
		current := NewSchema()
		a := newTable("a", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true})
		b := newTable("b", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true})
		current.Tables.Set("dbo.a", a)
		current.Tables.Set("dbo.b", b)
		current.Tables.Set("dbo.orders", newTable("orders",
			&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
			&Column{Name: "a_id", SQLType: TypeInt},
			&Column{Name: "b_id", SQLType: TypeInt},
		))

		target := NewSchema()
		target.Tables.Set("dbo.a", a)
		target.Tables.Set("dbo.b", b)
		target.Tables.Set("dbo.orders", newTable("orders",
			&Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true},
			&Column{Name: "a_id", SQLType: TypeInt, ForeignKeys: []ForeignKey{
				{Name: "FK_orders_a", Schema: "dbo", Table: "orders", Column: "a_id", RefSchema: "dbo", RefTable: "a", RefColumn: "id"},
			}},
			&Column{Name: "b_id", SQLType: TypeInt, ForeignKeys: []ForeignKey{
				{Name: "FK_orders_b", Schema: "dbo", Table: "orders", Column: "b_id", RefSchema: "dbo", RefTable: "b", RefColumn: "id"},
			}},
		))
		return current, target
	}

	var scripts []string
	for i := 0; i < 10; i++ {
		current, target := build()
		diff := NewDiffer(nil).Diff(current, target)
		script, err := NewPlanner(nil).PlanUp(diff, current, target)
		if err != nil {
			t.Fatalf("PlanUp failed: %v", err)
		}
		scripts = append(scripts, script)
	}
	for i := 1; i < len(scripts); i++ {
		if scripts[i] != scripts[0] {
			t.Fatalf("expected regenerating the same diff to produce byte-identical scripts; run 0:\n%s\n\nrun %d:\n%s", scripts[0], i, scripts[i])
		}
	}
}

func TestPlanDownNewTableBecomesDrop(t *testing.T) {
	current := NewSchema()
	target := NewSchema()
	target.Tables.Set("dbo.orders", newTable("orders", &Column{Name: "id", SQLType: TypeInt, IsPrimaryKey: true}))

	diff := NewDiffer(nil).Diff(current, target)
	script, err := NewPlanner(nil).PlanDown(diff, current, target)
	if err != nil {
		t.Fatalf("PlanDown failed: %v", err)
	}
	if !strings.Contains(script, "DROP TABLE IF EXISTS [dbo].[orders]") {
		t.Errorf("expected the down script to drop the table the up script created, got:\n%s", script)
	}
}
