package mssql

import (
	"database/sql"
	"strings"
	"testing"

	"starschema/internal/star"
)

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("fact", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}})
	want := "INSERT INTO [fact] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4);"
	if q != want {
		t.Fatalf("sql = %q, want %q", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("args = %v", args)
	}
	n, ok := args[2].(sql.NamedArg)
	if !ok || n.Name != "p3" || n.Value != 2 {
		t.Fatalf("args[2] = %#v", args[2])
	}
}

func TestSelectDimensionSQL(t *testing.T) {
	t.Parallel()

	want := "SELECT [fruit_id], [fruit] FROM [dim_fruit];"
	if got := selectDimensionSQL("dim_fruit", "fruit"); got != want {
		t.Fatalf("sql = %q, want %q", got, want)
	}
}

func TestDimensionDDL(t *testing.T) {
	t.Parallel()

	ddl := dimensionDDL("dim_category", "category")
	for _, want := range []string{
		"IF OBJECT_ID(N'dim_category', N'U') IS NULL",
		"[category_id] BIGINT PRIMARY KEY",
		"[category] NVARCHAR(450) NOT NULL UNIQUE",
		"created_date DATETIMEOFFSET NOT NULL",
		"is_active BIT NOT NULL",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestFactDDLTypeMapping(t *testing.T) {
	t.Parallel()

	ddl := factDDL("fact", []star.FactColumn{
		{Name: "id", Kind: star.KindText},
		{Name: "amount", Kind: star.KindNumber},
		{Name: "category_id", Kind: star.KindInteger},
		{Name: "load_ts", Kind: star.KindTimestamp},
	})
	for _, want := range []string{
		"[id] NVARCHAR(MAX)",
		"[amount] FLOAT",
		"[category_id] BIGINT",
		"[load_ts] DATETIMEOFFSET",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestMsIdentQuoting(t *testing.T) {
	t.Parallel()

	if got := msIdent("we]ird"); got != "[we]]ird]" {
		t.Fatalf("msIdent = %q", got)
	}
}
