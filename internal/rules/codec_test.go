// internal/rules/codec_test.go
package rules

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/policykeeper/internal/types"
)

func present(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func TestEncode(t *testing.T) {
	c := Codec{}
	row, err := c.Encode(types.NewRule("p", "alice", "data1", "read"))
	if err != nil {
		t.Fatalf("Encode() error = %v, want nil", err)
	}
	if row.PType != "p" {
		t.Errorf("PType = %v, want p", row.PType)
	}
	want := [types.MaxFields]sql.NullString{present("alice"), present("data1"), present("read")}
	if row.V != want {
		t.Errorf("V = %v, want %v", row.V, want)
	}
	if row.ID != "" {
		t.Errorf("ID = %q, want empty until insert", row.ID)
	}
}

func TestEncode_EmptyStringIsPresent(t *testing.T) {
	row, err := Codec{}.Encode(types.NewRule("p", "alice", "", "read"))
	if err != nil {
		t.Fatalf("Encode() error = %v, want nil", err)
	}
	if !row.V[1].Valid || row.V[1].String != "" {
		t.Errorf("V[1] = %v, want present empty string", row.V[1])
	}
	if row.Len() != 3 {
		t.Errorf("Len() = %v, want 3", row.Len())
	}
}

func TestEncode_Validation(t *testing.T) {
	c := NewCodec(4, 8)

	tests := []struct {
		name  string
		rule  types.Rule
		field string
	}{
		{"empty ptype", types.NewRule("", "alice"), "ptype"},
		{"ptype too long", types.NewRule("p_long", "alice"), "ptype"},
		{"no values", types.NewRule("p"), "rule"},
		{"too many values", types.NewRule("p", "a", "b", "c", "d", "e", "f"), "rule"},
		{"value too long", types.NewRule("p", "alice", "data-store-1"), "rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Encode(tt.rule)
			ve, ok := err.(*types.ValidationError)
			if !ok {
				t.Fatalf("Encode() error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %v, want %v", ve.Field, tt.field)
			}
		})
	}
}

func TestEncode_LengthCountsRunes(t *testing.T) {
	c := NewCodec(0, 3)
	if _, err := c.Encode(types.NewRule("p", "äöü")); err != nil {
		t.Errorf("Encode(3 runes) error = %v, want nil", err)
	}
	if _, err := c.Encode(types.NewRule("p", "äöüß")); err == nil {
		t.Error("Encode(4 runes) error = nil, want ValidationError")
	}
}

func TestNewCodec_Defaults(t *testing.T) {
	c := NewCodec(0, -1)
	if _, err := c.Encode(types.NewRule("p", strings.Repeat("x", types.DefaultMaxFieldLength))); err != nil {
		t.Errorf("Encode(max length) error = %v, want nil", err)
	}
	if _, err := c.Encode(types.NewRule("p", strings.Repeat("x", types.DefaultMaxFieldLength+1))); err == nil {
		t.Error("Encode(max length + 1) error = nil, want ValidationError")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		row     types.Row
		want    types.Rule
		wantErr bool
	}{
		{
			name: "contiguous",
			row:  types.Row{ID: "1", PType: "g", V: [types.MaxFields]sql.NullString{present("alice"), present("admin")}},
			want: types.NewRule("g", "alice", "admin"),
		},
		{
			name: "all five",
			row: types.Row{PType: "p", V: [types.MaxFields]sql.NullString{
				present("a"), present("b"), present("c"), present("d"), present("e"),
			}},
			want: types.NewRule("p", "a", "b", "c", "d", "e"),
		},
		{
			name: "present empty string",
			row:  types.Row{PType: "p", V: [types.MaxFields]sql.NullString{present("alice"), present("")}},
			want: types.NewRule("p", "alice", ""),
		},
		{
			name:    "gap",
			row:     types.Row{ID: "7", PType: "p", V: [types.MaxFields]sql.NullString{present("alice"), {}, present("read")}},
			wantErr: true,
		},
		{
			name:    "empty ptype",
			row:     types.Row{V: [types.MaxFields]sql.NullString{present("alice")}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Codec{}.Decode(tt.row)
			if tt.wantErr {
				if !types.IsValidation(err) {
					t.Errorf("Decode() error = %v, want ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v, want nil", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey(t *testing.T) {
	a := types.NewRule("p", "alice", "data1")
	b := types.NewRule("p", "alice", "data1", "")
	c := types.NewRule("p", "alice,data1")

	if Key(a) == Key(b) {
		t.Error("Key() equal for rules of different length")
	}
	if Key(a) == Key(c) {
		t.Error("Key() equal for values containing the separator of another rule")
	}

	row, err := Codec{}.Encode(b)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if RowKey(row) != Key(b) {
		t.Errorf("RowKey() = %q, want Key() = %q", RowKey(row), Key(b))
	}
}

// Property: decode(encode(r)) == r for every rule within the limits.
func TestCodecRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	c := Codec{}
	ptypes := gen.OneConstOf("p", "p2", "g", "g2", "ptype_max_")
	values := gen.SliceOfN(types.MaxFields, gen.AnyString().SuchThat(func(s string) bool {
		return len([]rune(s)) <= types.DefaultMaxFieldLength
	}))

	properties.Property("round trip preserves rule", prop.ForAll(
		func(ptype string, vs []string, n int) bool {
			rule := types.NewRule(ptype, vs[:n]...)
			row, err := c.Encode(rule)
			if err != nil {
				return false
			}
			got, err := c.Decode(row)
			if err != nil {
				return false
			}
			return got.Equal(rule) && RowKey(row) == Key(rule)
		},
		ptypes,
		values,
		gen.IntRange(1, types.MaxFields),
	))

	properties.TestingRun(t)
}
