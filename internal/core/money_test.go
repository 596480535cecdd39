package core

import (
	"database/sql"
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"0", "0", true},
		{".5", "0.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"", "", false},
		{".", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestAmountFrom(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		valid bool
		want  string
	}{
		{"nil", nil, false, "0"},
		{"float", 12.5, true, "12.5"},
		{"nan", math.NaN(), false, "0"},
		{"positive infinity", math.Inf(1), false, "0"},
		{"negative infinity", math.Inf(-1), false, "0"},
		{"int", 7, true, "7"},
		{"int64", int64(-3), true, "-3"},
		{"string", "1200.00", true, "1200"},
		{"string with comma", "12,75", true, "12.75"},
		{"string with spaces", "  40 ", true, "40"},
		{"empty string", "", false, "0"},
		{"garbage string", "twelve", false, "0"},
		{"nan string", "NaN", false, "0"},
		{"bytes", []byte("3.30"), true, "3.3"},
		{"json number", json.Number("99.99"), true, "99.99"},
		{"null string", sql.NullString{}, false, "0"},
		{"sql string", sql.NullString{String: "5", Valid: true}, true, "5"},
		{"sql float", sql.NullFloat64{Float64: 2.25, Valid: true}, true, "2.25"},
		{"decimal", decimal.NewFromInt(10), true, "10"},
		{"unsupported type", struct{}{}, false, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountFrom(tt.in)
			if got.Valid != tt.valid {
				t.Fatalf("AmountFrom(%v).Valid = %v, want %v", tt.in, got.Valid, tt.valid)
			}
			if !got.OrZero().Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("AmountFrom(%v).OrZero() = %s, want %s", tt.in, got.OrZero(), tt.want)
			}
		})
	}
}

func TestAmountJSON(t *testing.T) {
	var row struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
		D Amount `json:"d"`
		E Amount `json:"e"`
	}
	in := `{"a": 12.5, "b": "7.25", "c": null, "d": "oops", "e": {"x": 1}}`
	if err := json.Unmarshal([]byte(in), &row); err != nil {
		t.Fatalf("lenient decode should not fail: %v", err)
	}
	if !row.A.Valid || row.A.String() != "12.50" {
		t.Errorf("a = %+v", row.A)
	}
	if !row.B.Valid || row.B.String() != "7.25" {
		t.Errorf("b = %+v", row.B)
	}
	if row.C.Valid || row.D.Valid || row.E.Valid {
		t.Errorf("expected c, d, e invalid: %+v %+v %+v", row.C, row.D, row.E)
	}

	out, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":"12.5","b":"7.25","c":null,"d":null,"e":null}`
	if string(out) != want {
		t.Errorf("marshal = %s, want %s", out, want)
	}
}
