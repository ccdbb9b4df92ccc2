package kassa

import (
	"errors"
	"testing"
	"time"
)

func testCatalogs() Catalogs {
	return DefaultCatalogs()
}

func TestParseLine_Example(t *testing.T) {
	line := "ОБУХОВО; РАСХОД; КВАРТИРА; 10000; БЕЗНАЛ; ДА; 2026-01-1; ИВАНОВ; жильё"

	tx, err := ParseLine(line, testCatalogs())
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}

	if tx.Object != "ОБУХОВО" {
		t.Errorf("object = %q", tx.Object)
	}
	if tx.Kind != "РАСХОД" {
		t.Errorf("kind = %q", tx.Kind)
	}
	if tx.Category != "КВАРТИРА" {
		t.Errorf("category = %q", tx.Category)
	}
	if tx.Amount != 10000.0 {
		t.Errorf("amount = %v", tx.Amount)
	}
	if tx.Payment != "БЕЗНАЛ" {
		t.Errorf("payment = %q", tx.Payment)
	}
	if tx.VAT != VATYes {
		t.Errorf("vat = %q", tx.VAT)
	}
	if tx.Period != "2026-01-1" {
		t.Errorf("period = %q", tx.Period)
	}
	if tx.Employee != "ИВАНОВ" {
		t.Errorf("employee = %q", tx.Employee)
	}
	if tx.Comment != "жильё" {
		t.Errorf("comment = %q", tx.Comment)
	}
}

func TestParseLine_FieldCount(t *testing.T) {
	for _, line := range []string{
		"",
		"ОБУХОВО; РАСХОД; КВАРТИРА",
		"a; b; c; d; e; f; g; h; i; j", // 10 fields
	} {
		_, err := ParseLine(line, testCatalogs())
		if !errors.Is(err, ErrFormat) {
			t.Errorf("ParseLine(%q) err = %v, want ErrFormat", line, err)
		}
	}
}

func TestParseLine_FieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		field string
	}{
		{"empty object", "; РАСХОД; КВАРТИРА; 100; НАЛ; ДА; 2026-01-1; ИВАНОВ; ", "object"},
		{"unknown kind", "ОБУХОВО; ПОКУПКА; КВАРТИРА; 100; НАЛ; ДА; 2026-01-1; ИВАНОВ; ", "kind"},
		{"empty category", "ОБУХОВО; РАСХОД; ; 100; НАЛ; ДА; 2026-01-1; ИВАНОВ; ", "category"},
		{"bad amount", "ОБУХОВО; РАСХОД; КВАРТИРА; abc; НАЛ; ДА; 2026-01-1; ИВАНОВ; ", "amount"},
		{"negative amount", "ОБУХОВО; РАСХОД; КВАРТИРА; -5; НАЛ; ДА; 2026-01-1; ИВАНОВ; ", "amount"},
		{"unknown payment", "ОБУХОВО; РАСХОД; КВАРТИРА; 100; КАРТА МИР; ДА; 2026-01-1; ИВАНОВ; ", "payment"},
		{"bad vat", "ОБУХОВО; РАСХОД; КВАРТИРА; 100; НАЛ; МОЖЕТ; 2026-01-1; ИВАНОВ; ", "vat"},
		{"calendar date", "ОБУХОВО; РАСХОД; КВАРТИРА; 100; НАЛ; ДА; 2026-01-01; ИВАНОВ; ", "period"},
		{"empty employee", "ОБУХОВО; РАСХОД; КВАРТИРА; 100; НАЛ; ДА; 2026-01-1; ; ", "employee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLine(tt.line, testCatalogs())
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FieldError", err)
			}
			if fe.Field != tt.field {
				t.Errorf("failed field = %q, want %q", fe.Field, tt.field)
			}
			if fe.UserMsg == "" {
				t.Error("empty user message")
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"10000", 10000, false},
		{"10 000", 10000, false},
		{"10000,00", 10000, false},
		{"1500.50", 1500.5, false},
		{"abc", 0, true},
		{"-5", 0, true},
		{"0", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAmount(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyPeriod(t *testing.T) {
	valid := []string{"2026-01-1", "2026-12-2", "1999-06-1"}
	for _, p := range valid {
		if err := ApplyPeriod(&Transaction{}, p); err != nil {
			t.Errorf("ApplyPeriod(%q) = %v, want ok", p, err)
		}
	}

	invalid := []string{
		"2026-01-01", // calendar date
		"2026-13-1",  // bad month
		"2026-1-1",   // unpadded month
		"2026-00-1",
		"2026-01-3",
		"2026-01",
		"январь",
	}
	for _, p := range invalid {
		if err := ApplyPeriod(&Transaction{}, p); err == nil {
			t.Errorf("ApplyPeriod(%q) = nil, want error", p)
		}
	}
}

func TestTransactionRowRoundTrip(t *testing.T) {
	line := "ОБУХОВО; РАСХОД; КВАРТИРА; 10000; БЕЗНАЛ; ДА; 2026-01-1; ИВАНОВ; жильё"
	tx, err := ParseLine(line, testCatalogs())
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	tx.Timestamp = time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC)
	tx.ChatID = 42
	tx.MessageID = 7

	row := tx.Row()
	if got := row[ColMsgKey]; got != "42:7" {
		t.Errorf("msg key cell = %q, want 42:7", got)
	}

	back, err := TransactionFromRow(row)
	if err != nil {
		t.Fatalf("TransactionFromRow failed: %v", err)
	}
	if *back != *tx {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, tx)
	}
}
