package ledger

import (
	"context"
	"testing"
	"time"
)

func TestRowFromRange(t *testing.T) {
	tests := []struct {
		a1      string
		want    int
		wantErr bool
	}{
		{"Операции!A42:L42", 42, false},
		{"Журнал!A1:H1", 1, false},
		{"Sheet1!AB105:AC105", 105, false},
		{"Операции", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := rowFromRange(tt.a1)
		if (err != nil) != tt.wantErr {
			t.Errorf("rowFromRange(%q) err = %v, wantErr %v", tt.a1, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("rowFromRange(%q) = %d, want %d", tt.a1, got, tt.want)
		}
	}
}

func TestOpCtxDeadline(t *testing.T) {
	c := &SheetsClient{timeout: 10 * time.Second}

	ctx, cancel := c.opCtx(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("call context carries no deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 10*time.Second {
		t.Errorf("deadline in %v, want within (0, 10s]", remaining)
	}
}

func TestTailStart(t *testing.T) {
	tests := []struct {
		total, window, want int
	}{
		{0, 500, 1},
		{10, 0, 1},
		{10, 500, 1},
		{500, 500, 1},
		{501, 500, 2},
		{1000, 500, 501},
	}

	for _, tt := range tests {
		if got := TailStart(tt.total, tt.window); got != tt.want {
			t.Errorf("TailStart(%d, %d) = %d, want %d", tt.total, tt.window, got, tt.want)
		}
	}
}
