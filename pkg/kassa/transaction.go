package kassa

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the layout used for the timestamp column in the ledger.
const TimestampLayout = "2006-01-02 15:04:05"

// Transaction is the unit of record: one bookkeeping operation entered by a
// user, destined for one row of the operations sheet.
type Transaction struct {
	Timestamp time.Time
	Object    string
	Kind      string
	Category  string
	Amount    float64
	Payment   string
	VAT       string
	Period    string
	Employee  string
	Comment   string

	// Identity of the originating message, used for dedup and undo.
	ChatID    int64
	MessageID int

	// Reserved workflow field, always written empty.
	Status string
}

// MsgKey returns the dedup/undo key for the transaction. Telegram message ids
// are unique per chat only, so the chat id is part of the key.
func (t *Transaction) MsgKey() string {
	return MsgKey(t.ChatID, t.MessageID)
}

// MsgKey builds the composite message key stored in the ledger.
func MsgKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// Row encodes the transaction as an ordered ledger row (columns A..L of the
// operations sheet). Column order is stable and must not change: the undo
// engine addresses the msg key and comment columns by position.
func (t *Transaction) Row() []string {
	return []string{
		t.Timestamp.Format(TimestampLayout),
		t.Object,
		t.Kind,
		t.Category,
		FormatAmount(t.Amount),
		t.Payment,
		t.VAT,
		t.Period,
		t.Employee,
		t.Comment,
		t.MsgKey(),
		t.Status,
	}
}

// Ledger column positions (0-based) for the columns scans depend on.
const (
	ColComment = 9
	ColMsgKey  = 10
)

// FormatAmount renders an amount the way it is written to the sheet: no
// trailing zeros, dot decimal separator.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TransactionFromRow decodes a ledger row back into a Transaction. Short rows
// are padded with empty cells, matching how the Sheets API omits trailing
// empties.
func TransactionFromRow(row []string) (*Transaction, error) {
	cells := make([]string, 12)
	copy(cells, row)

	ts, err := time.Parse(TimestampLayout, cells[0])
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", cells[0], err)
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(cells[4], ",", "."), 64)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", cells[4], err)
	}

	t := &Transaction{
		Timestamp: ts,
		Object:    cells[1],
		Kind:      cells[2],
		Category:  cells[3],
		Amount:    amount,
		Payment:   cells[5],
		VAT:       cells[6],
		Period:    cells[7],
		Employee:  cells[8],
		Comment:   cells[9],
		Status:    cells[11],
	}

	if key := cells[10]; key != "" {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) == 2 {
			t.ChatID, _ = strconv.ParseInt(parts[0], 10, 64)
			t.MessageID, _ = strconv.Atoi(parts[1])
		}
	}

	return t, nil
}

// Summary formats a short human confirmation of what was recorded.
func (t *Transaction) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s / %s / %s", t.Object, t.Kind, t.Category)
	fmt.Fprintf(&sb, "\n💰 %s (%s, НДС: %s)", FormatAmount(t.Amount), t.Payment, t.VAT)
	fmt.Fprintf(&sb, "\n📅 %s, 👤 %s", t.Period, t.Employee)
	if t.Comment != "" {
		fmt.Fprintf(&sb, "\n📝 %s", t.Comment)
	}
	return sb.String()
}
