package kassa

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kassa/pkg/ledger"
)

// Journal statuses. OK and BULK_OK mark successful ledger writes and are the
// only entries undo may target; UNDO and UNDO_BULK supersede them.
const (
	StatusOK        = "OK"
	StatusBulkOK    = "BULK_OK"
	StatusUndo      = "UNDO"
	StatusUndoBulk  = "UNDO_BULK"
	StatusError     = "ERROR"
	StatusDuplicate = "DUPLICATE"
)

// Entry records the processing outcome of one inbound message. The journal
// is append-only and is read by scanning from the tail backward.
type Entry struct {
	Timestamp time.Time
	ChatID    int64
	User      string
	MessageID int
	Text      string
	Status    string
	// Detail carries the error text, the batch token of a bulk write, or the
	// msg key / token undone by an UNDO / UNDO_BULK entry.
	Detail string
	// Row is the ledger row number written, when the message produced one.
	Row int
}

// MsgKey returns the composite message key of the entry's source message.
func (e *Entry) MsgKey() string { return MsgKey(e.ChatID, e.MessageID) }

func (e *Entry) toRow() []string {
	return []string{
		e.Timestamp.Format(TimestampLayout),
		strconv.FormatInt(e.ChatID, 10),
		e.User,
		strconv.Itoa(e.MessageID),
		e.Text,
		e.Status,
		e.Detail,
		strconv.Itoa(e.Row),
	}
}

func entryFromRow(cells []string) Entry {
	row := make([]string, 8)
	copy(row, cells)

	ts, _ := time.Parse(TimestampLayout, row[0])
	chatID, _ := strconv.ParseInt(row[1], 10, 64)
	msgID, _ := strconv.Atoi(row[3])
	rowNum, _ := strconv.Atoi(row[7])

	return Entry{
		Timestamp: ts,
		ChatID:    chatID,
		User:      row[2],
		MessageID: msgID,
		Text:      row[4],
		Status:    row[5],
		Detail:    row[6],
		Row:       rowNum,
	}
}

// Journal is the audit trail. The sheet-backed implementation is best-effort
// on writes: a failed journal append must not fail the user's operation.
type Journal interface {
	Append(ctx context.Context, e Entry) error
	// Tail returns up to limit most recent entries in sheet order (oldest
	// first); callers scan the slice backward.
	Tail(ctx context.Context, limit int) ([]Entry, error)
}

// SheetsJournal keeps the journal on a dedicated sheet of the same
// spreadsheet as the operations ledger.
type SheetsJournal struct {
	client ledger.Client
	sheet  string
}

func NewSheetsJournal(client ledger.Client, sheet string) *SheetsJournal {
	return &SheetsJournal{client: client, sheet: sheet}
}

func (j *SheetsJournal) Append(ctx context.Context, e Entry) error {
	_, err := j.client.Append(ctx, j.sheet, e.toRow())
	return err
}

func (j *SheetsJournal) Tail(ctx context.Context, limit int) ([]Entry, error) {
	// One bounded read: count rows via the timestamp column, then fetch the
	// tail as a range.
	col, err := j.client.ReadColumn(ctx, j.sheet, "A")
	if err != nil {
		return nil, fmt.Errorf("journal scan failed: %w", err)
	}
	total := len(col)
	if total == 0 {
		return nil, nil
	}

	start := ledger.TailStart(total, limit)
	rows, err := j.client.ReadRange(ctx, fmt.Sprintf("%s!A%d:H%d", j.sheet, start, total))
	if err != nil {
		return nil, fmt.Errorf("journal scan failed: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = entryFromRow(r)
	}
	return entries, nil
}
