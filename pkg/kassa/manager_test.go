package kassa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"kassa/pkg/ledger"

	"github.com/vmkteam/embedlog"
)

// fakeLedger is an in-memory ledger.Client. Errors fire on every call when
// the matching fail*On counter is zero, or only on that call number.
type fakeLedger struct {
	sheets map[string][][]string

	appendErr    error
	appendCalls  int
	failAppendOn int

	deleteErr    error
	deleteCalls  int
	failDeleteOn int

	// rowUnknown makes Append land the row but report no position.
	rowUnknown bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sheets: make(map[string][][]string)}
}

func (f *fakeLedger) Append(_ context.Context, sheet string, row []string) (int, error) {
	f.appendCalls++
	if f.appendErr != nil && (f.failAppendOn == 0 || f.appendCalls == f.failAppendOn) {
		return 0, f.appendErr
	}
	f.sheets[sheet] = append(f.sheets[sheet], row)
	if f.rowUnknown {
		return 0, ledger.ErrRowUnknown
	}
	return len(f.sheets[sheet]), nil
}

func (f *fakeLedger) ReadColumn(_ context.Context, sheet, column string) ([]string, error) {
	idx := int(column[0] - 'A')
	rows := f.sheets[sheet]
	out := make([]string, len(rows))
	for i, r := range rows {
		if idx < len(r) {
			out[i] = r[idx]
		}
	}
	return out, nil
}

func (f *fakeLedger) ReadRange(_ context.Context, a1 string) ([][]string, error) {
	parts := strings.SplitN(a1, "!", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("bad range %q", a1)
	}
	var start, end int
	if _, err := fmt.Sscanf(parts[1], "A%d:H%d", &start, &end); err != nil {
		return nil, fmt.Errorf("bad range %q: %w", a1, err)
	}
	rows := f.sheets[parts[0]]
	if end > len(rows) {
		end = len(rows)
	}
	if start < 1 || start > end {
		return nil, nil
	}
	return rows[start-1 : end], nil
}

func (f *fakeLedger) DeleteRow(_ context.Context, sheet string, rowNum int) error {
	f.deleteCalls++
	if f.deleteErr != nil && (f.failDeleteOn == 0 || f.deleteCalls == f.failDeleteOn) {
		return f.deleteErr
	}
	rows := f.sheets[sheet]
	if rowNum < 1 || rowNum > len(rows) {
		return fmt.Errorf("row %d out of range", rowNum)
	}
	f.sheets[sheet] = append(rows[:rowNum-1], rows[rowNum:]...)
	return nil
}

func (f *fakeLedger) Ping(context.Context) error { return nil }

// memJournal is an in-memory Journal.
type memJournal struct {
	entries []Entry
}

func (j *memJournal) Append(_ context.Context, e Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) Tail(_ context.Context, limit int) ([]Entry, error) {
	if limit > 0 && len(j.entries) > limit {
		return j.entries[len(j.entries)-limit:], nil
	}
	return j.entries, nil
}

const testOpsSheet = "Операции"

func newTestManager(lc *fakeLedger, j Journal, durable bool) *Manager {
	m := NewManager(lc, j, NewGuard(0, 0), DefaultCatalogs(), Config{
		OpsSheet:     testOpsSheet,
		DurableDedup: durable,
	}, embedlog.Logger{})
	m.now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	return m
}

func testTx(chatID int64, msgID int, comment string) *Transaction {
	return &Transaction{
		Object: "ОБУХОВО", Kind: "РАСХОД", Category: "КВАРТИРА",
		Amount: 10000, Payment: "БЕЗНАЛ", VAT: VATYes,
		Period: "2026-01-1", Employee: "ИВАНОВ", Comment: comment,
		ChatID: chatID, MessageID: msgID,
	}
}

func TestManager_Commit(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	j := &memJournal{}
	m := newTestManager(lc, j, false)

	res, err := m.Commit(ctx, testTx(42, 7, "жильё"), "@ivanov")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if res.Row != 1 {
		t.Errorf("row = %d, want 1", res.Row)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
	if got := lc.sheets[testOpsSheet][0][ColMsgKey]; got != "42:7" {
		t.Errorf("msg key cell = %q", got)
	}

	if len(j.entries) != 1 || j.entries[0].Status != StatusOK || j.entries[0].Row != 1 {
		t.Errorf("journal = %+v", j.entries)
	}
}

func TestManager_CommitWriteError(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	lc.appendErr = errors.New("quota exceeded")
	j := &memJournal{}
	m := newTestManager(lc, j, false)

	_, err := m.Commit(ctx, testTx(42, 7, ""), "")
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %v, want WriteError", err)
	}
	if len(j.entries) != 1 || j.entries[0].Status != StatusError {
		t.Errorf("journal = %+v", j.entries)
	}
}

func TestManager_DurableDedup(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	m := newTestManager(lc, &memJournal{}, true)

	if _, err := m.Commit(ctx, testTx(42, 7, ""), ""); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	_, err := m.Commit(ctx, testTx(42, 7, ""), "")
	if !errors.Is(err, ErrDuplicateWrite) {
		t.Fatalf("second commit err = %v, want ErrDuplicateWrite", err)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 1 {
		t.Errorf("ledger rows = %d, want exactly 1", n)
	}
}

func TestManager_Undo(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	m := newTestManager(lc, &memJournal{}, false)

	if _, err := m.Commit(ctx, testTx(42, 7, ""), ""); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	res, err := m.Undo(ctx, 42, "")
	if err != nil {
		t.Fatalf("undo failed: %v", err)
	}
	if res.Row != 1 || res.MsgKey != "42:7" {
		t.Errorf("undo result = %+v", res)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 0 {
		t.Errorf("ledger rows after undo = %d, want 0", n)
	}

	// Nothing left to undo for this chat.
	if _, err := m.Undo(ctx, 42, ""); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("second undo err = %v, want ErrNothingToUndo", err)
	}
}

func TestManager_UndoIgnoresOtherChats(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	m := newTestManager(lc, &memJournal{}, false)

	if _, err := m.Commit(ctx, testTx(42, 7, ""), ""); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Undo(ctx, 99, ""); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("undo for foreign chat err = %v, want ErrNothingToUndo", err)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 1 {
		t.Errorf("foreign undo mutated the ledger: rows = %d", n)
	}
}

func TestManager_UndoRowAlreadyGone(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	m := newTestManager(lc, &memJournal{}, false)

	if _, err := m.Commit(ctx, testTx(42, 7, ""), ""); err != nil {
		t.Fatal(err)
	}
	// Row removed by hand in the spreadsheet.
	lc.sheets[testOpsSheet] = nil

	if _, err := m.Undo(ctx, 42, ""); !errors.Is(err, ErrRowNotFound) {
		t.Errorf("err = %v, want ErrRowNotFound", err)
	}
}

func TestManager_BulkCommitAndUndo(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	m := newTestManager(lc, &memJournal{}, false)

	// Surrounding single entries that must survive the bulk undo.
	if _, err := m.Commit(ctx, testTx(42, 1, "до"), ""); err != nil {
		t.Fatal(err)
	}

	header := &BulkHeader{
		Object: "ОБУХОВО", Category: "ЗАРПЛАТА", Payment: "НАЛ",
		VAT: VATNo, Period: "2026-01-2", Comment: "бригада",
	}
	items := []BulkItem{
		{Employee: "ИВАНОВ", Amount: 10000},
		{Employee: "ПЕТРОВ", Amount: 12000},
		{Employee: "СИДОРОВ", Amount: 9000},
	}

	res, err := m.CommitBatch(ctx, 42, 5, "@ivanov", header, items)
	if err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}
	if res.Written != 3 {
		t.Errorf("written = %d, want 3", res.Written)
	}

	if _, err := m.Commit(ctx, testTx(42, 9, "после"), ""); err != nil {
		t.Fatal(err)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 5 {
		t.Fatalf("ledger rows = %d, want 5", n)
	}

	ures, err := m.UndoBatch(ctx, 42, "")
	if err != nil {
		t.Fatalf("UndoBatch failed: %v", err)
	}
	if ures.Deleted != 3 || ures.Token != res.Token {
		t.Errorf("undo batch result = %+v", ures)
	}

	// Exactly the batch rows are gone.
	rows := lc.sheets[testOpsSheet]
	if len(rows) != 2 {
		t.Fatalf("ledger rows after bulk undo = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if strings.Contains(r[ColComment], BatchMark(res.Token)) {
			t.Errorf("batch row survived: %v", r)
		}
	}

	if _, err := m.UndoBatch(ctx, 42, ""); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("second bulk undo err = %v, want ErrNothingToUndo", err)
	}

	// The surrounding single entries are still undoable.
	if _, err := m.Undo(ctx, 42, ""); err != nil {
		t.Errorf("single undo after bulk undo failed: %v", err)
	}
}

func TestManager_CommitRowUnknown(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	lc.rowUnknown = true
	j := &memJournal{}
	m := newTestManager(lc, j, false)

	res, err := m.Commit(ctx, testTx(42, 7, ""), "")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	// The write landed even though the API reported no position.
	if res.Row != 0 {
		t.Errorf("row = %d, want 0 for unknown position", res.Row)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 1 {
		t.Errorf("ledger rows = %d, want 1", n)
	}
	if len(j.entries) != 1 || j.entries[0].Status != StatusOK || j.entries[0].Row != 0 {
		t.Errorf("journal = %+v", j.entries)
	}
}

func TestManager_BulkCommitMidBatchFailure(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	lc.appendErr = errors.New("quota exceeded")
	lc.failAppendOn = 3
	j := &memJournal{}
	m := newTestManager(lc, j, false)

	header := &BulkHeader{
		Object: "ОБУХОВО", Category: "ЗАРПЛАТА", Payment: "НАЛ",
		VAT: VATNo, Period: "2026-01-2",
	}
	items := []BulkItem{
		{Employee: "ИВАНОВ", Amount: 10000},
		{Employee: "ПЕТРОВ", Amount: 12000},
		{Employee: "СИДОРОВ", Amount: 9000},
	}

	res, err := m.CommitBatch(ctx, 42, 5, "", header, items)
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %v, want WriteError", err)
	}
	if res.Written != 2 {
		t.Errorf("written = %d, want 2", res.Written)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 2 {
		t.Errorf("ledger rows = %d, want 2", n)
	}

	// The ERROR entry names the batch token so the partial rows can be found
	// by their comment mark.
	last := j.entries[len(j.entries)-1]
	if last.Status != StatusError || !strings.Contains(last.Detail, BatchMark(res.Token)) {
		t.Errorf("error entry = %+v, want detail with %q", last, BatchMark(res.Token))
	}
}

func TestManager_UndoBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	j := &memJournal{}
	m := newTestManager(lc, j, false)

	header := &BulkHeader{
		Object: "ОБУХОВО", Category: "ЗАРПЛАТА", Payment: "НАЛ",
		VAT: VATNo, Period: "2026-01-2",
	}
	items := []BulkItem{
		{Employee: "ИВАНОВ", Amount: 10000},
		{Employee: "ПЕТРОВ", Amount: 12000},
		{Employee: "СИДОРОВ", Amount: 9000},
	}
	if _, err := m.CommitBatch(ctx, 42, 5, "", header, items); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}

	// Second deletion fails: one row already removed, the rest stay.
	lc.deleteErr = errors.New("grid range out of bounds")
	lc.failDeleteOn = 2

	res, err := m.UndoBatch(ctx, 42, "")
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %v, want WriteError", err)
	}
	if res.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", res.Deleted)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 2 {
		t.Errorf("ledger rows = %d, want 2", n)
	}
	for _, e := range j.entries {
		if e.Status == StatusUndoBulk {
			t.Errorf("partial bulk undo journaled as complete: %+v", e)
		}
	}

	// A retry re-scans the sheet and removes what is left.
	lc.deleteErr = nil
	res, err = m.UndoBatch(ctx, 42, "")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("retry deleted = %d, want 2", res.Deleted)
	}
	if n := len(lc.sheets[testOpsSheet]); n != 0 {
		t.Errorf("ledger rows after retry = %d, want 0", n)
	}
}

func TestSheetsJournal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	lc := newFakeLedger()
	j := NewSheetsJournal(lc, "Журнал")

	for i := 1; i <= 5; i++ {
		err := j.Append(ctx, Entry{
			Timestamp: time.Date(2026, 1, 10, 12, 0, i, 0, time.UTC),
			ChatID:    42, User: "@ivanov", MessageID: i,
			Text: fmt.Sprintf("msg %d", i), Status: StatusOK, Row: i,
		})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	entries, err := j.Tail(ctx, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("tail length = %d, want 3", len(entries))
	}
	last := entries[len(entries)-1]
	if last.MessageID != 5 || last.ChatID != 42 || last.Status != StatusOK || last.Row != 5 {
		t.Errorf("last entry = %+v", last)
	}
	if last.MsgKey() != "42:5" {
		t.Errorf("msg key = %q", last.MsgKey())
	}
}
