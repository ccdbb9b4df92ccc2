package kassa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kassa/pkg/ledger"

	"github.com/vmkteam/embedlog"
)

var (
	// ErrNothingToUndo means no eligible prior write exists for the chat.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrRowNotFound means the target write is known but its ledger row is
	// gone (already removed or the sheet was edited by hand).
	ErrRowNotFound = errors.New("ledger row not found")
	// ErrDuplicateWrite is returned by the durable pre-write scan when the
	// message key is already present in the ledger.
	ErrDuplicateWrite = errors.New("message already recorded")
)

// WriteError wraps a ledger failure. It is surfaced to the user nearly
// verbatim, because checking sharing permissions or quota by hand is the only
// recourse; it is never retried automatically.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Config for the domain manager.
type Config struct {
	OpsSheet string
	// ScanTail bounds journal and ledger backward scans; 0 scans everything.
	ScanTail int
	// DurableDedup additionally scans the ledger msg-key column before every
	// write. Slower, but survives restarts of the in-memory guard.
	DurableDedup bool
}

// Manager drives the write path: dedup, ledger append, journaling, undo.
type Manager struct {
	ledger  ledger.Client
	journal Journal
	guard   *Guard
	cats    Catalogs
	cfg     Config
	log     embedlog.Logger
	now     func() time.Time
}

func NewManager(lc ledger.Client, journal Journal, guard *Guard, cats Catalogs, cfg Config, log embedlog.Logger) *Manager {
	return &Manager{
		ledger:  lc,
		journal: journal,
		guard:   guard,
		cats:    cats,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

func (m *Manager) Catalogs() Catalogs { return m.cats }

// SeenMessage reports a transport-level redelivery of (chat, message id).
// Redeliveries are dropped silently.
func (m *Manager) SeenMessage(chatID int64, messageID int) bool {
	return m.guard.SeenMessage(chatID, messageID)
}

// SeenContent reports an accidental repeat of identical content within the
// dedup window. This one is user-visible.
func (m *Manager) SeenContent(chatID int64, text string) bool {
	return m.guard.SeenContent(chatID, text)
}

// CommitResult reports a successful single write.
type CommitResult struct {
	Row int
}

// Commit assigns the server-side timestamp and appends the transaction to
// the operations sheet, journaling the outcome. The write is not retried on
// failure: the append API carries no idempotency token, so a blind retry
// could double-record.
func (m *Manager) Commit(ctx context.Context, tx *Transaction, user string) (*CommitResult, error) {
	tx.Timestamp = m.now()

	if m.cfg.DurableDedup {
		if _, err := m.findRowByMsgKey(ctx, tx.MsgKey()); err == nil {
			return nil, ErrDuplicateWrite
		} else if !errors.Is(err, ErrRowNotFound) {
			return nil, err
		}
	}

	row, err := m.ledger.Append(ctx, m.cfg.OpsSheet, tx.Row())
	if errors.Is(err, ledger.ErrRowUnknown) {
		// The row landed, only its position is unreported. Row 0 in the
		// journal means "appended, position unknown".
		m.log.Error(ctx, "appended row position unknown", "chat_id", tx.ChatID, "msg_id", tx.MessageID)
		row, err = 0, nil
	}
	if err != nil {
		werr := &WriteError{Op: "запись в журнал операций", Err: err}
		m.journalOutcome(ctx, Entry{
			ChatID: tx.ChatID, User: user, MessageID: tx.MessageID,
			Text: tx.Summary(), Status: StatusError, Detail: err.Error(),
		})
		return nil, werr
	}

	m.log.Print(ctx, "transaction recorded",
		"chat_id", tx.ChatID, "msg_id", tx.MessageID,
		"object", tx.Object, "kind", tx.Kind, "amount", tx.Amount, "row", row,
	)

	m.journalOutcome(ctx, Entry{
		ChatID: tx.ChatID, User: user, MessageID: tx.MessageID,
		Text: quickLineOf(tx), Status: StatusOK, Row: row,
	})

	return &CommitResult{Row: row}, nil
}

// BatchResult reports a bulk commit. Written may be less than the item count
// when an append failed mid-batch; in that case the error is non-nil.
type BatchResult struct {
	Token   string
	Written int
}

// CommitBatch writes one payroll transaction per item, all sharing the
// header fields, one timestamp and a fresh batch token.
func (m *Manager) CommitBatch(ctx context.Context, chatID int64, messageID int, user string, header *BulkHeader, items []BulkItem) (*BatchResult, error) {
	token := NewBatchToken()
	comment := BatchComment(header.Comment, token)
	ts := m.now()

	res := &BatchResult{Token: token}
	for _, item := range items {
		tx := &Transaction{
			Timestamp: ts,
			Object:    header.Object,
			Kind:      KindPayroll,
			Category:  header.Category,
			Amount:    item.Amount,
			Payment:   header.Payment,
			VAT:       header.VAT,
			Period:    header.Period,
			Employee:  item.Employee,
			Comment:   comment,
			ChatID:    chatID,
			MessageID: messageID,
		}

		if _, err := m.ledger.Append(ctx, m.cfg.OpsSheet, tx.Row()); err != nil && !errors.Is(err, ledger.ErrRowUnknown) {
			werr := &WriteError{Op: fmt.Sprintf("запись %d из %d", res.Written+1, len(items)), Err: err}
			// The token names the partial batch: its written rows carry the
			// same mark in the comment column.
			m.journalOutcome(ctx, Entry{
				ChatID: chatID, User: user, MessageID: messageID,
				Text:   fmt.Sprintf("bulk %d/%d", res.Written, len(items)),
				Status: StatusError, Detail: BatchMark(token) + " " + err.Error(),
			})
			return res, werr
		}
		res.Written++
	}

	m.log.Print(ctx, "bulk batch recorded",
		"chat_id", chatID, "token", token, "items", res.Written,
	)

	m.journalOutcome(ctx, Entry{
		ChatID: chatID, User: user, MessageID: messageID,
		Text:   fmt.Sprintf("bulk x%d", res.Written),
		Status: StatusBulkOK, Detail: token,
	})

	return res, nil
}

// RecordRejection journals a non-write outcome (validation error, visible
// duplicate). Best effort only.
func (m *Manager) RecordRejection(ctx context.Context, chatID int64, messageID int, user, text, status, detail string) {
	m.journalOutcome(ctx, Entry{
		ChatID: chatID, User: user, MessageID: messageID,
		Text: text, Status: status, Detail: detail,
	})
}

// UndoResult reports the single row removed by Undo.
type UndoResult struct {
	Row    int
	MsgKey string
}

// Undo removes the ledger row of the chat's most recent successful write
// that has not already been undone. No mutation happens unless the row is
// located exactly.
func (m *Manager) Undo(ctx context.Context, chatID int64, user string) (*UndoResult, error) {
	entries, err := m.journal.Tail(ctx, m.cfg.ScanTail)
	if err != nil {
		return nil, &WriteError{Op: "чтение журнала", Err: err}
	}

	target, ok := m.lastUndoable(entries, chatID)
	if !ok {
		return nil, ErrNothingToUndo
	}

	key := target.MsgKey()
	row, err := m.findRowByMsgKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := m.ledger.DeleteRow(ctx, m.cfg.OpsSheet, row); err != nil {
		return nil, &WriteError{Op: "удаление строки", Err: err}
	}

	m.log.Print(ctx, "transaction undone", "chat_id", chatID, "msg_key", key, "row", row)

	m.journalOutcome(ctx, Entry{
		ChatID: chatID, User: user, MessageID: target.MessageID,
		Text: "/undo", Status: StatusUndo, Detail: key, Row: row,
	})

	return &UndoResult{Row: row, MsgKey: key}, nil
}

// UndoBatchResult reports a bulk undo. Deleted counts rows actually removed;
// on a mid-batch failure it is partial and the error is non-nil. Row numbers
// shift after every deletion, so a retry must re-scan, never resume.
type UndoBatchResult struct {
	Token   string
	Deleted int
}

// UndoBatch removes every ledger row of the chat's most recent bulk batch
// that has not already been undone, deleting from the bottom up so earlier
// deletions do not shift the remaining positions.
func (m *Manager) UndoBatch(ctx context.Context, chatID int64, user string) (*UndoBatchResult, error) {
	res := &UndoBatchResult{}

	entries, err := m.journal.Tail(ctx, m.cfg.ScanTail)
	if err != nil {
		return res, &WriteError{Op: "чтение журнала", Err: err}
	}

	token, ok := m.lastUndoableBatch(entries, chatID)
	if !ok {
		return res, ErrNothingToUndo
	}
	res.Token = token

	comments, err := m.ledger.ReadColumn(ctx, m.cfg.OpsSheet, colLetter(ColComment))
	if err != nil {
		return res, &WriteError{Op: "чтение журнала операций", Err: err}
	}

	mark := BatchMark(token)
	var rows []int
	for i, cell := range comments {
		if strings.Contains(cell, mark) {
			rows = append(rows, i+1)
		}
	}
	if len(rows) == 0 {
		return res, ErrRowNotFound
	}

	for i := len(rows) - 1; i >= 0; i-- {
		if err := m.ledger.DeleteRow(ctx, m.cfg.OpsSheet, rows[i]); err != nil {
			return res, &WriteError{Op: fmt.Sprintf("удаление строки %d", rows[i]), Err: err}
		}
		res.Deleted++
	}

	m.log.Print(ctx, "bulk batch undone", "chat_id", chatID, "token", token, "rows", res.Deleted)

	m.journalOutcome(ctx, Entry{
		ChatID: chatID, User: user,
		Text: "/undo_bulk", Status: StatusUndoBulk, Detail: token,
	})

	return res, nil
}

// Ping reports ledger reachability, used by the healthcheck.
func (m *Manager) Ping(ctx context.Context) error {
	return m.ledger.Ping(ctx)
}

// lastUndoable scans journal entries newest-first and returns the most
// recent successful single write of the chat that is not a command echo and
// has no newer UNDO entry pointing at it.
func (m *Manager) lastUndoable(entries []Entry, chatID int64) (*Entry, bool) {
	undone := make(map[string]bool)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ChatID != chatID {
			continue
		}
		switch e.Status {
		case StatusUndo:
			undone[e.Detail] = true
		case StatusOK:
			if isCommand(e.Text) || undone[e.MsgKey()] {
				continue
			}
			return &e, true
		}
	}
	return nil, false
}

// lastUndoableBatch is the batch analogue: the newest BULK_OK token without
// a newer UNDO_BULK for it.
func (m *Manager) lastUndoableBatch(entries []Entry, chatID int64) (string, bool) {
	undone := make(map[string]bool)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.ChatID != chatID {
			continue
		}
		switch e.Status {
		case StatusUndoBulk:
			undone[e.Detail] = true
		case StatusBulkOK:
			if undone[e.Detail] {
				continue
			}
			return e.Detail, true
		}
	}
	return "", false
}

// findRowByMsgKey locates the 1-based ledger row holding the message key,
// searching from the end: the most recent row is the intended target if keys
// ever repeat.
func (m *Manager) findRowByMsgKey(ctx context.Context, key string) (int, error) {
	col, err := m.ledger.ReadColumn(ctx, m.cfg.OpsSheet, colLetter(ColMsgKey))
	if err != nil {
		return 0, &WriteError{Op: "чтение журнала операций", Err: err}
	}
	for i := len(col) - 1; i >= 0; i-- {
		if col[i] == key {
			return i + 1, nil
		}
	}
	return 0, ErrRowNotFound
}

// journalOutcome appends to the audit journal, logging but swallowing
// failures: the journal must never break the user's operation.
func (m *Manager) journalOutcome(ctx context.Context, e Entry) {
	e.Timestamp = m.now()
	if err := m.journal.Append(ctx, e); err != nil {
		m.log.Error(ctx, "journal append failed", "err", err, "status", e.Status, "chat_id", e.ChatID)
	}
}

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// quickLineOf reconstructs the canonical quick-entry form of a transaction
// for the journal text column.
func quickLineOf(t *Transaction) string {
	return strings.Join([]string{
		t.Object, t.Kind, t.Category, FormatAmount(t.Amount),
		t.Payment, t.VAT, t.Period, t.Employee, t.Comment,
	}, "; ")
}

// colLetter converts a 0-based column index to its A1 letter. The ledger has
// fewer than 26 columns.
func colLetter(idx int) string {
	return string(rune('A' + idx))
}
