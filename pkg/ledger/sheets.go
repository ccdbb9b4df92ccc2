// Package ledger is a thin client for the external spreadsheet that serves
// as the append-only transaction store. Rows are appended, scanned and
// deleted by absolute position; there are no transactional primitives, so
// nothing here retries a failed write (a blind retry risks a duplicate row).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/vmkteam/embedlog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DefaultCallTimeout bounds every Sheets API call. Without it a hung call
// would block the update's handler goroutine for as long as the transport
// allows.
const DefaultCallTimeout = 15 * time.Second

// ErrRowUnknown reports that an append landed but the row number could not
// be parsed from the API response. The write succeeded; callers must not
// treat this as a write failure.
var ErrRowUnknown = errors.New("appended row position unknown")

// Client is the operation surface the domain layer needs from the store.
type Client interface {
	// Append adds one row to the end of the named sheet and returns its
	// 1-based row number.
	Append(ctx context.Context, sheet string, row []string) (int, error)
	// ReadColumn returns the literal values of one column, top to bottom.
	ReadColumn(ctx context.Context, sheet, column string) ([]string, error)
	// ReadRange returns cell values for an A1 range, row-major.
	ReadRange(ctx context.Context, a1 string) ([][]string, error)
	// DeleteRow removes exactly one row at a 1-based absolute position.
	// Positions shift after a deletion: multi-row deletes must run from the
	// highest row number down.
	DeleteRow(ctx context.Context, sheet string, rowNum int) error
	// Ping verifies the spreadsheet is reachable and readable.
	Ping(ctx context.Context) error
}

// Config for the Sheets-backed client.
type Config struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	OpsSheet        string `yaml:"ops_sheet"`
	LogSheet        string `yaml:"log_sheet"`
	CredentialsFile string `yaml:"credentials_file"`
	// ScanTail bounds backward scans to the last N rows. 0 means scan all.
	ScanTail int `yaml:"scan_tail"`
	// CallTimeoutSeconds bounds each Sheets API call. 0 means the default.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

// SheetsClient implements Client over the Google Sheets API v4.
type SheetsClient struct {
	svc           *sheets.Service
	spreadsheetID string
	timeout       time.Duration
	logger        embedlog.Logger

	// sheet title -> numeric sheet id, cached for the process lifetime.
	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewSheetsClient creates the client using a service-account credentials file.
func NewSheetsClient(ctx context.Context, cfg Config, logger embedlog.Logger) (*SheetsClient, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	timeout := DefaultCallTimeout
	if cfg.CallTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.CallTimeoutSeconds) * time.Second
	}

	return &SheetsClient{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		timeout:       timeout,
		logger:        logger,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// opCtx derives a per-call deadline so no single API call can hang a handler
// goroutine indefinitely.
func (c *SheetsClient) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *SheetsClient) Append(ctx context.Context, sheet string, row []string) (int, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}

	// The range is the bare sheet name: the API then appends after the last
	// non-empty row, which removes any ambiguity about the insertion point.
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet, &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("append to %q failed: %w", sheet, err)
	}

	rowNum, err := rowFromRange(resp.Updates.UpdatedRange)
	if err != nil {
		c.logger.Error(ctx, "cannot parse appended range", "range", resp.Updates.UpdatedRange, "err", err)
		return 0, ErrRowUnknown
	}
	return rowNum, nil
}

func (c *SheetsClient) ReadColumn(ctx context.Context, sheet, column string) ([]string, error) {
	rows, err := c.ReadRange(ctx, fmt.Sprintf("%s!%s:%s", sheet, column, column))
	if err != nil {
		return nil, err
	}

	out := make([]string, len(rows))
	for i, r := range rows {
		if len(r) > 0 {
			out[i] = r[0]
		}
	}
	return out, nil
}

func (c *SheetsClient) ReadRange(ctx context.Context, a1 string) ([][]string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %q failed: %w", a1, err)
	}

	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

func (c *SheetsClient) DeleteRow(ctx context.Context, sheet string, rowNum int) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	sheetID, err := c.resolveSheetID(ctx, sheet)
	if err != nil {
		return err
	}

	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowNum - 1),
					EndIndex:   int64(rowNum),
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete row %d from %q failed: %w", rowNum, sheet, err)
	}

	c.logger.Print(ctx, "ledger row deleted", "sheet", sheet, "row", rowNum)
	return nil
}

func (c *SheetsClient) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("spreadsheet unreachable: %w", err)
	}
	return nil
}

// resolveSheetID maps a sheet title to the numeric id DeleteDimension needs.
// Titles are stable for the process lifetime, so results are cached.
func (c *SheetsClient) resolveSheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.sheetIDs[title]; ok {
		return id, nil
	}

	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to list sheets: %w", err)
	}

	for _, s := range resp.Sheets {
		if s.Properties != nil {
			c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
		}
	}

	id, ok := c.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("sheet %q not found", title)
	}
	return id, nil
}

// updatedRangeRe extracts the first row number from an A1 range like
// "Операции!A42:L42".
var updatedRangeRe = regexp.MustCompile(`![A-Z]+(\d+)`)

func rowFromRange(a1 string) (int, error) {
	m := updatedRangeRe.FindStringSubmatch(a1)
	if m == nil {
		return 0, fmt.Errorf("no row number in range %q", a1)
	}
	return strconv.Atoi(m[1])
}

// TailStart returns the 1-based row at which a bounded backward scan over
// total rows should begin. A window of 0 scans everything.
func TailStart(total, window int) int {
	if window <= 0 || total <= window {
		return 1
	}
	return total - window + 1
}
