package kassa

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// BulkHeader holds the fields shared by every row of a bulk batch. Kind is
// not part of the header: bulk entry exists for payroll sheets, so every row
// is written with KindPayroll.
type BulkHeader struct {
	Object   string
	Category string
	Payment  string
	VAT      string
	Period   string
	Comment  string
}

// BulkItem is one row of a batch: a person and an amount.
type BulkItem struct {
	Employee string
	Amount   float64
}

// BulkHeaderExample is echoed back when the header line cannot be parsed.
const BulkHeaderExample = "ОБЪЕКТ; СТАТЬЯ; ОПЛАТА; НДС; ПЕРИОД; КОММЕНТАРИЙ\n" +
	"Например: ОБУХОВО; ЗАРПЛАТА; НАЛ; НЕТ; 2026-01-2; бригада №2"

const bulkHeaderFieldCount = 6

// ParseBulkHeader parses the six-field bulk header line. Field validation
// reuses the quick-entry validators.
func ParseBulkHeader(line string, cats Catalogs) (*BulkHeader, error) {
	parts := strings.Split(line, ";")
	if len(parts) != bulkHeaderFieldCount {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrFormat, len(parts), bulkHeaderFieldCount)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	t := &Transaction{}
	if err := ApplyObject(t, parts[0], cats); err != nil {
		return nil, err
	}
	if err := ApplyCategory(t, parts[1], cats); err != nil {
		return nil, err
	}
	if err := ApplyPayment(t, parts[2], cats); err != nil {
		return nil, err
	}
	if err := ApplyVAT(t, parts[3]); err != nil {
		return nil, err
	}
	if err := ApplyPeriod(t, parts[4]); err != nil {
		return nil, err
	}

	return &BulkHeader{
		Object:   t.Object,
		Category: t.Category,
		Payment:  t.Payment,
		VAT:      t.VAT,
		Period:   t.Period,
		Comment:  parts[5],
	}, nil
}

// bulkItemRe captures a trailing amount with an optional thousands suffix
// (к/k, either case): "ИВАНОВ 10к", "Петров И.С. 12 500", "сидоров 8000,50".
var bulkItemRe = regexp.MustCompile(`^(.+?)\s+(\d[\d\s ]*(?:[.,]\d+)?)\s*([кКkK])?$`)

// ParseBulkItem parses one item line into an employee name and an amount.
func ParseBulkItem(line string) (*BulkItem, error) {
	m := bulkItemRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, fmt.Errorf("%w: want ИМЯ СУММА, e.g. ИВАНОВ 10000 or ИВАНОВ 10к", ErrFormat)
	}

	amount, err := ParseAmount(m[2])
	if err != nil {
		return nil, err
	}
	if m[3] != "" {
		amount *= 1000
	}

	return &BulkItem{
		Employee: strings.ToUpper(strings.TrimSpace(m[1])),
		Amount:   amount,
	}, nil
}

// NewBatchToken mints the opaque token embedded in each bulk row's comment.
func NewBatchToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// BatchMark renders the comment marker for a batch token.
func BatchMark(token string) string {
	return "[партия:" + token + "]"
}

// BatchComment combines the shared header comment with the batch marker.
func BatchComment(headerComment, token string) string {
	mark := BatchMark(token)
	if headerComment == "" {
		return mark
	}
	return headerComment + " " + mark
}
