package kassa

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Quick-entry format: nine semicolon-separated fields.
const quickFieldCount = 9

// QuickFormatExample is echoed back on every format error.
const QuickFormatExample = "ОБЪЕКТ; ВИД; СТАТЬЯ; СУММА; ОПЛАТА; НДС; ПЕРИОД; ОТВЕТСТВЕННЫЙ; КОММЕНТАРИЙ\n" +
	"Например: ОБУХОВО; РАСХОД; КВАРТИРА; 10000; БЕЗНАЛ; ДА; 2026-01-1; ИВАНОВ; жильё"

// ErrFormat is returned when a quick-entry line does not have nine fields.
var ErrFormat = errors.New("wrong field count")

// FieldError is a user-correctable validation failure of a single field.
// UserMsg is ready to be sent back as-is.
type FieldError struct {
	Field   string
	UserMsg string
}

func (e *FieldError) Error() string { return fmt.Sprintf("field %s: %s", e.Field, e.UserMsg) }

// periodRe matches the half-month bucket: YYYY-MM-1 is days 1..15,
// YYYY-MM-2 is days 16..end. Calendar dates do not match.
var periodRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-[12]$`)

// ParseLine parses a quick-entry line into a Transaction. Fields are
// validated in order, stopping at the first failure so the user gets one
// actionable error at a time. Timestamp and message identity are left for
// the caller to assign.
func ParseLine(line string, cats Catalogs) (*Transaction, error) {
	parts := strings.Split(line, ";")
	if len(parts) != quickFieldCount {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrFormat, len(parts), quickFieldCount)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	t := &Transaction{}
	steps := []func(string) error{
		func(v string) error { return ApplyObject(t, v, cats) },
		func(v string) error { return ApplyKind(t, v, cats) },
		func(v string) error { return ApplyCategory(t, v, cats) },
		func(v string) error { return ApplyAmount(t, v) },
		func(v string) error { return ApplyPayment(t, v, cats) },
		func(v string) error { return ApplyVAT(t, v) },
		func(v string) error { return ApplyPeriod(t, v) },
		func(v string) error { return ApplyEmployee(t, v) },
		func(v string) error { return ApplyComment(t, v) },
	}
	for i, apply := range steps {
		if err := apply(parts[i]); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// The Apply* validators below are shared between quick entry and the guided
// flow: each guided step feeds exactly one of them.

func ApplyObject(t *Transaction, v string, cats Catalogs) error {
	if v == "" {
		return &FieldError{Field: "object", UserMsg: "Объект не может быть пустым."}
	}
	if len(cats.Objects) > 0 && !contains(cats.Objects, v) {
		return &FieldError{
			Field:   "object",
			UserMsg: fmt.Sprintf("Неизвестный объект «%s». Допустимые: %s.", v, strings.Join(cats.Objects, ", ")),
		}
	}
	t.Object = strings.ToUpper(v)
	return nil
}

func ApplyKind(t *Transaction, v string, cats Catalogs) error {
	up := strings.ToUpper(strings.TrimSpace(v))
	if !contains(cats.Kinds, up) {
		return &FieldError{
			Field:   "kind",
			UserMsg: fmt.Sprintf("Неизвестный вид операции «%s». Допустимые: %s.", v, strings.Join(cats.Kinds, ", ")),
		}
	}
	t.Kind = up
	return nil
}

func ApplyCategory(t *Transaction, v string, cats Catalogs) error {
	if v == "" {
		return &FieldError{Field: "category", UserMsg: "Статья не может быть пустой."}
	}
	if len(cats.Categories) > 0 && !contains(cats.Categories, v) {
		return &FieldError{
			Field:   "category",
			UserMsg: fmt.Sprintf("Неизвестная статья «%s». Допустимые: %s.", v, strings.Join(cats.Categories, ", ")),
		}
	}
	t.Category = strings.ToUpper(v)
	return nil
}

func ApplyAmount(t *Transaction, v string) error {
	amount, err := ParseAmount(v)
	if err != nil {
		return &FieldError{
			Field:   "amount",
			UserMsg: fmt.Sprintf("Сумма «%s» не является положительным числом. Например: 10000 или 1500,50.", v),
		}
	}
	t.Amount = amount
	return nil
}

func ApplyPayment(t *Transaction, v string, cats Catalogs) error {
	up := strings.ToUpper(strings.TrimSpace(v))
	if up == "" {
		return &FieldError{Field: "payment", UserMsg: "Способ оплаты не может быть пустым."}
	}
	if len(cats.Payments) > 0 && !contains(cats.Payments, up) {
		return &FieldError{
			Field:   "payment",
			UserMsg: fmt.Sprintf("Неизвестный способ оплаты «%s». Допустимые: %s.", v, strings.Join(cats.Payments, ", ")),
		}
	}
	t.Payment = up
	return nil
}

func ApplyVAT(t *Transaction, v string) error {
	up := strings.ToUpper(strings.TrimSpace(v))
	if up != VATYes && up != VATNo {
		return &FieldError{Field: "vat", UserMsg: "НДС указывается как ДА или НЕТ."}
	}
	t.VAT = up
	return nil
}

func ApplyPeriod(t *Transaction, v string) error {
	if !periodRe.MatchString(v) {
		return &FieldError{
			Field: "period",
			UserMsg: "Период указывается полумесяцем: ГГГГ-ММ-1 (1–15 число) или ГГГГ-ММ-2 (16–конец месяца).\n" +
				"Например: 2026-01-1. Календарные даты не принимаются.",
		}
	}
	t.Period = v
	return nil
}

func ApplyEmployee(t *Transaction, v string) error {
	if v == "" {
		return &FieldError{Field: "employee", UserMsg: "Ответственный не может быть пустым."}
	}
	t.Employee = strings.ToUpper(v)
	return nil
}

func ApplyComment(t *Transaction, v string) error {
	t.Comment = v
	return nil
}

// ParseAmount normalizes and parses an amount: internal spaces are input
// noise ("10 000"), comma is accepted as the decimal separator. The value
// must be strictly positive.
func ParseAmount(v string) (float64, error) {
	s := strings.ReplaceAll(v, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "") // non-breaking space from mobile keyboards
	s = strings.ReplaceAll(s, ",", ".")
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", v, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount %q is not positive", v)
	}
	return amount, nil
}
