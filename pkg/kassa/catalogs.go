package kassa

import "strings"

// Catalogs holds the closed vocabularies a transaction is validated against.
// Kind, Payment and VAT are always closed sets. Objects and Categories are
// free text when the corresponding list is empty and closed sets otherwise,
// so the vocabulary can be tightened from config without a code change.
type Catalogs struct {
	Kinds      []string `yaml:"kinds"`
	Payments   []string `yaml:"payments"`
	Objects    []string `yaml:"objects"`
	Categories []string `yaml:"categories"`
}

// VAT answers. Fixed, not configurable.
const (
	VATYes = "ДА"
	VATNo  = "НЕТ"
)

// Bulk-mode rows are always payroll: the bulk header carries no kind field.
const KindPayroll = "ЗАРПЛАТА"

// DefaultCatalogs returns the vocabulary used when the config does not
// override it.
func DefaultCatalogs() Catalogs {
	return Catalogs{
		Kinds:    []string{"РАСХОД", "ЗАРПЛАТА", "АВАНС", "ПРИХОД"},
		Payments: []string{"НАЛ", "БЕЗНАЛ", "ЗП ОФИЦ", "АВАНС", "ПРЕДОПЛАТА"},
	}
}

// Merge overlays non-empty lists from other on top of c.
func (c Catalogs) Merge(other Catalogs) Catalogs {
	if len(other.Kinds) > 0 {
		c.Kinds = other.Kinds
	}
	if len(other.Payments) > 0 {
		c.Payments = other.Payments
	}
	if len(other.Objects) > 0 {
		c.Objects = other.Objects
	}
	if len(other.Categories) > 0 {
		c.Categories = other.Categories
	}
	return c
}

// contains reports set membership, case-insensitively for cyrillic-safe
// comparison via strings.EqualFold.
func contains(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
