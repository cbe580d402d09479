// Package comprobante holds the catalog of fiscal document types (tipos de comprobante)
// and their numbering policy.
package comprobante

import (
	"fmt"
	"regexp"
	"strconv"

	"ncfpos/internal/core/apperror"
)

var codePattern = regexp.MustCompile(`^\d{2}$`)

// Type is a category of sales document. Fiscal types draw their NCF from a sequence.
type Type struct {
	ID   int64  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`

	IsFiscal bool `db:"is_fiscal" json:"isFiscal"`

	// Prefix is the series letter plus the type code, e.g. "B01".
	Prefix string `db:"prefix" json:"prefix"`

	// PaddingWidth is the width of the digit run after the series letter,
	// i.e. the prefix digits plus the zero-padded counter. 10 yields B0100000001.
	PaddingWidth int `db:"padding_width" json:"paddingWidth"`

	// MaxNumber caps the counter for the type; nil means unbounded.
	MaxNumber *int64 `db:"max_number" json:"maxNumber,omitempty"`

	Active      bool `db:"active" json:"active"`
	ForSale     bool `db:"for_sale" json:"forSale"`
	RequiresRNC bool `db:"requires_rnc" json:"requiresRnc"`

	// SuggestWhen is an optional CEL predicate used by the Suggester.
	SuggestWhen string `db:"suggest_when" json:"suggestWhen,omitempty"`
}

// Series returns the leading alphabetic part of the prefix.
func (t Type) Series() string {
	i := 0
	for i < len(t.Prefix) && isLetter(t.Prefix[i]) {
		i++
	}
	return t.Prefix[:i]
}

// NumberWidth is how many digits the counter itself is padded to.
func (t Type) NumberWidth() int {
	w := t.PaddingWidth - (len(t.Prefix) - len(t.Series()))
	if w < 0 {
		return 0
	}
	return w
}

// Format renders counter n as an NCF for this type.
func (t Type) Format(n int64) string {
	return t.Prefix + fmt.Sprintf("%0*d", t.NumberWidth(), n)
}

// Parse extracts the counter from an NCF issued under this type's prefix.
func (t Type) Parse(ncf string) (int64, bool) {
	if len(ncf) <= len(t.Prefix) || ncf[:len(t.Prefix)] != t.Prefix {
		return 0, false
	}
	n, err := strconv.ParseInt(ncf[len(t.Prefix):], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// NCFLength is the length of a formatted NCF for this type.
func (t Type) NCFLength() int {
	return len(t.Prefix) + t.NumberWidth()
}

// Validate checks the type definition as loaded from the catalog.
func (t Type) Validate() error {
	if t.ID <= 0 {
		return apperror.NewValidation("comprobante type id must be positive").
			WithDetail("id", t.ID)
	}
	if !codePattern.MatchString(t.Code) {
		return apperror.NewValidation("comprobante type code must be two digits").
			WithDetail("id", t.ID).WithDetail("code", t.Code)
	}
	if !t.IsFiscal {
		return nil
	}
	if t.Series() == "" {
		return apperror.NewValidation("fiscal comprobante type needs a prefix starting with a series letter").
			WithDetail("id", t.ID)
	}
	if t.NumberWidth() == 0 {
		return apperror.NewValidation("padding width leaves no room for the counter").
			WithDetail("id", t.ID).WithDetail("padding_width", t.PaddingWidth)
	}
	if t.MaxNumber != nil {
		if *t.MaxNumber <= 0 {
			return apperror.NewValidation("max number must be positive").WithDetail("id", t.ID)
		}
		if digits := len(strconv.FormatInt(*t.MaxNumber, 10)); digits > t.NumberWidth() {
			return apperror.NewValidation("max number does not fit the padding width").
				WithDetail("id", t.ID).
				WithDetail("max_number", *t.MaxNumber).
				WithDetail("number_width", t.NumberWidth())
		}
	}
	return nil
}

// Label is the display name used in selection lists: "[01] Factura de Crédito Fiscal".
func (t Type) Label() string {
	return fmt.Sprintf("[%s] %s", t.Code, t.Name)
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
