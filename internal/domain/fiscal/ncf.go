package fiscal

import (
	"regexp"
	"strings"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
)

// DefaultNCFLength is the length of a paper NCF: series letter plus ten digits.
const DefaultNCFLength = 11

var ncfPattern = regexp.MustCompile(`^[A-Z][0-9]+$`)

// CheckFormat validates a manually entered NCF: one series letter followed by
// digits, length matching what the type's sequence would produce.
func CheckFormat(ncf string, typ comprobante.Type) error {
	want := DefaultNCFLength
	if typ.IsFiscal && typ.Prefix != "" {
		want = typ.NCFLength()
	}

	switch {
	case ncf == "":
		return apperror.NewInvalidNCF(ncf, "NCF is empty")
	case strings.TrimSpace(ncf) != ncf:
		return apperror.NewInvalidNCF(ncf, "NCF must not contain surrounding spaces")
	case len(ncf) != want:
		return apperror.NewInvalidNCF(ncf, "NCF has the wrong length").
			WithDetail("expected_length", want)
	case !ncfPattern.MatchString(ncf):
		return apperror.NewInvalidNCF(ncf, "NCF must be a series letter followed by digits")
	}
	return nil
}

// Normalize upper-cases and trims operator input before CheckFormat.
func Normalize(ncf string) string {
	return strings.ToUpper(strings.TrimSpace(ncf))
}
