// Package fiscal holds the fiscal state carried by an order and the rules that
// gate its finalization.
package fiscal

import (
	"time"

	"ncfpos/internal/core/apperror"
)

// State is the position of an order in the fiscal lifecycle.
type State string

const (
	StateUnclassified   State = "unclassified"
	StateTypeSelected   State = "type_selected"
	StateNumberAssigned State = "number_assigned"
	StateFinalized      State = "finalized"
)

// Source records how the NCF reached the order.
type Source string

const (
	SourceNone      Source = ""
	SourceAllocated Source = "allocated"
	SourceManual    Source = "manual"
)

// Extension is the fiscal part of an order. The zero value is an unclassified order.
type Extension struct {
	TypeID      int64      `db:"tipo_comprobante_id" json:"tipoComprobanteId"`
	NCF         string     `db:"ncf" json:"ncf"`
	EsFiscal    bool       `db:"es_fiscal" json:"esFiscal"`
	NCFSource   Source     `db:"ncf_source" json:"ncfSource,omitempty"`
	NCFTypeID   int64      `db:"ncf_type_id" json:"ncfTypeId,omitempty"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalizedAt,omitempty"`
}

// State derives the lifecycle state from the fields.
func (e *Extension) State() State {
	switch {
	case e.FinalizedAt != nil:
		return StateFinalized
	case e.NCF != "":
		return StateNumberAssigned
	case e.TypeID != 0:
		return StateTypeSelected
	default:
		return StateUnclassified
	}
}

// Finalized reports whether fiscal fields are frozen.
func (e *Extension) Finalized() bool {
	return e.FinalizedAt != nil
}

// HoldsNumberFor reports whether the extension already carries a number issued for typeID.
func (e *Extension) HoldsNumberFor(typeID int64) bool {
	return e.NCF != "" && e.NCFTypeID == typeID
}

// SelectType records the chosen comprobante type. A number issued for a different
// type is detached and returned so the caller can log the gap.
func (e *Extension) SelectType(orderID string, typeID int64, isFiscal bool) (detached string, err error) {
	if e.Finalized() {
		return "", apperror.NewOrderFinalized(orderID)
	}
	if typeID <= 0 {
		return "", apperror.NewValidation("comprobante type id must be positive").WithDetail("id", typeID)
	}

	if e.NCF != "" && (e.NCFTypeID != typeID || !isFiscal) {
		detached = e.NCF
		e.NCF = ""
		e.NCFSource = SourceNone
		e.NCFTypeID = 0
	}
	e.TypeID = typeID
	e.EsFiscal = isFiscal
	return detached, nil
}

// AssignNumber attaches an allocated NCF for typeID.
func (e *Extension) AssignNumber(orderID string, typeID int64, ncf string) error {
	if e.Finalized() {
		return apperror.NewOrderFinalized(orderID)
	}
	e.NCF = ncf
	e.NCFSource = SourceAllocated
	e.NCFTypeID = typeID
	return nil
}

// OverrideNumber attaches a manually entered NCF. Format is checked by the caller.
func (e *Extension) OverrideNumber(orderID, ncf string) (replaced string, err error) {
	if e.Finalized() {
		return "", apperror.NewOrderFinalized(orderID)
	}
	if e.TypeID == 0 {
		return "", apperror.NewValidation("select a comprobante type before entering an NCF")
	}
	replaced = e.NCF
	e.NCF = ncf
	e.NCFSource = SourceManual
	e.NCFTypeID = e.TypeID
	return replaced, nil
}

// ValidateForFinalize fails with FISCAL_NUMBER_MISSING exactly when the order is
// fiscal and carries no NCF. Non-fiscal and unclassified orders always pass.
func ValidateForFinalize(e *Extension) error {
	if e.EsFiscal && e.NCF == "" {
		return apperror.NewFiscalNumberMissing(e.TypeID)
	}
	return nil
}

// Finalize freezes the extension after ValidateForFinalize passes.
func (e *Extension) Finalize(orderID string, at time.Time) error {
	if e.Finalized() {
		return apperror.NewOrderFinalized(orderID)
	}
	if err := ValidateForFinalize(e); err != nil {
		return err
	}
	at = at.UTC()
	e.FinalizedAt = &at
	return nil
}
