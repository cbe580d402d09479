// Package order provides the POS order and its lifecycle. The fiscal state lives in
// a fiscal.Extension owned by the order.
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/id"
	"ncfpos/internal/domain/fiscal"
)

// Status of the order as a sale.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFinalized Status = "finalized"
	StatusVoided    Status = "voided"
)

// Order is a sale recorded at a terminal.
type Order struct {
	ID         id.ID  `json:"id"`
	Reference  string `json:"reference"`
	TerminalID string `json:"terminalId"`

	CustomerName string `json:"customerName,omitempty"`
	CustomerRNC  string `json:"customerRnc,omitempty"`
	IsTaxpayer   bool   `json:"isTaxpayer"`
	IsRefund     bool   `json:"isRefund"`

	// Total includes ITBIS.
	Total decimal.Decimal `json:"total"`
	ITBIS decimal.Decimal `json:"itbis"`

	Status Status           `json:"status"`
	Fiscal fiscal.Extension `json:"fiscal"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	VoidedAt  *time.Time `json:"voidedAt,omitempty"`
}

// New creates an open, unclassified order.
func New(terminalID, reference string, total, itbis decimal.Decimal) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:         id.New(),
		Reference:  reference,
		TerminalID: terminalID,
		Total:      total,
		ITBIS:      itbis,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// OrderID implements numbering.FiscalOrder.
func (o *Order) OrderID() string { return o.ID.String() }

// FiscalState implements numbering.FiscalOrder.
func (o *Order) FiscalState() *fiscal.Extension { return &o.Fiscal }

// Validate checks the order as submitted by a terminal.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.TerminalID) == "" {
		return apperror.NewValidation("terminal is required").WithDetail("field", "terminalId")
	}
	if o.Total.IsNegative() {
		return apperror.NewValidation("total must not be negative").WithDetail("field", "total")
	}
	if o.ITBIS.IsNegative() || o.ITBIS.GreaterThan(o.Total) {
		return apperror.NewValidation("itbis must be between zero and the total").WithDetail("field", "itbis")
	}
	if o.CustomerRNC != "" && !validRNC(o.CustomerRNC) {
		return apperror.NewValidation("RNC must have 9 digits, or 11 for a cédula").
			WithDetail("field", "customerRnc")
	}
	return nil
}

// HasRNC reports whether the customer carries a tax id.
func (o *Order) HasRNC() bool {
	return o.CustomerRNC != ""
}

// Subtotal is the amount before ITBIS.
func (o *Order) Subtotal() decimal.Decimal {
	return o.Total.Sub(o.ITBIS)
}

// CanModify fails once the order left the open state.
func (o *Order) CanModify() error {
	switch o.Status {
	case StatusFinalized:
		return apperror.NewOrderFinalized(o.OrderID())
	case StatusVoided:
		return apperror.NewConflict("order is voided").WithDetail("order_id", o.OrderID())
	}
	return nil
}

// MarkFinalized mirrors a finalized fiscal extension into the order status.
func (o *Order) MarkFinalized() {
	o.Status = StatusFinalized
	o.touch()
}

// MarkVoided closes an open order without finalizing it.
func (o *Order) MarkVoided(at time.Time) {
	at = at.UTC()
	o.Status = StatusVoided
	o.VoidedAt = &at
	o.touch()
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func validRNC(s string) bool {
	if len(s) != 9 && len(s) != 11 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
