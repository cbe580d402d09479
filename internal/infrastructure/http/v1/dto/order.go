package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"ncfpos/internal/domain/fiscal"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/domain/order"
)

// CreateOrderRequest opens an order.
type CreateOrderRequest struct {
	Reference    string          `json:"reference" binding:"max=64"`
	CustomerName string          `json:"customerName" binding:"max=200"`
	CustomerRNC  string          `json:"customerRnc"`
	IsTaxpayer   bool            `json:"isTaxpayer"`
	IsRefund     bool            `json:"isRefund"`
	Total        decimal.Decimal `json:"total"`
	ITBIS        decimal.Decimal `json:"itbis"`
}

// ToInput converts the request for the order service.
func (r CreateOrderRequest) ToInput(terminalID string) order.CreateInput {
	return order.CreateInput{
		TerminalID:   terminalID,
		Reference:    r.Reference,
		CustomerName: r.CustomerName,
		CustomerRNC:  r.CustomerRNC,
		IsTaxpayer:   r.IsTaxpayer,
		IsRefund:     r.IsRefund,
		Total:        r.Total,
		ITBIS:        r.ITBIS,
	}
}

// SelectComprobanteRequest classifies an order.
type SelectComprobanteRequest struct {
	ComprobanteTypeID int64 `json:"comprobanteTypeId" binding:"required,min=1"`
}

// OverrideNCFRequest enters an NCF by hand.
type OverrideNCFRequest struct {
	NCF string `json:"ncf" binding:"required"`
}

// VoidOrderRequest cancels an order.
type VoidOrderRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// OrderResponse is an order with its derived fiscal state.
type OrderResponse struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference"`
	TerminalID   string          `json:"terminalId"`
	CustomerName string          `json:"customerName,omitempty"`
	CustomerRNC  string          `json:"customerRnc,omitempty"`
	IsTaxpayer   bool            `json:"isTaxpayer"`
	IsRefund     bool            `json:"isRefund"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ITBIS        decimal.Decimal `json:"itbis"`
	Total        decimal.Decimal `json:"total"`
	Status       order.Status    `json:"status"`

	TipoComprobanteID int64         `json:"tipoComprobanteId"`
	NCF               string        `json:"ncf"`
	EsFiscal          bool          `json:"esFiscal"`
	NCFSource         fiscal.Source `json:"ncfSource,omitempty"`
	FiscalState       fiscal.State  `json:"fiscalState"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
	VoidedAt    *time.Time `json:"voidedAt,omitempty"`
}

// FromOrder converts a domain order.
func FromOrder(o *order.Order) OrderResponse {
	return OrderResponse{
		ID:                o.OrderID(),
		Reference:         o.Reference,
		TerminalID:        o.TerminalID,
		CustomerName:      o.CustomerName,
		CustomerRNC:       o.CustomerRNC,
		IsTaxpayer:        o.IsTaxpayer,
		IsRefund:          o.IsRefund,
		Subtotal:          o.Subtotal(),
		ITBIS:             o.ITBIS,
		Total:             o.Total,
		Status:            o.Status,
		TipoComprobanteID: o.Fiscal.TypeID,
		NCF:               o.Fiscal.NCF,
		EsFiscal:          o.Fiscal.EsFiscal,
		NCFSource:         o.Fiscal.NCFSource,
		FiscalState:       o.Fiscal.State(),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		FinalizedAt:       o.Fiscal.FinalizedAt,
		VoidedAt:          o.VoidedAt,
	}
}

// SelectComprobanteResponse reports the order after classification. When the
// number could not be allocated the type stays selected and Error says why.
type SelectComprobanteResponse struct {
	Order OrderResponse    `json:"order"`
	Error *numbering.Error `json:"error,omitempty"`
}

// FinalizeCheckResponse answers whether an order may be finalized now.
type FinalizeCheckResponse struct {
	CanFinalize bool             `json:"canFinalize"`
	Error       *numbering.Error `json:"error,omitempty"`
}

// OrderEventsResponse is the fiscal journal of one order.
type OrderEventsResponse struct {
	OrderID string            `json:"orderId"`
	Events  []numbering.Event `json:"events"`
}
