package dto

import (
	"ncfpos/internal/domain/comprobante"
)

// ComprobanteTypeResponse describes a comprobante type to terminals.
type ComprobanteTypeResponse struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	IsFiscal    bool   `json:"isFiscal"`
	Prefix      string `json:"prefix,omitempty"`
	NCFLength   int    `json:"ncfLength,omitempty"`
	RequiresRNC bool   `json:"requiresRnc"`
	Active      bool   `json:"active"`
	ForSale     bool   `json:"forSale"`
}

// FromComprobanteType converts a domain type.
func FromComprobanteType(t comprobante.Type) ComprobanteTypeResponse {
	r := ComprobanteTypeResponse{
		ID:          t.ID,
		Code:        t.Code,
		Name:        t.Name,
		Label:       t.Label(),
		IsFiscal:    t.IsFiscal,
		RequiresRNC: t.RequiresRNC,
		Active:      t.Active,
		ForSale:     t.ForSale,
	}
	if t.IsFiscal {
		r.Prefix = t.Prefix
		r.NCFLength = t.NCFLength()
	}
	return r
}

// FromComprobanteTypes converts a list.
func FromComprobanteTypes(types []comprobante.Type) []ComprobanteTypeResponse {
	out := make([]ComprobanteTypeResponse, 0, len(types))
	for _, t := range types {
		out = append(out, FromComprobanteType(t))
	}
	return out
}

// SuggestTypeRequest carries the facts used to pick a type.
type SuggestTypeRequest struct {
	HasRNC     bool `json:"hasRnc"`
	IsTaxpayer bool `json:"isTaxpayer"`
	IsRefund   bool `json:"isRefund"`
}

// ToFacts converts the request.
func (r SuggestTypeRequest) ToFacts() comprobante.Facts {
	return comprobante.Facts{HasRNC: r.HasRNC, IsTaxpayer: r.IsTaxpayer, IsRefund: r.IsRefund}
}

// SuggestTypeResponse is the suggested type, if any rule matched.
type SuggestTypeResponse struct {
	Matched bool                     `json:"matched"`
	Type    *ComprobanteTypeResponse `json:"type,omitempty"`
}
