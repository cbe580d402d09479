// Package report builds the fiscal reports filed with the tax authority: finalized
// fiscal sales (607) and annulled NCFs (608).
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/internal/domain/order"
)

// Lister is the order query the reports need.
type Lister interface {
	List(ctx context.Context, filter order.ListFilter) ([]*order.Order, error)
}

// Service builds reports from finalized and voided orders.
type Service struct {
	orders   Lister
	registry comprobante.Registry
}

// NewService creates a report service.
func NewService(orders Lister, registry comprobante.Registry) *Service {
	return &Service{orders: orders, registry: registry}
}

// SalesLine is one finalized fiscal sale.
type SalesLine struct {
	OrderID     string          `json:"orderId"`
	Reference   string          `json:"reference"`
	NCF         string          `json:"ncf"`
	NCFSource   string          `json:"ncfSource"`
	TypeCode    string          `json:"typeCode"`
	CustomerRNC string          `json:"customerRnc,omitempty"`
	Date        time.Time       `json:"date"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	ITBIS       decimal.Decimal `json:"itbis"`
	Total       decimal.Decimal `json:"total"`
}

// Sales is the 607 report for [From, To).
type Sales struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Lines    []SalesLine     `json:"lines"`
	Count    int             `json:"count"`
	Subtotal decimal.Decimal `json:"subtotal"`
	ITBIS    decimal.Decimal `json:"itbis"`
	Total    decimal.Decimal `json:"total"`
}

// AnnulledLine is one NCF held by a voided order.
type AnnulledLine struct {
	OrderID  string    `json:"orderId"`
	NCF      string    `json:"ncf"`
	TypeCode string    `json:"typeCode"`
	Date     time.Time `json:"date"`
}

// Annulled is the 608 report for [From, To).
type Annulled struct {
	From  time.Time      `json:"from"`
	To    time.Time      `json:"to"`
	Lines []AnnulledLine `json:"lines"`
	Count int            `json:"count"`
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return apperror.NewValidation("report range needs from < to")
	}
	return nil
}

// Sales lists finalized fiscal orders in the range with summed amounts.
func (s *Service) Sales(ctx context.Context, from, to time.Time) (*Sales, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	status := order.StatusFinalized
	orders, err := s.orders.List(ctx, order.ListFilter{Status: &status, FiscalOnly: true, From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("list finalized orders: %w", err)
	}

	codes, err := s.typeCodes(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Sales{
		From:     from,
		To:       to,
		Lines:    make([]SalesLine, 0, len(orders)),
		Subtotal: decimal.Zero,
		ITBIS:    decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, o := range orders {
		line := SalesLine{
			OrderID:     o.OrderID(),
			Reference:   o.Reference,
			NCF:         o.Fiscal.NCF,
			NCFSource:   string(o.Fiscal.NCFSource),
			TypeCode:    codes[o.Fiscal.TypeID],
			CustomerRNC: o.CustomerRNC,
			Date:        *o.Fiscal.FinalizedAt,
			Subtotal:    o.Subtotal(),
			ITBIS:       o.ITBIS,
			Total:       o.Total,
		}
		rep.Lines = append(rep.Lines, line)
		rep.Subtotal = rep.Subtotal.Add(line.Subtotal)
		rep.ITBIS = rep.ITBIS.Add(line.ITBIS)
		rep.Total = rep.Total.Add(line.Total)
	}
	rep.Count = len(rep.Lines)
	return rep, nil
}

// Annulled lists the NCFs of orders voided in the range.
func (s *Service) Annulled(ctx context.Context, from, to time.Time) (*Annulled, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	status := order.StatusVoided
	orders, err := s.orders.List(ctx, order.ListFilter{Status: &status, From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("list voided orders: %w", err)
	}

	codes, err := s.typeCodes(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Annulled{From: from, To: to, Lines: make([]AnnulledLine, 0)}
	for _, o := range orders {
		if o.Fiscal.NCF == "" || o.VoidedAt == nil {
			continue
		}
		rep.Lines = append(rep.Lines, AnnulledLine{
			OrderID:  o.OrderID(),
			NCF:      o.Fiscal.NCF,
			TypeCode: codes[o.Fiscal.TypeID],
			Date:     *o.VoidedAt,
		})
	}
	rep.Count = len(rep.Lines)
	return rep, nil
}

func (s *Service) typeCodes(ctx context.Context) (map[int64]string, error) {
	types, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(map[int64]string, len(types))
	for _, t := range types {
		codes[t.ID] = t.Code
	}
	return codes, nil
}

// WriteTXT renders the sales report as the pipe-delimited text layout used for
// filing: RNC|NCF|type|date(YYYYMMDD)|subtotal|itbis|total.
func (r *Sales) WriteTXT(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '|'
	for _, l := range r.Lines {
		rec := []string{
			l.CustomerRNC,
			l.NCF,
			l.TypeCode,
			l.Date.Format("20060102"),
			l.Subtotal.StringFixed(2),
			l.ITBIS.StringFixed(2),
			l.Total.StringFixed(2),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTXT renders the annulled report as NCF|date(YYYYMMDD)|type.
func (r *Annulled) WriteTXT(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '|'
	for _, l := range r.Lines {
		if err := cw.Write([]string{l.NCF, l.Date.Format("20060102"), l.TypeCode}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
