package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ncfpos/internal/core/id"
	"ncfpos/internal/domain/numbering"
	"ncfpos/pkg/logger"
)

// FiscalEngine is the part of numbering.Service that mutates an order's fiscal state.
type FiscalEngine interface {
	SelectType(ctx context.Context, o numbering.FiscalOrder, typeID int64) error
	OverrideNumber(ctx context.Context, o numbering.FiscalOrder, ncf string) error
	CanFinalize(ctx context.Context, o numbering.FiscalOrder) error
	Finalize(ctx context.Context, o numbering.FiscalOrder) error
	Void(ctx context.Context, o numbering.FiscalOrder, reason string) error
	Commit(ctx context.Context, p *numbering.Pending)
}

var _ FiscalEngine = (*numbering.Service)(nil)

// Service provides order operations for terminals.
type Service struct {
	repo   Repository
	engine FiscalEngine
}

// NewService creates a new order service.
func NewService(repo Repository, engine FiscalEngine) *Service {
	return &Service{repo: repo, engine: engine}
}

// CreateInput is what a terminal submits when it opens an order.
type CreateInput struct {
	TerminalID   string
	Reference    string
	CustomerName string
	CustomerRNC  string
	IsTaxpayer   bool
	IsRefund     bool
	Total        decimal.Decimal
	ITBIS        decimal.Decimal
}

// Create opens an unclassified order.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	o := New(in.TerminalID, in.Reference, in.Total, in.ITBIS)
	o.CustomerName = in.CustomerName
	o.CustomerRNC = in.CustomerRNC
	o.IsTaxpayer = in.IsTaxpayer
	o.IsRefund = in.IsRefund
	if o.Reference == "" {
		o.Reference = fmt.Sprintf("%s-%s", in.TerminalID, o.ID.String()[:8])
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	logger.Info(ctx, "order created", "order_id", o.ID, "reference", o.Reference)
	return o, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, orderID id.ID) (*Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

// SelectComprobante classifies the order. When the type is recorded but the number
// could not be allocated, the order is saved in that state and the allocation error
// is returned alongside it.
func (s *Service) SelectComprobante(ctx context.Context, orderID id.ID, typeID int64) (*Order, error) {
	var selectErr error
	o, err := s.update(ctx, orderID, func(ctx context.Context, o *Order) error {
		before := o.Fiscal
		selectErr = s.engine.SelectType(ctx, o, typeID)
		if selectErr != nil && o.Fiscal == before {
			return selectErr
		}
		o.touch()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, selectErr
}

// OverrideNCF stores a manually entered NCF on the order.
func (s *Service) OverrideNCF(ctx context.Context, orderID id.ID, ncf string) (*Order, error) {
	return s.update(ctx, orderID, func(ctx context.Context, o *Order) error {
		if err := s.engine.OverrideNumber(ctx, o, ncf); err != nil {
			return err
		}
		o.touch()
		return nil
	})
}

// FinalizeCheck reports whether the order could be finalized now.
func (s *Service) FinalizeCheck(ctx context.Context, orderID id.ID) error {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := o.CanModify(); err != nil {
		return err
	}
	return s.engine.CanFinalize(ctx, o)
}

// Finalize closes the sale. Fiscal orders need an NCF.
func (s *Service) Finalize(ctx context.Context, orderID id.ID) (*Order, error) {
	o, err := s.update(ctx, orderID, func(ctx context.Context, o *Order) error {
		if err := s.engine.Finalize(ctx, o); err != nil {
			return err
		}
		o.MarkFinalized()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "order finalized", "order_id", o.ID, "ncf", o.Fiscal.NCF, "es_fiscal", o.Fiscal.EsFiscal)
	return o, nil
}

// Void cancels an open order. Its NCF, if any, is annulled; the sequence is untouched.
func (s *Service) Void(ctx context.Context, orderID id.ID, reason string) (*Order, error) {
	return s.update(ctx, orderID, func(ctx context.Context, o *Order) error {
		if err := s.engine.Void(ctx, o, reason); err != nil {
			return err
		}
		o.MarkVoided(time.Now())
		return nil
	})
}

// update applies fn to an open order. Journal events other than allocations
// are recorded only after the order is saved.
func (s *Service) update(ctx context.Context, orderID id.ID, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	pctx, pending := numbering.WithPending(ctx)
	o, err := s.repo.Update(ctx, orderID, func(o *Order) error {
		if err := o.CanModify(); err != nil {
			return err
		}
		return fn(pctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.engine.Commit(ctx, pending)
	return o, nil
}

// List returns orders matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	return s.repo.List(ctx, filter)
}
