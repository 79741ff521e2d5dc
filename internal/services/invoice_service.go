package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"verdeling/internal/amqp"
	"verdeling/internal/core"
	"verdeling/internal/ports"
)

const refAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewInvoiceRef returns "YYYYMM-" followed by six random base-36 characters.
func NewInvoiceRef(ym core.YearMonth, random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	radix := big.NewInt(int64(len(refAlphabet)))
	buf := make([]byte, 6)
	for i := range buf {
		n, err := rand.Int(random, radix)
		if err != nil {
			return "", fmt.Errorf("generate invoice ref: %w", err)
		}
		buf[i] = refAlphabet[n.Int64()]
	}
	return ym.Compact() + "-" + string(buf), nil
}

// InvoiceService manages the monthly supplier invoices.
type InvoiceService struct {
	store    ports.InvoiceStore
	notifier ChangeNotifier
	random   io.Reader
}

func NewInvoiceService(store ports.InvoiceStore, notifier ChangeNotifier) *InvoiceService {
	return &InvoiceService{store: store, notifier: notifierOrNop(notifier), random: rand.Reader}
}

// List returns all invoices, most recent month first.
func (s *InvoiceService) List(ctx context.Context) ([]core.Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

func (s *InvoiceService) Get(ctx context.Context, ym core.YearMonth) (core.Invoice, error) {
	return s.store.GetInvoiceByMonth(ctx, ym)
}

func (s *InvoiceService) find(ctx context.Context, id string) (core.Invoice, error) {
	invoices, err := s.List(ctx)
	if err != nil {
		return core.Invoice{}, err
	}
	for _, inv := range invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return core.Invoice{}, fmt.Errorf("invoice %s: %w", id, ports.ErrNotFound)
}

// Create records the base amount of ym and persists the marked-up amount.
func (s *InvoiceService) Create(ctx context.Context, ym core.YearMonth, base float64, status core.InvoiceStatus) (core.Invoice, error) {
	if base <= 0 {
		return core.Invoice{}, core.ErrInvalidAmount
	}
	if status == "" {
		status = core.InvoiceFinal
	}
	ref, err := NewInvoiceRef(ym, s.random)
	if err != nil {
		return core.Invoice{}, err
	}
	inv := core.Invoice{
		Year:             ym.Year,
		Month:            ym.Month,
		TotalAmount:      base,
		AmountWithMarkup: core.WithMarkup(base),
		Ref:              ref,
		Status:           status,
	}
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, err
	}

	id, err := s.store.InsertInvoice(ctx, inv)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("create invoice %s: %w", ym, err)
	}
	inv.ID = id

	s.notifier.MonthChanged(ctx, ym, amqp.ReasonInvoiceSaved)
	return inv, nil
}

// Update changes the amount, month or status of an invoice. The ref stays.
func (s *InvoiceService) Update(ctx context.Context, id string, ym core.YearMonth, base float64, status core.InvoiceStatus) (core.Invoice, error) {
	if base <= 0 {
		return core.Invoice{}, core.ErrInvalidAmount
	}
	old, err := s.find(ctx, id)
	if err != nil {
		return core.Invoice{}, err
	}
	inv := old
	inv.Year, inv.Month = ym.Year, ym.Month
	inv.TotalAmount = base
	inv.AmountWithMarkup = core.WithMarkup(base)
	if status != "" {
		inv.Status = status
	}
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, err
	}
	if err := s.store.UpdateInvoice(ctx, inv); err != nil {
		return core.Invoice{}, fmt.Errorf("update invoice %s: %w", id, err)
	}

	s.notifier.MonthChanged(ctx, inv.Period(), amqp.ReasonInvoiceSaved)
	if old.Period() != inv.Period() {
		s.notifier.MonthChanged(ctx, old.Period(), amqp.ReasonInvoiceDeleted)
	}
	return inv, nil
}

func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	inv, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInvoice(ctx, id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete invoice %s: %w", id, err)
	}
	slog.InfoContext(ctx, "Invoice deleted", "id", id, "ref", inv.Ref, "period", inv.Period().String())
	s.notifier.MonthChanged(ctx, inv.Period(), amqp.ReasonInvoiceDeleted)
	return nil
}
