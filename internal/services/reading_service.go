package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"verdeling/internal/amqp"
	"verdeling/internal/billing"
	"verdeling/internal/core"
	"verdeling/internal/ports"
)

var (
	ErrBeforeInitial  = errors.New("month precedes the initial readings")
	ErrPartialFailure = errors.New("some readings could not be written")
)

// ReadingStore is what the reading service needs from persistence.
type ReadingStore interface {
	ports.TenantStore
	ports.ReadingStore
}

// ReadingService runs the monthly reading entry workflow.
type ReadingService struct {
	store    ReadingStore
	initial  core.YearMonth
	notifier ChangeNotifier
	now      func() time.Time
}

func NewReadingService(store ReadingStore, initial core.YearMonth, notifier ChangeNotifier) *ReadingService {
	return &ReadingService{
		store:    store,
		initial:  initial,
		notifier: notifierOrNop(notifier),
		now:      time.Now,
	}
}

// Initial is the month holding the opening meter values.
func (s *ReadingService) Initial() core.YearMonth {
	return s.initial
}

func (s *ReadingService) ListReadings(ctx context.Context, f ports.ReadingFilter) ([]core.MeterReading, error) {
	readings, err := s.store.ListReadings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return readings, nil
}

func (s *ReadingService) load(ctx context.Context) ([]core.Tenant, []core.MeterReading, error) {
	var (
		tenants  []core.Tenant
		readings []core.MeterReading
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tenants, err = s.store.ListTenants(gctx)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		readings, err = s.store.ListReadings(gctx, ports.ReadingFilter{})
		if err != nil {
			return fmt.Errorf("list readings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return tenants, readings, nil
}

// Overview is everything the readings page shows.
type Overview struct {
	Initial     core.YearMonth
	NextMonth   core.YearMonth
	HasInitial  bool
	Months      []billing.MonthReadings
	ChainBreaks []billing.ChainBreak
	Tenants     []core.Tenant
}

func (s *ReadingService) Overview(ctx context.Context) (Overview, error) {
	tenants, readings, err := s.load(ctx)
	if err != nil {
		return Overview{}, err
	}
	months := billing.GroupByMonth(s.initial, readings)
	for i := range months {
		months[i].Readings = billing.SortReadings(months[i].Readings, tenants)
	}
	return Overview{
		Initial:     s.initial,
		NextMonth:   billing.NextEntryMonth(s.initial, readings),
		HasInitial:  billing.StateFor(s.initial, readings, s.initial) != billing.NoInitialReadings,
		Months:      months,
		ChainBreaks: billing.FindChainBreaks(readings),
		Tenants:     billing.SortTenants(tenants),
	}, nil
}

// State reports where ym stands in the entry workflow.
func (s *ReadingService) State(ctx context.Context, ym core.YearMonth) (billing.EntryState, error) {
	readings, err := s.ListReadings(ctx, ports.ReadingFilter{})
	if err != nil {
		return billing.NoInitialReadings, err
	}
	return billing.StateFor(s.initial, readings, ym), nil
}

// ChainBreaks lists readings whose previous value no longer matches the
// meter's preceding month.
func (s *ReadingService) ChainBreaks(ctx context.Context) ([]billing.ChainBreak, error) {
	readings, err := s.ListReadings(ctx, ports.ReadingFilter{})
	if err != nil {
		return nil, err
	}
	return billing.FindChainBreaks(readings), nil
}

// EntryForm builds the prefilled form for ym. The initial month yields the
// opening-readings form.
func (s *ReadingService) EntryForm(ctx context.Context, ym core.YearMonth) (billing.EntryForm, error) {
	if err := ym.Validate(); err != nil {
		return billing.EntryForm{}, err
	}
	if ym.Before(s.initial) {
		return billing.EntryForm{}, ErrBeforeInitial
	}
	tenants, readings, err := s.load(ctx)
	if err != nil {
		return billing.EntryForm{}, err
	}
	if ym == s.initial {
		return billing.BuildInitialForm(s.initial, tenants, readings), nil
	}
	if billing.StateFor(s.initial, readings, ym) == billing.NoInitialReadings {
		_, err := billing.Transition(billing.NoInitialReadings, billing.EventOpenMonth)
		return billing.EntryForm{}, err
	}
	return billing.BuildEntryForm(ym, tenants, readings), nil
}

// SaveMonth stores the submitted meter values for ym. values maps form
// field names (see MeterEntry.Field) to current readings; meters missing
// from values keep their prefilled value.
func (s *ReadingService) SaveMonth(ctx context.Context, ym core.YearMonth, values map[string]float64) (billing.EntryForm, error) {
	form, err := s.EntryForm(ctx, ym)
	if err != nil {
		return billing.EntryForm{}, err
	}
	for field, v := range values {
		if !form.SetCurrent(field, v) {
			slog.WarnContext(ctx, "Ignoring unknown meter field", "field", field, "period", ym.String())
		}
	}

	if err := s.write(ctx, form.Readings(s.now())); err != nil {
		s.notifier.MonthChanged(ctx, ym, amqp.ReasonReadingsSaved)
		return form, fmt.Errorf("save readings %s: %w", ym, err)
	}

	slog.InfoContext(ctx, "Readings saved",
		"period", ym.String(),
		"initial", form.Initial,
		"meters", len(form.Entries),
		"consumption", form.TotalConsumption())
	s.notifier.MonthChanged(ctx, ym, amqp.ReasonReadingsSaved)
	return form, nil
}

// SaveInitial stores the opening meter values.
func (s *ReadingService) SaveInitial(ctx context.Context, values map[string]float64) (billing.EntryForm, error) {
	return s.SaveMonth(ctx, s.initial, values)
}

func (s *ReadingService) write(ctx context.Context, readings []core.MeterReading) error {
	var errs []error
	for _, r := range readings {
		var err error
		if r.ID != "" {
			err = s.store.UpdateReading(ctx, r)
		} else {
			_, err = s.store.InsertReading(ctx, r)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d: %w", ErrPartialFailure, len(errs), len(readings), errors.Join(errs...))
}

// DeleteMonth removes every reading of ym. The initial month can only be
// removed when no later month is recorded. Deletion continues past
// individual failures and reports them together.
func (s *ReadingService) DeleteMonth(ctx context.Context, ym core.YearMonth) (int, error) {
	all, err := s.ListReadings(ctx, ports.ReadingFilter{})
	if err != nil {
		return 0, err
	}

	state := billing.StateFor(s.initial, all, ym)
	event := billing.EventDeleteMonth
	if ym == s.initial {
		event = billing.EventDeleteInitial
		if billing.NextEntryMonth(s.initial, all) != s.initial.Next() {
			return 0, fmt.Errorf("%w: later months still recorded", billing.ErrInvalidTransition)
		}
	}
	if _, err := billing.Transition(state, event); err != nil {
		return 0, err
	}

	var (
		errs    []error
		deleted int
		total   int
	)
	for _, r := range all {
		if r.Period() != ym {
			continue
		}
		total++
		if err := s.store.DeleteReading(ctx, r.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.notifier.MonthChanged(ctx, ym, amqp.ReasonReadingsDeleted)
	}
	if len(errs) > 0 {
		return deleted, fmt.Errorf("delete readings %s: %w: %d of %d: %w",
			ym, ErrPartialFailure, len(errs), total, errors.Join(errs...))
	}

	slog.InfoContext(ctx, "Readings deleted", "period", ym.String(), "count", deleted)
	return deleted, nil
}
