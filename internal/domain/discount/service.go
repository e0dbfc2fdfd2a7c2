package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrOrderIDRequired is returned by Redeem when the request has no order id.
var ErrOrderIDRequired = errors.New("order id required")

// QuoteRequest is a set of presented codes for one order.
type QuoteRequest struct {
	Order Order
	Codes []string
}

// RedeemRequest commits the discounts of a completed order.
type RedeemRequest struct {
	OrderID string
	Order   Order
	Codes   []string
}

// RedeemResult reports what was consumed for an order.
type RedeemResult struct {
	Decision Decision
	// Redeemed lists the codes consumed (or already consumed by this order).
	Redeemed []string
	// Unavailable lists codes that lost a cap race after the quote.
	Unavailable []Dropped
}

// ServiceConfig holds the optional dependencies of a Service.
type ServiceConfig struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Now            func() time.Time
}

// Service orchestrates quoting and redemption across every code producer.
// All reads happen before evaluation; evaluation itself is pure.
type Service struct {
	providers []Provider
	lg        *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	quotes      metric.Int64Counter
	redemptions metric.Int64Counter
	discounted  metric.Int64Counter
}

// NewService creates a Service. Providers are consulted in order and the
// first whose Owns accepts a code resolves it, so a catch-all provider such as
// the Registry goes last.
func NewService(providers []Provider, cfg ServiceConfig) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	const name = "github.com/xenking/tortilla-discounts/internal/domain/discount"
	meter := cfg.MeterProvider.Meter(name)

	s := &Service{
		providers: providers,
		lg:        cfg.Logger,
		tracer:    cfg.TracerProvider.Tracer(name),
		now:       cfg.Now,
	}

	var err error
	if s.quotes, err = meter.Int64Counter("discount.quotes",
		metric.WithDescription("Discount quotes evaluated"),
	); err != nil {
		return nil, errors.Wrap(err, "quotes counter")
	}
	if s.redemptions, err = meter.Int64Counter("discount.redemptions",
		metric.WithDescription("Code redemption attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	if s.discounted, err = meter.Int64Counter("discount.amount",
		metric.WithDescription("Discount granted at redemption, minor units"),
	); err != nil {
		return nil, errors.Wrap(err, "amount counter")
	}
	return s, nil
}

// Quote evaluates the presented codes against the order without side effects.
// Per-code failures land in Decision.Dropped; only infrastructure failures
// return an error.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Decision, error) {
	ctx, span := s.tracer.Start(ctx, "discount.Quote",
		trace.WithAttributes(attribute.Int("discount.codes", len(req.Codes))),
	)
	defer span.End()

	order := req.Order.Normalize()
	entries, err := s.gather(ctx, dedupeCodes(req.Codes), order.Email, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d := Resolve(entries, order, s.now())
	s.quotes.Add(ctx, 1)
	span.SetAttributes(
		attribute.Int("discount.applied", len(d.Applied)),
		attribute.Int64("discount.total", d.Total()),
	)
	return &d, nil
}

// Redeem re-quotes the order and consumes one use of every applied code.
// Codes that lost a cap race since the quote are reported in Unavailable and
// the order proceeds without them. Re-redeeming the same order id is a no-op.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	if req.OrderID == "" {
		return nil, ErrOrderIDRequired
	}
	ctx, span := s.tracer.Start(ctx, "discount.Redeem",
		trace.WithAttributes(attribute.String("order.id", req.OrderID)),
	)
	defer span.End()

	order := req.Order.Normalize()
	entries, err := s.gather(ctx, dedupeCodes(req.Codes), order.Email, req.OrderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	res := &RedeemResult{Decision: Resolve(entries, order, now)}
	for _, a := range res.Decision.Applied {
		p := s.providerFor(a.Code)
		err := p.Redeem(ctx, Redemption{
			ID:         uuid.New().String(),
			Code:       a.Code,
			Source:     a.Source,
			OrderID:    req.OrderID,
			Email:      order.Email,
			Amount:     a.Merchandise + a.Shipping,
			RedeemedAt: now,
		})
		switch {
		case err == nil:
			res.Redeemed = append(res.Redeemed, a.Code)
			s.redemptions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("source", string(a.Source)),
				attribute.String("outcome", "redeemed"),
			))
			s.discounted.Add(ctx, a.Merchandise+a.Shipping, metric.WithAttributes(
				attribute.String("source", string(a.Source)),
			))
		case errors.Is(err, ErrNoLongerAvailable):
			s.lg.Info("Code no longer available at redemption",
				zap.String("code", a.Code),
				zap.String("order_id", req.OrderID),
			)
			res.Unavailable = append(res.Unavailable, Dropped{
				Code:    a.Code,
				Err:     ErrNoLongerAvailable,
				Message: ShopperMessage(ErrNoLongerAvailable),
			})
			s.redemptions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("source", string(a.Source)),
				attribute.String("outcome", "unavailable"),
			))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, errors.Wrapf(err, "redeem %s", a.Code)
		}
	}
	return res, nil
}

// gather resolves every code through its provider concurrently and reads the
// customer's redemption count for it. A non-empty orderID also marks codes
// that order already consumed, so retried redemptions evaluate as before.
func (s *Service) gather(ctx context.Context, names []string, email, orderID string) ([]Entry, error) {
	entries := make([]Entry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, code := range names {
		entries[i].Code = code
		g.Go(func() error {
			p := s.providerFor(code)
			if p == nil {
				entries[i].Err = ErrUnknownCode
				return nil
			}
			def, err := p.Lookup(gctx, code)
			if err != nil {
				if errors.Is(err, ErrUnknownCode) {
					entries[i].Err = ErrUnknownCode
					return nil
				}
				return errors.Wrapf(err, "lookup %s", code)
			}
			entries[i].Def = def
			if orderID != "" {
				done, err := p.RedeemedBy(gctx, def.Code, orderID)
				if err != nil {
					return errors.Wrapf(err, "order redemption of %s", code)
				}
				entries[i].Usage.OrderRedeemed = done
			}
			if email == "" {
				return nil
			}
			n, err := p.Redemptions(gctx, def.Code, email)
			if err != nil {
				return errors.Wrapf(err, "redemptions of %s", code)
			}
			entries[i].Usage.EmailRedemptions = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) providerFor(code string) Provider {
	for _, p := range s.providers {
		if p.Owns(code) {
			return p
		}
	}
	return nil
}

// dedupeCodes normalizes codes, dropping blanks and repeats while keeping
// first-seen order.
func dedupeCodes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = NormalizeCode(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
