package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
)

type meterKey struct{}

// WithMeter stores meter in ctx so later middleware and services add their
// counters to the same pre-attributed meter. A nil meter stores a fresh one.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	ctx = orBackground(ctx)
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterKey{}, meter.WithCtx(ctx))
}

// MeterFromContext never returns nil; outside a request it hands back an
// unattributed meter bound to ctx.
func MeterFromContext(ctx context.Context) sentry.Meter {
	ctx = orBackground(ctx)
	meter, _ := ctx.Value(meterKey{}).(sentry.Meter)
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return meter.WithCtx(ctx)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
