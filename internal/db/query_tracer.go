package db

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
)

type querySpanContextKey struct{}

// queryTracer turns every statement into a db.query span when the caller
// already carries a transaction.
type queryTracer struct{}

func newQueryTracer() *queryTracer {
	return &queryTracer{}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if sentry.SpanFromContext(ctx) == nil {
		return ctx
	}

	query := normalizeQuery(data.SQL)
	span := sentry.StartSpan(
		ctx,
		"db.query",
		sentry.WithDescription(query),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	span.SetData("db.system", "postgresql")
	span.SetData("db.statement.args", len(data.Args))

	operation := queryOperation(query)
	if operation != "" {
		span.SetData("db.operation", operation)
	}
	if table := queryTable(query, operation); table != "" {
		span.SetData("db.collection.name", table)
	}

	return context.WithValue(span.Context(), querySpanContextKey{}, span)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, _ := ctx.Value(querySpanContextKey{}).(*sentry.Span)
	if span == nil {
		return
	}

	if data.Err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("db.error", data.Err.Error())
	} else {
		span.Status = sentry.SpanStatusOK
	}

	if rowsAffected := data.CommandTag.RowsAffected(); rowsAffected >= 0 {
		span.SetData("db.rows_affected", rowsAffected)
	}

	span.Finish()
}

func normalizeQuery(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return "sql.query"
	}

	const maxLen = 512
	if len(normalized) > maxLen {
		return normalized[:maxLen]
	}
	return normalized
}

func queryOperation(query string) string {
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return ""
	}
	return strings.ToUpper(parts[0])
}

// queryTable finds the first table a statement touches.
func queryTable(query, operation string) string {
	marker := ""
	switch operation {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		marker = "UPDATE"
	default:
		return ""
	}

	parts := strings.Fields(query)
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], marker) {
			next := strings.Trim(parts[i+1], "(),;")
			if next == "" || strings.HasPrefix(next, "$") {
				continue
			}
			return next
		}
	}
	return ""
}
