package apiclient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries a per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// RequestID sets X-Request-ID when the caller did not supply one. The ID is
// stable across retries of the same request.
func RequestID() Interceptor {
	return InterceptorFunc(func(next SendFunc) SendFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if req.Header.Get(RequestIDHeader) == "" {
				id, err := uuid.NewV7()
				if err != nil {
					id = uuid.New()
				}
				req.Header.Set(RequestIDHeader, id.String())
			}
			return next(ctx, req)
		}
	})
}

// Tracing starts a client span per request and injects trace context headers.
func Tracing() Interceptor {
	return InterceptorFunc(func(next SendFunc) SendFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			ctx, span := telemetry.Tracer().Start(ctx, req.Method+" "+req.Path,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.Path),
					attribute.String("request.id", req.Header.Get(RequestIDHeader)),
				),
			)
			defer span.End()

			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

			resp, err := next(ctx, req)

			span.SetAttributes(attribute.Int("http.request.attempts", req.attempts))
			if err != nil {
				apiErr := normalize(err)
				span.SetAttributes(
					attribute.Int("http.response.status_code", apiErr.StatusCode),
					attribute.String("error.code", apiErr.ErrorCode),
				)
				span.RecordError(err)
				span.SetStatus(codes.Error, apiErr.Message)
				return nil, err
			}

			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			return resp, nil
		}
	})
}

// Logging logs one line per request with the outcome and records request
// level metrics.
func Logging() Interceptor {
	return InterceptorFunc(func(next SendFunc) SendFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			started := time.Now()
			metrics := telemetry.GetMetrics()

			resp, err := next(ctx, req)

			elapsed := time.Since(started)
			attrs := metric.WithAttributes(attribute.String("method", req.Method))
			metrics.RequestsTotal.Add(ctx, 1, attrs)
			metrics.RequestDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)

			if err != nil {
				apiErr := normalize(err)
				metrics.RequestErrorsTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("method", req.Method),
					attribute.String("kind", apiErr.Kind.String()),
				))

				log.Warn().
					Str("method", req.Method).
					Str("path", req.Path).
					Str("request_id", req.Header.Get(RequestIDHeader)).
					Int("status", apiErr.StatusCode).
					Str("errorCode", apiErr.ErrorCode).
					Int("attempts", req.attempts).
					Dur("duration", elapsed).
					Msg("api request failed")

				return nil, err
			}

			log.Debug().
				Str("method", req.Method).
				Str("path", req.Path).
				Str("request_id", req.Header.Get(RequestIDHeader)).
				Int("status", resp.StatusCode).
				Bool("cached", resp.Cached).
				Int("attempts", req.attempts).
				Dur("duration", elapsed).
				Msg("api request")

			return resp, nil
		}
	})
}

// AttemptMetrics counts every attempt that reaches the wire.
func AttemptMetrics() Interceptor {
	return InterceptorFunc(func(next SendFunc) SendFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			resp, err := next(ctx, req)

			var status int
			if err != nil {
				status = normalize(err).StatusCode
			} else {
				status = resp.StatusCode
			}

			telemetry.GetMetrics().RequestAttemptTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.Int("status", status),
			))

			return resp, err
		}
	})
}
