package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	RequestIDKey   = "request_id"
	EventKeyKey    = "event_key"
	ServiceNameKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey(TraceIDKey), traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey(RequestIDKey), requestID)
}

// WithEventKey tags the context with the dedup key of the event being handled.
func WithEventKey(ctx context.Context, topic, eventID string) context.Context {
	return context.WithValue(ctx, contextKey(EventKeyKey), topic+"/"+eventID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, contextKey(ServiceNameKey), serviceName)
}

func stringValue(ctx context.Context, key string) string {
	if v, ok := ctx.Value(contextKey(key)).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetEventKey(ctx context.Context) string {
	return stringValue(ctx, EventKeyKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	for _, key := range []string{TraceIDKey, RequestIDKey, EventKeyKey, ServiceNameKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
