package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailedEvent is the span event added when an automation run fails.
const FailedEvent = "automation.failed"

// SetError marks span as failed with err. A nil err leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent(FailedEvent, trace.WithAttributes(
		append(attrs, attribute.String("error.message", err.Error()))...,
	))
}
