package tracing

import (
	"context"
	"encoding/json"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

const (
	SpanTagJobId     = "job-id"
	SpanTagRunId     = "run-id"
	SpanTagSessionId = "session-id"
	SpanTagComponent = "component"
)

const (
	SpanTagComponentSqliteRepository = "sqliteRepository"
	SpanTagComponentRest             = "rest"
	SpanTagComponentCronJob          = "cronJob"
	SpanTagComponentService          = "service"
	SpanTagComponentWorker           = "worker"
)

func StartTracerSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
	return serverSpan, opentracing.ContextWithSpan(ctx, serverSpan)
}

func StartSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	return span, ctx
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	ext.LogError(span, err, fields...)
}

func LogObjectAsJson(span opentracing.Span, name string, object any) {
	if object == nil {
		span.LogFields(log.String(name, "nil"))
	}
	jsonObject, err := json.Marshal(object)
	if err == nil {
		span.LogFields(log.String(name, string(jsonObject)))
	} else {
		span.LogFields(log.Object(name, object))
	}
}

func SetDefaultServiceSpanTags(ctx context.Context, span opentracing.Span) {
	TagComponentService(span)
}

func SetDefaultRestSpanTags(ctx context.Context, span opentracing.Span) {
	TagComponentRest(span)
}

func TagComponentSqliteRepository(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentSqliteRepository)
}

func TagComponentRest(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentRest)
}

func TagComponentCronJob(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCronJob)
}

func TagComponentService(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentService)
}

func TagComponentWorker(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentWorker)
}

func TagJob(span opentracing.Span, jobID uint64) {
	if jobID != 0 {
		span.SetTag(SpanTagJobId, jobID)
	}
}

func TagRun(span opentracing.Span, runID uint64) {
	if runID != 0 {
		span.SetTag(SpanTagRunId, runID)
	}
}

func TagSession(span opentracing.Span, sessionID string) {
	if sessionID != "" {
		span.SetTag(SpanTagSessionId, sessionID)
	}
}
