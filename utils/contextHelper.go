package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/appctx"
)

var (
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySource        = appctx.ContextKeySource
)

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// EnsureCorrelationId returns ctx carrying a correlation id, generating one if absent.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if cid, ok := GetCorrelationIdFromContext(ctx); ok && cid != "" {
		return ctx, cid
	}
	cid := uuid.NewString()
	return SetCorrelationIdInContext(ctx, cid), cid
}

func SetSourceInContext(ctx context.Context, source string) context.Context {
	return appctx.Set(ctx, ContextKeySource, source)
}

func GetSourceFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySource)
}
