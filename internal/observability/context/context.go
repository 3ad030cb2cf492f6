// Package obscontext carries request-scoped identifiers used by logs, traces
// and audit entries.
package obscontext

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type clientKey struct{}
type channelKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithActor records the user acting on behalf of the request.
func WithActor(ctx context.Context, actorID string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorKey{}).(string)
	return value
}

func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientInfo{
		ip:        strings.TrimSpace(ip),
		userAgent: strings.TrimSpace(userAgent),
	})
}

func ClientInfoFromContext(ctx context.Context) (ip string, userAgent string) {
	if ctx == nil {
		return "", ""
	}
	info, _ := ctx.Value(clientKey{}).(clientInfo)
	return info.ip, info.userAgent
}

// WithChannel tags the context with the ledger channel the request targets.
func WithChannel(ctx context.Context, ch string) context.Context {
	if ch == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey{}, ch)
}

func ChannelFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(channelKey{}).(string)
	return value
}
