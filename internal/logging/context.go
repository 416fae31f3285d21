package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a fresh trace ID to the context and returns a logger
// carrying it. Used at the start of each bot evaluation.
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TraceIDFromContext returns the trace ID stored in the context, if any
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// BotContext creates a logger context for bot operations
func BotContext(botID, symbol, timeframe string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"bot_id":    botID,
		"symbol":    symbol,
		"timeframe": timeframe,
	}).WithComponent("bot")
}

// EvaluationContext creates a logger context for an evaluation run
func EvaluationContext(evaluationID, botID string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"evaluation_id": evaluationID,
		"bot_id":        botID,
	}).WithComponent("evaluator").WithTraceID(evaluationID)
}

// PositionContext creates a logger context for position operations
func PositionContext(dealID, symbol, direction string, size float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"deal_id":   dealID,
		"symbol":    symbol,
		"direction": direction,
		"size":      size,
	}).WithComponent("position")
}

// BrokerContext creates a logger context for broker API calls.
// Sensitive params (keys, passwords, tokens) must never be passed here.
func BrokerContext(credentialID, endpoint string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"credential_id": credentialID,
		"endpoint":      endpoint,
	}).WithComponent("broker")
}

// RiskContext creates a logger context for risk gate checks
func RiskContext(botID, symbol string, quantity float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"bot_id":   botID,
		"symbol":   symbol,
		"quantity": quantity,
	}).WithComponent("risk")
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}
