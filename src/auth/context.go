package auth

import (
	"context"
)

type contextKey string

const OperatorKey contextKey = "operator"

// GetOperatorFromContext returns the operator label set by RequireOperator.
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(OperatorKey).(string)
	return op, ok
}
