package auth

import "context"

type contextKey string

// ClientIPKey holds the address of the authenticated caller.
const ClientIPKey contextKey = "client_ip"

// GetClientIPFromContext returns the caller address, or "" outside a request.
func GetClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}
