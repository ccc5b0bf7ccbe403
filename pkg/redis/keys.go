package redis

import "strings"

// Every storefront key lives under sf:<family>:...
const keyNamespace = "sf"

// IdempotencyKey namespaces request and event idempotency records.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey("idempotency", scope, id)
}

// AnonymousCartKey holds an anonymous shopper's cart.
func (c *Client) AnonymousCartKey(ownerKey string) string {
	return joinKey("cart", "anon", ownerKey)
}

// CheckoutSessionKey holds an owner's in-progress checkout session.
func (c *Client) CheckoutSessionKey(ownerKey string) string {
	return joinKey("checkout", "session", ownerKey)
}

// LockKey names a distributed job lease.
func (c *Client) LockKey(scope, name string) string {
	return joinKey("lock", scope, name)
}

// joinKey drops blank parts.
func joinKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
