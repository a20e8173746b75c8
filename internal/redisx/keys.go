package redisx

import "time"

const (
	// Order number counter: ordernum:{PREFIX-DDMM} -> last issued sequence
	KeyOrderSeq = "ordernum:%s"

	// Checkout idempotency: idem:checkout:{payment_ref} -> order_number
	KeyIdemCheckout = "idem:checkout:%s"

	// Order read cache: order_status:{order_number} -> order JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	// a day key is only written on its own day; 48h covers time zone skew
	TTLOrderSeq    = 48 * time.Hour
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
