package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> StatusEntry JSON
	KeyOrderStatus = "order_status:%s"

	// Cache status payment: payment_status:{payment_id} -> StatusEntry JSON
	KeyPaymentStatus = "payment_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
