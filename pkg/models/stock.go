// Package models holds the wire records this service writes to its optional
// Kafka audit sink (internal/eventlog) — kept at pkg/ rather than internal/
// because, like the teacher's own pkg/models, it is a plain data contract
// with no behavior, shared by the producing and consuming side of that
// stream.
package models

// TickEvent is one symbol's contribution to a broadcast tick, as audited to
// Kafka. SeqID is a per-symbol monotonic counter the sink assigns, mirroring
// the teacher's generator/processor duplicate-detection scheme.
type TickEvent struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic counter per symbol
}

// LifecycleEvent is one subscription-lifecycle transition, as audited to
// Kafka: subscribe, add, remove, unsubscribe, or disconnect.
type LifecycleEvent struct {
	Kind      string   `json:"kind"`
	SessionID string   `json:"sessionId"`
	UserID    string   `json:"userId,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Timestamp int64    `json:"timestamp"` // unix micro
}
