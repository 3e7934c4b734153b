package types

// Event is the flattened form of a payment lifecycle notification. The
// engine attaches string attributes such as the payment id, the resulting
// status and the payer balance, and emitters fan the event out to
// subscribed observers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
