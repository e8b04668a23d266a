package presence

// Metrics receives engine counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SetOnline(n int)
	MessageSent()
	MessageDelivered()
	SendFailed()
	PushDropped()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SetOnline(int)     {}
func (NopMetrics) MessageSent()      {}
func (NopMetrics) MessageDelivered() {}
func (NopMetrics) SendFailed()       {}
func (NopMetrics) PushDropped()      {}
