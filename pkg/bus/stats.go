package bus

import "sync/atomic"

type counters struct {
	published          atomic.Int64
	republished        atomic.Int64
	consumed           atomic.Int64
	arbitrated         atomic.Int64
	doubleArbitrations atomic.Int64
	collected          atomic.Int64
	expired            atomic.Int64
	deliveryFailures   atomic.Int64
}

// Stats is a snapshot of bus counters
type Stats struct {
	State              string `json:"state"`
	QueueSize          int    `json:"queue_size"`
	Subscribers        int    `json:"subscribers"`
	Publishers         int    `json:"publishers"`
	Published          int64  `json:"published"`
	Republished        int64  `json:"republished"`
	Consumed           int64  `json:"consumed"`
	Arbitrated         int64  `json:"arbitrated"`
	DoubleArbitrations int64  `json:"double_arbitrations"`
	Collected          int64  `json:"collected"`
	Expired            int64  `json:"expired"`
	DeliveryFailures   int64  `json:"delivery_failures"`
}

// Stats returns a snapshot of the bus counters
func (b *MessageBus) Stats() Stats {
	return Stats{
		State:              b.State().String(),
		QueueSize:          b.QueueSize(),
		Subscribers:        b.SubscriberCount(),
		Publishers:         len(b.Publishers()),
		Published:          b.stats.published.Load(),
		Republished:        b.stats.republished.Load(),
		Consumed:           b.stats.consumed.Load(),
		Arbitrated:         b.stats.arbitrated.Load(),
		DoubleArbitrations: b.stats.doubleArbitrations.Load(),
		Collected:          b.stats.collected.Load(),
		Expired:            b.stats.expired.Load(),
		DeliveryFailures:   b.stats.deliveryFailures.Load(),
	}
}
