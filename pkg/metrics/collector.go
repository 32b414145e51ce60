package metrics

import (
	"time"
)

// BusSource is the read-only view of the bus the collector samples
type BusSource interface {
	QueueSize() int
	SubscriberCount() int
}

// BehaviourSource is the read-only view of the behaviour arbitrator
type BehaviourSource interface {
	BehaviourNames() []string
	ActiveBehaviourName() string
}

// HealthSource reports the health of one component
type HealthSource interface {
	HealthName() string
	Health() (bool, string)
}

// Collector periodically samples gauges and component health
type Collector struct {
	interval   time.Duration
	bus        BusSource
	behaviours BehaviourSource
	health     []HealthSource
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewCollector creates a collector sampling every interval; behaviours may be nil
func NewCollector(interval time.Duration, bus BusSource, behaviours BehaviourSource, health ...HealthSource) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		interval:   interval,
		bus:        bus,
		behaviours: behaviours,
		health:     health,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Collect samples every source once
func (c *Collector) Collect() {
	if c.bus != nil {
		QueueDepth.Set(float64(c.bus.QueueSize()))
		SubscribersTotal.Set(float64(c.bus.SubscriberCount()))
	}

	if c.behaviours != nil {
		active := c.behaviours.ActiveBehaviourName()
		for _, name := range c.behaviours.BehaviourNames() {
			if name == active {
				ActiveBehaviour.WithLabelValues(name).Set(1)
			} else {
				ActiveBehaviour.WithLabelValues(name).Set(0)
			}
		}
	}

	for _, h := range c.health {
		healthy, message := h.Health()
		UpdateComponent(h.HealthName(), healthy, message)
	}
}
