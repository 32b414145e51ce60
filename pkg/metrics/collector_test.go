package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeBus struct{ depth, subs int }

func (f fakeBus) QueueSize() int       { return f.depth }
func (f fakeBus) SubscriberCount() int { return f.subs }

type fakeBehaviours struct{ active string }

func (f fakeBehaviours) BehaviourNames() []string    { return []string{"roam", "avoid"} }
func (f fakeBehaviours) ActiveBehaviourName() string { return f.active }

type fakeHealth struct{ ok bool }

func (f fakeHealth) HealthName() string     { return "bus" }
func (f fakeHealth) Health() (bool, string) { return f.ok, "state" }

func TestCollectorCollect(t *testing.T) {
	ResetHealth()
	c := NewCollector(time.Hour, fakeBus{depth: 3, subs: 2}, fakeBehaviours{active: "avoid"}, fakeHealth{ok: true})

	c.Collect()

	assert.Equal(t, 3.0, testutil.ToFloat64(QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(SubscribersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(ActiveBehaviour.WithLabelValues("avoid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ActiveBehaviour.WithLabelValues("roam")))
	assert.Equal(t, "healthy", GetHealth().Components["bus"])
}

func TestCollectorStartStop(t *testing.T) {
	ResetHealth()
	c := NewCollector(10*time.Millisecond, fakeBus{depth: 1}, nil, fakeHealth{ok: false})
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	assert.Equal(t, "unhealthy", GetHealth().Status)
}
