package publisher

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/kros/pkg/event"
	"gopkg.in/yaml.v3"
)

// Step is one scripted event
type Step struct {
	Event   string `yaml:"event"`
	Value   any    `yaml:"value,omitempty"`
	DelayMS int    `yaml:"delay_ms,omitempty"`
	Repeat  int    `yaml:"repeat,omitempty"`

	parsed event.Event
}

// Script is a sequence of events fed to a QueuePublisher
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// LoadScript parses and validates a YAML script
func LoadScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("script %q has no steps", s.Name)
	}
	for i := range s.Steps {
		e, err := event.Parse(s.Steps[i].Event)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if s.Steps[i].DelayMS < 0 {
			return nil, fmt.Errorf("step %d: negative delay", i+1)
		}
		s.Steps[i].parsed = e
	}
	return &s, nil
}

// Putter accepts payloads, usually a QueuePublisher
type Putter interface {
	Put(e event.Event, value any) error
}

// Run feeds each step to p, waiting delay_ms before each. It returns
// early when ctx ends.
func (s *Script) Run(ctx context.Context, p Putter) error {
	for i, step := range s.Steps {
		times := step.Repeat
		if times < 1 {
			times = 1
		}
		for n := 0; n < times; n++ {
			if step.DelayMS > 0 {
				timer := time.NewTimer(time.Duration(step.DelayMS) * time.Millisecond)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
			if err := p.Put(step.parsed, step.Value); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, step.Event, err)
			}
		}
	}
	return nil
}
