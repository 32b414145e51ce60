package storage

import (
	"errors"
	"time"

	"github.com/cuemby/kros/pkg/message"
)

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("record not found")

// Record describes one retired envelope
type Record struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Event          string          `json:"event"`
	Value          string          `json:"value,omitempty"`
	Sent           int             `json:"sent"`
	Laps           int             `json:"laps"`
	Expired        bool            `json:"expired"`
	Reason         string          `json:"reason"`
	DeliveryFailed bool            `json:"delivery_failed"`
	Acks           map[string]bool `json:"acks,omitempty"`
	ProcessedBy    []string        `json:"processed_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CollectedAt    time.Time       `json:"collected_at"`
}

// NewRecord snapshots a retired envelope
func NewRecord(msg *message.Message, reason string) *Record {
	r := &Record{
		ID:          msg.ID(),
		Name:        msg.Name(),
		Event:       msg.Event().String(),
		Sent:        msg.Sent(),
		Laps:        msg.Laps(),
		Expired:     msg.Expired(),
		Reason:      reason,
		Acks:        msg.Acknowledgements(),
		ProcessedBy: msg.ProcessedBy(),
		CreatedAt:   msg.Timestamp(),
		CollectedAt: time.Now(),
	}
	r.DeliveryFailed = r.Sent == 0
	if msg.Value() != nil {
		r.Value = msg.Payload().String()
	}
	return r
}

// Store persists journal records
type Store interface {
	Put(record *Record) error
	Get(id string) (*Record, error)
	List() ([]*Record, error)
	ListFailures() ([]*Record, error)
	Count() (int, error)
	Close() error
}
