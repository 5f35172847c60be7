package jobs

import (
	"context"
	"errors"
	"time"
)

// TargetEvent describes a target created by the ingestion loop.
type TargetEvent struct {
	TargetID int64     `json:"target_id"`
	Name     string    `json:"name"`
	RA       float64   `json:"ra"`
	Dec      float64   `json:"dec"`
	Query    string    `json:"query"`
	Broker   string    `json:"broker"`
	URL      string    `json:"url,omitempty"`
	Mag      float64   `json:"mag,omitempty"`
	Created  time.Time `json:"created"`
}

// Notifier is told about new targets. Failures never fail the job.
type Notifier interface {
	TargetCreated(ctx context.Context, ev *TargetEvent) error
}

// Notifiers fans an event out to every notifier in order and joins their errors.
type Notifiers []Notifier

// TargetCreated implements Notifier.
func (ns Notifiers) TargetCreated(ctx context.Context, ev *TargetEvent) error {
	var errs []error
	for _, n := range ns {
		if err := n.TargetCreated(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
