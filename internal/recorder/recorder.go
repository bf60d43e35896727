// Package recorder stores execution results after an invocation returns.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/settings"
)

// Record is one invocation as stored by a sink. Result is kept as returned
// by the operator.
type Record struct {
	ID         uuid.UUID        `json:"id" bson:"_id"`
	Workflow   string           `json:"workflow" bson:"workflow"`
	Node       string           `json:"node" bson:"node"`
	Service    settings.Service `json:"service" bson:"service"`
	Identity   string           `json:"identity" bson:"identity"`
	Result     executor.Result  `json:"result" bson:"result"`
	RecordedAt time.Time        `json:"recorded_at" bson:"recorded_at"`
}

// NewRecord stamps a result with a fresh ID and the current time.
func NewRecord(workflow, identity string, cfg settings.Configuration, res executor.Result) Record {
	return Record{
		ID:         uuid.New(),
		Workflow:   workflow,
		Node:       cfg.Node,
		Service:    cfg.Service,
		Identity:   identity,
		Result:     res,
		RecordedAt: time.Now().UTC(),
	}
}

// Sink persists records.
type Sink interface {
	Name() string
	Record(ctx context.Context, r Record) error
	Close(ctx context.Context) error
}

// Multi writes every record to all of its sinks concurrently.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

// Record returns the first sink error. A failing sink never cancels the
// others.
func (m Multi) Record(ctx context.Context, r Record) error {
	var g errgroup.Group
	for _, s := range m {
		s := s
		g.Go(func() error {
			if err := s.Record(ctx, r); err != nil {
				return fmt.Errorf("%s sink: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m Multi) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range m {
		s := s
		g.Go(func() error { return s.Close(ctx) })
	}
	return g.Wait()
}
