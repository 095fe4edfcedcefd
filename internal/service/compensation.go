package service

import (
	"context"
	"fmt"
)

type compensation struct {
	name string
	undo func(context.Context) error
}

// compensations undoes external adapter effects when the operation that
// performed them does not commit.
type compensations struct {
	steps []compensation
}

func (c *compensations) add(name string, undo func(context.Context) error) {
	c.steps = append(c.steps, compensation{name: name, undo: undo})
}

// run executes the registered steps newest first and returns the failures.
// Steps are consumed, so a second run is a no-op.
func (c *compensations) run(ctx context.Context) []error {
	var failed []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			failed = append(failed, fmt.Errorf("compensate %s: %w", step.name, err))
		}
	}
	c.steps = nil
	return failed
}
