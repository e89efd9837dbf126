package playout

import (
	"context"
	"time"
)

// SimulatedExecutor stands in for the copy engine: it walks progress in
// ten steps of Step each and never touches the filesystem.
type SimulatedExecutor struct {
	Step time.Duration
}

func (s SimulatedExecutor) Execute(ctx context.Context, op *FileOperation) error {
	step := s.Step
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for progress := 10; progress <= 100; progress += 10 {
		select {
		case <-ctx.Done():
			return ErrAborted
		case <-ticker.C:
			op.ReportProgress(progress)
		}
	}
	return nil
}
