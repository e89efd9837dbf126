package playout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/remote"
)

var (
	ErrInvalidOperation = errors.New("playout: invalid file operation")
	ErrAborted          = errors.New("playout: operation aborted")
)

// Executor performs the file work for one operation. It reports progress
// through op.ReportProgress and returns nil on success.
type Executor interface {
	Execute(ctx context.Context, op *FileOperation) error
}

type ExecutorFunc func(ctx context.Context, op *FileOperation) error

func (f ExecutorFunc) Execute(ctx context.Context, op *FileOperation) error {
	return f(ctx, op)
}

// FileOperation is one queued copy, move or delete with retry accounting.
type FileOperation struct {
	*remote.Object

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newFileOperation(kind OperationKind, source *Media, dest *MediaDirectory) *FileOperation {
	op := &FileOperation{}
	op.Object = remote.NewObject(FileOperationType, op)
	op.ctx, op.cancel = context.WithCancel(context.Background())
	op.Set("Kind", kind)
	op.Set("Source", source)
	op.Set("Destination", dest)
	op.Set("TryCount", DefaultTryCount)
	op.Set("OperationStatus", StatusWaiting)
	op.Set("OperationOutput", []string{})
	op.Set("OperationWarning", []string{})
	return op
}

func (op *FileOperation) Kind() OperationKind {
	return remote.GetAs[OperationKind](op.Object, "Kind")
}

func (op *FileOperation) Source() *Media {
	m, _ := op.Get("Source").(*Media)
	return m
}

func (op *FileOperation) Destination() *MediaDirectory {
	d, _ := op.Get("Destination").(*MediaDirectory)
	return d
}

func (op *FileOperation) Status() OperationStatus {
	return remote.GetAs[OperationStatus](op.Object, "OperationStatus")
}

func (op *FileOperation) TryCount() int {
	return remote.GetAs[int](op.Object, "TryCount")
}

func (op *FileOperation) Progress() int {
	return remote.GetAs[int](op.Object, "Progress")
}

func (op *FileOperation) IsAborted() bool {
	return remote.GetAs[bool](op.Object, "IsAborted")
}

func (op *FileOperation) Output() []string {
	return remote.GetAs[[]string](op.Object, "OperationOutput")
}

// ReportProgress records progress in (0, 100]; other values only clear the
// indeterminate flag.
func (op *FileOperation) ReportProgress(progress int) {
	if progress > 0 && progress <= 100 {
		op.Set("Progress", progress)
	}
	op.Set("IsIndeterminate", false)
}

// AddOutput appends a timestamped line to the operation log.
func (op *FileOperation) AddOutput(msg string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.appendLine("OperationOutput", fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), msg))
	logs.Tracef("playout.FileOperation id=%s %s", op.ID(), msg)
}

func (op *FileOperation) AddWarning(msg string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.appendLine("OperationWarning", msg)
	logs.Warnf("playout.FileOperation id=%s warning=%q", op.ID(), msg)
}

func (op *FileOperation) appendLine(prop, line string) {
	lines := remote.GetAs[[]string](op.Object, prop)
	next := make([]string, len(lines), len(lines)+1)
	copy(next, lines)
	op.Set(prop, append(next, line))
}

func (op *FileOperation) schedule(at time.Time) {
	if op.Set("ScheduledTime", at.UTC()) {
		op.AddOutput("Operation scheduled")
	}
}

// SetStatus moves the operation to status and applies its side effects:
// Finished sets progress 100 and the finish time, Failed resets progress,
// and every terminal status raises Finished after Success or Failure.
func (op *FileOperation) SetStatus(status OperationStatus) {
	if !op.Set("OperationStatus", status) {
		return
	}
	switch status {
	case StatusInProgress:
		op.Set("StartTime", time.Now().UTC())
	case StatusFinished:
		op.Set("Progress", 100)
		op.Set("FinishedTime", time.Now().UTC())
		op.Emit("Success")
		op.Emit("Finished")
	case StatusFailed:
		op.Set("Progress", 0)
		op.Emit("Failure")
		op.Emit("Finished")
	case StatusAborted:
		op.Set("IsIndeterminate", false)
		op.Emit("Failure")
		op.Emit("Finished")
	}
}

// Abort cancels the operation. It is a no-op once aborted.
func (op *FileOperation) Abort() {
	if !op.Set("IsAborted", true) {
		return
	}
	op.cancel()
	op.Set("IsIndeterminate", false)
	op.SetStatus(StatusAborted)
}

// execute runs one attempt. A failed attempt consumes a try; the operation
// goes back to Waiting while tries remain, else it fails.
func (op *FileOperation) execute(exec Executor) bool {
	if op.IsAborted() {
		return false
	}
	op.AddOutput("Operation started")
	op.SetStatus(StatusInProgress)
	err := exec.Execute(op.ctx, op)
	if err == nil && !op.IsAborted() {
		op.SetStatus(StatusFinished)
		op.AddOutput("Operation completed successfully.")
		return true
	}
	if err != nil {
		op.AddOutput(err.Error())
	}
	op.Set("TryCount", op.TryCount()-1)
	if op.IsAborted() {
		return false
	}
	if op.TryCount() > 0 {
		op.SetStatus(StatusWaiting)
	} else {
		op.SetStatus(StatusFailed)
	}
	return false
}

func abortMethod(_ context.Context, target remote.Replicable, _ remote.Values) (any, error) {
	target.(*FileOperation).Abort()
	return nil, nil
}

// FileManager queues file operations and runs them one at a time.
type FileManager struct {
	*remote.Object

	engine     *Engine
	exec       Executor
	retryDelay time.Duration

	opsMu sync.Mutex
	queue chan *FileOperation
}

func newFileManager(engine *Engine, exec Executor, retryDelay time.Duration) *FileManager {
	fm := &FileManager{
		engine:     engine,
		exec:       exec,
		retryDelay: retryDelay,
		queue:      make(chan *FileOperation, 1024),
	}
	fm.Object = remote.NewObject(FileManagerType, fm)
	return fm
}

func (fm *FileManager) Operations() []*FileOperation {
	return remote.RefsAs[*FileOperation](fm.Object, "Operations")
}

// Queue validates and enqueues a new operation.
func (fm *FileManager) Queue(kind OperationKind, source *Media, dest *MediaDirectory) (*FileOperation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidOperation, kind)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: source required", ErrInvalidOperation)
	}
	if kind != KindDelete && dest == nil {
		return nil, fmt.Errorf("%w: %s needs a destination", ErrInvalidOperation, kind)
	}
	op := newFileOperation(kind, source, dest)
	op.schedule(time.Now())

	fm.opsMu.Lock()
	fm.Set("Operations", remote.RefList(append(fm.Operations(), op)))
	fm.opsMu.Unlock()
	fm.Emit("OperationAdded", op)

	select {
	case fm.queue <- op:
	default:
		op.AddWarning("queue full")
		op.SetStatus(StatusFailed)
		return op, nil
	}
	logs.Infof("playout.FileManager.Queue kind=%s file=%q", kind, source.FileName())
	return op, nil
}

// ClearFinished drops terminal operations from the list and the registry.
func (fm *FileManager) ClearFinished() int {
	fm.opsMu.Lock()
	var kept, dropped []*FileOperation
	for _, op := range fm.Operations() {
		if op.Status().Done() {
			dropped = append(dropped, op)
		} else {
			kept = append(kept, op)
		}
	}
	fm.Set("Operations", remote.RefList(kept))
	fm.opsMu.Unlock()
	for _, op := range dropped {
		fm.engine.retire(op)
	}
	return len(dropped)
}

// Run executes queued operations until ctx ends.
func (fm *FileManager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-fm.queue:
			fm.runOne(ctx, op)
		}
	}
}

func (fm *FileManager) runOne(ctx context.Context, op *FileOperation) {
	if op.Status().Done() {
		fm.Emit("OperationCompleted", op)
		return
	}
	if op.execute(fm.exec) {
		fm.apply(op)
		fm.Emit("OperationCompleted", op)
		return
	}
	if op.Status() != StatusWaiting {
		fm.Emit("OperationCompleted", op)
		return
	}
	go func() {
		timer := time.NewTimer(fm.retryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case fm.queue <- op:
			case <-ctx.Done():
			}
		}
	}()
}

// apply updates the media graph after a successful operation.
func (fm *FileManager) apply(op *FileOperation) {
	src := op.Source()
	switch op.Kind() {
	case KindCopy:
		op.Destination().AddMedia(src.clone())
	case KindMove:
		if dir := src.Directory(); dir != nil {
			dir.RemoveMedia(src)
		}
		op.Destination().AddMedia(src)
	case KindDelete:
		if dir := src.Directory(); dir != nil {
			dir.RemoveMedia(src)
		}
		src.Set("MediaStatus", MediaDeleted)
	}
}

// queueMethod: Queue(kind, source Media, destination MediaDirectory|null).
func queueMethod(_ context.Context, target remote.Replicable, args remote.Values) (any, error) {
	fm := target.(*FileManager)
	kind, err := remote.Arg[OperationKind](args, 0)
	if err != nil {
		return nil, err
	}
	source, err := remote.Arg[*Media](args, 1)
	if err != nil {
		return nil, err
	}
	var dest *MediaDirectory
	if args.Len() > 2 && args.Object(2) != nil {
		if dest, err = remote.Arg[*MediaDirectory](args, 2); err != nil {
			return nil, err
		}
	}
	return fm.Queue(kind, source, dest)
}

func clearFinishedMethod(_ context.Context, target remote.Replicable, _ remote.Values) (any, error) {
	return target.(*FileManager).ClearFinished(), nil
}

func pendingQuery(_ context.Context, target remote.Replicable, _ remote.Values) (any, error) {
	out := make([]*FileOperation, 0)
	for _, op := range target.(*FileManager).Operations() {
		if !op.Status().Done() {
			out = append(out, op)
		}
	}
	return out, nil
}
