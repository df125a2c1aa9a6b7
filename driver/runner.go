// Package driver runs a Screwtape interpreter on a schedule. The interpreter
// itself only knows how to take one step; the Runner decides when.
package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/screwtape/st"
)

type Runner struct {
	mu          sync.Mutex
	interpreter *st.Interpreter
	output      io.StringWriter
	interval    time.Duration
	maxSteps    uint64
	trace       bool

	running bool
	printed int
}

type Option func(*Runner)

// WithInterval pauses between steps. Zero steps as fast as possible.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.interval = d
	}
}

// WithOutput streams display tokens to w as they are printed.
func WithOutput(w io.StringWriter) Option {
	return func(r *Runner) {
		r.output = w
	}
}

// WithMaxSteps stops a Run call once it has executed n instructions. The
// program stays paused, so another Run gets a fresh budget of n. Zero means no
// limit.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(trace bool) Option {
	return func(r *Runner) {
		r.trace = trace
	}
}

func New(interpreter *st.Interpreter, opts ...Option) *Runner {
	r := &Runner{interpreter: interpreter}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interpreter.Terminated()
}

func (r *Runner) InstructionPointer() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interpreter.InstructionPointer()
}

func (r *Runner) Output() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interpreter.Output()
}

func (r *Runner) Snapshot() []st.CellView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interpreter.TapeSnapshot()
}

// step must be called with mu held.
func (r *Runner) step(ctx context.Context) error {
	if r.trace {
		ptr := r.interpreter.InstructionPointer()
		entry := log.G(ctx).WithField("ip", ptr).WithField("value", r.interpreter.Value())
		if ptr >= 0 && ptr < len(r.interpreter.Program) {
			entry = entry.WithField("op", r.interpreter.Program[ptr].String())
		}
		entry.Debug("step")
	}
	r.interpreter.Step()
	return r.flush()
}

func (r *Runner) flush() error {
	tokens := r.interpreter.OutputFrom(r.printed)
	r.printed += len(tokens)
	if r.output == nil {
		return nil
	}
	for _, tok := range tokens {
		if _, err := r.output.WriteString(tok); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	return nil
}

// Step executes a single instruction by hand. It is refused while Run is
// active.
func (r *Runner) Step(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errdefs.ErrFailedPrecondition.WithMessage("cannot single-step while running")
	}
	return r.step(ctx)
}

// Run steps the interpreter until it terminates, the step limit is hit or
// ctx is done. Cancelling ctx pauses the program; calling Run again resumes
// it from where it stopped.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errdefs.ErrFailedPrecondition.WithMessage("already running")
	}
	r.running = true
	start := r.interpreter.Steps()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				log.G(ctx).Debug("run paused")
				return ctx.Err()
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				log.G(ctx).Debug("run paused")
				return ctx.Err()
			default:
			}
		}

		done, err := r.tick(ctx, start)
		if err != nil || done {
			return err
		}
	}
}

// tick runs one instruction. start is the step count when Run was entered;
// Reset cannot happen mid-run, so the count only grows from there.
func (r *Runner) tick(ctx context.Context, start uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interpreter.Terminated() {
		log.G(ctx).WithField("steps", r.interpreter.Steps()).Debug("program terminated")
		return true, nil
	}
	if r.maxSteps > 0 && r.interpreter.Steps()-start >= r.maxSteps {
		log.G(ctx).WithField("steps", r.interpreter.Steps()).Warn("step limit reached")
		return true, errdefs.ErrResourceExhausted.WithMessage(fmt.Sprintf("step limit of %d reached", r.maxSteps))
	}
	if err := r.step(ctx); err != nil {
		return true, err
	}
	return false, nil
}

// Edit gives fn exclusive access to the interpreter for tape editing or
// reset. Edits are only allowed while the program is not auto-running.
func (r *Runner) Edit(fn func(*st.Interpreter)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errdefs.ErrFailedPrecondition.WithMessage("cannot edit the tape while running")
	}
	fn(r.interpreter)
	return nil
}

// Reset restarts the program. Output already written stays written.
func (r *Runner) Reset() error {
	return r.Edit(func(i *st.Interpreter) {
		i.Reset()
		r.printed = 0
	})
}
