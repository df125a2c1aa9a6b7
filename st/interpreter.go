package st

import "slices"

type Interpreter struct {
	source      string
	Program     []Command
	jumps       JumpTable
	program_ptr int
	tape        *Tape
	output      []string
	terminated  bool
	steps       uint64
	policy      Policy
}

type Option func(*Interpreter)

// WithPolicy selects the cell arithmetic. The default is Wrap.
func WithPolicy(p Policy) Option {
	return func(i *Interpreter) {
		i.policy = p
	}
}

func NewInterpreter(source string, opts ...Option) *Interpreter {
	program := Lex(source)
	i := &Interpreter{
		source:  source,
		Program: program,
		jumps:   Resolve(program),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.Reset()
	return i
}

// Reset throws away the execution state and starts over from the first
// instruction with a single zero cell. The program and policy are kept. Cell
// ids handed out before the reset are not reused.
func (i *Interpreter) Reset() {
	i.program_ptr = 0
	if i.tape == nil {
		i.tape = NewTape(i.policy)
	} else {
		i.tape.clear()
	}
	i.output = nil
	i.steps = 0
	i.terminated = false
}

func (i *Interpreter) inBounds() bool {
	return i.program_ptr >= 0 && i.program_ptr < len(i.Program)
}

// Step executes exactly one instruction. Once the instruction pointer has left
// the program the interpreter is terminated and Step does nothing.
func (i *Interpreter) Step() {
	if i.terminated {
		return
	}
	if !i.inBounds() {
		i.terminated = true
		return
	}
	i.steps++

	switch i.Program[i.program_ptr] {
	case Increment:
		i.tape.Increment()
	case Decrement:
		i.tape.Decrement()
	case Right:
		i.tape.MoveRight()
	case Left:
		i.tape.MoveLeft()
	case Output:
		i.output = append(i.output, Format(i.tape.Value()))
	case LoopStart:
		// Never skips forward, even on a zero cell.
	case LoopEnd:
		if i.tape.Value() != 0 {
			if open, ok := i.jumps.Target(i.program_ptr); ok {
				// Land on the open bracket itself; it is a no-op on the next step.
				i.program_ptr = open
				return
			}
		}
	}

	i.program_ptr++
	if !i.inBounds() {
		i.terminated = true
	}
}

func (i *Interpreter) Terminated() bool {
	return i.terminated
}

// InstructionPointer is the index of the next instruction to execute,
// counted in characters (runes) of the program text.
func (i *Interpreter) InstructionPointer() int {
	return i.program_ptr
}

// Steps counts the instructions executed since the last Reset.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

func (i *Interpreter) Source() string {
	return i.source
}

func (i *Interpreter) Policy() Policy {
	return i.policy
}

// JumpTable returns a copy of the resolved brackets.
func (i *Interpreter) JumpTable() JumpTable {
	table := make(JumpTable, len(i.jumps))
	for k, v := range i.jumps {
		table[k] = v
	}
	return table
}

// Output returns the display tokens printed so far.
func (i *Interpreter) Output() []string {
	return slices.Clone(i.output)
}

// OutputFrom returns the tokens printed after the first n.
func (i *Interpreter) OutputFrom(n int) []string {
	if n < 0 {
		n = 0
	}
	if n >= len(i.output) {
		return nil
	}
	return slices.Clone(i.output[n:])
}

func (i *Interpreter) OutputLen() int {
	return len(i.output)
}

// Tape exposes the tape for read access. Mutations from outside the engine
// should go through the editing methods below.
func (i *Interpreter) Tape() *Tape {
	return i.tape
}

func (i *Interpreter) TapeSnapshot() []CellView {
	return i.tape.Snapshot()
}

// Value reads the cell under the cursor.
func (i *Interpreter) Value() int32 {
	return i.tape.Value()
}

func (i *Interpreter) SetCellValue(id CellID, v int32) {
	i.tape.Set(id, v)
}

func (i *Interpreter) SetCellText(id CellID, text string) {
	i.tape.SetText(id, text)
}

func (i *Interpreter) InsertCellLeft() CellID {
	return i.tape.InsertLeft()
}

func (i *Interpreter) InsertCellRight() CellID {
	return i.tape.InsertRight()
}
