package st

import (
	"math"
	"strconv"
	"strings"
)

// CellID is the stable identity of a cell. It does not change when the tape
// grows in either direction, and it is never handed out again once the tape
// has been cleared or reinitialized.
type CellID int

const noCell CellID = -1

// Policy selects the cell arithmetic.
type Policy uint8

const (
	// Wrap treats cells as int32 with two's-complement wraparound.
	Wrap Policy = iota
	// Clamp stops decrement at zero and saturates increment at math.MaxInt32.
	Clamp
)

func (p Policy) String() string {
	switch p {
	case Wrap:
		return "wrap"
	case Clamp:
		return "clamp"
	default:
		return "policy(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePolicy is the inverse of Policy.String.
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wrap":
		return Wrap, true
	case "clamp":
		return Clamp, true
	}
	return Wrap, false
}

type cell struct {
	value int32
	left  CellID
	right CellID
}

// Tape is a doubly linked sequence of cells kept in an arena. Links are arena
// indices, so growing the tape never moves an existing cell. cells[i] holds
// the cell with id base+i; ids below base belong to a discarded tape.
type Tape struct {
	cells     []cell
	base      CellID
	leftmost  CellID
	rightmost CellID
	current   CellID
	policy    Policy
}

// CellView is one entry of a Snapshot.
type CellView struct {
	ID      CellID
	Value   int32
	Current bool
}

func NewTape(policy Policy) *Tape {
	t := &Tape{policy: policy}
	t.clear()
	return t
}

func (t *Tape) clear() {
	t.restart(0)
}

// restart drops every cell and starts a fresh arena holding a single cell.
// Numbering continues after the last id of the old arena.
func (t *Tape) restart(value int32) {
	t.base += CellID(len(t.cells))
	t.cells = []cell{{value: value, left: noCell, right: noCell}}
	t.leftmost = t.base
	t.rightmost = t.base
	t.current = t.base
}

func (t *Tape) at(id CellID) *cell {
	return &t.cells[id-t.base]
}

func (t *Tape) alloc(value int32) CellID {
	t.cells = append(t.cells, cell{value: value, left: noCell, right: noCell})
	return t.base + CellID(len(t.cells)-1)
}

func (t *Tape) appendRight(value int32) CellID {
	id := t.alloc(value)
	t.at(id).left = t.rightmost
	t.at(t.rightmost).right = id
	t.rightmost = id
	return id
}

func (t *Tape) appendLeft(value int32) CellID {
	id := t.alloc(value)
	t.at(id).right = t.leftmost
	t.at(t.leftmost).left = id
	t.leftmost = id
	return id
}

func (t *Tape) Policy() Policy {
	return t.policy
}

// Len is the number of materialized cells.
func (t *Tape) Len() int {
	return len(t.cells)
}

func (t *Tape) Current() CellID {
	return t.current
}

func (t *Tape) Leftmost() CellID {
	return t.leftmost
}

func (t *Tape) Rightmost() CellID {
	return t.rightmost
}

func (t *Tape) MoveRight() {
	next := t.at(t.current).right
	if next == noCell {
		next = t.appendRight(0)
	}
	t.current = next
}

func (t *Tape) MoveLeft() {
	prev := t.at(t.current).left
	if prev == noCell {
		prev = t.appendLeft(0)
	}
	t.current = prev
}

func (t *Tape) Increment() {
	c := t.at(t.current)
	switch t.policy {
	case Clamp:
		if c.value < math.MaxInt32 {
			c.value++
		}
	default:
		c.value++
	}
}

// Decrement under Clamp never leaves a cell below zero, so a negative value
// written from outside is pulled up to zero.
func (t *Tape) Decrement() {
	c := t.at(t.current)
	switch t.policy {
	case Clamp:
		if c.value > 0 {
			c.value--
		} else {
			c.value = 0
		}
	default:
		c.value--
	}
}

func (t *Tape) Value() int32 {
	return t.at(t.current).value
}

func (t *Tape) SetValue(v int32) {
	t.at(t.current).value = v
}

// At reads the cell with the given identity.
func (t *Tape) At(id CellID) (int32, bool) {
	if !t.valid(id) {
		return 0, false
	}
	return t.at(id).value, true
}

// Set writes the cell with the given identity. Unknown identities are ignored.
func (t *Tape) Set(id CellID, v int32) {
	if !t.valid(id) {
		return
	}
	t.at(id).value = v
}

// SetText writes a decimal value typed by a user. Anything that does not parse
// as an int32 is stored as zero.
func (t *Tape) SetText(id CellID, text string) {
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
	if err != nil {
		v = 0
	}
	t.Set(id, int32(v))
}

func (t *Tape) valid(id CellID) bool {
	return id >= t.base && int(id-t.base) < len(t.cells)
}

// InsertLeft adds a zero cell before the leftmost one. The cursor stays put.
func (t *Tape) InsertLeft() CellID {
	return t.appendLeft(0)
}

// InsertRight adds a zero cell after the rightmost one. The cursor stays put.
func (t *Tape) InsertRight() CellID {
	return t.appendRight(0)
}

// Reinitialize replaces the whole tape with the given values and puts the
// cursor on the first one. The new cells get fresh ids, so ids of the old
// tape stop resolving. An empty slice leaves the tape untouched.
func (t *Tape) Reinitialize(values []int32) {
	if len(values) == 0 {
		return
	}
	t.restart(values[0])
	for _, v := range values[1:] {
		t.appendRight(v)
	}
}

// Snapshot walks the tape from leftmost to rightmost.
func (t *Tape) Snapshot() []CellView {
	views := make([]CellView, 0, len(t.cells))
	for id := t.leftmost; id != noCell; id = t.at(id).right {
		views = append(views, CellView{
			ID:      id,
			Value:   t.at(id).value,
			Current: id == t.current,
		})
	}
	return views
}

// Values is Snapshot without the bookkeeping.
func (t *Tape) Values() []int32 {
	values := make([]int32, 0, len(t.cells))
	for id := t.leftmost; id != noCell; id = t.at(id).right {
		values = append(values, t.at(id).value)
	}
	return values
}
