package st

// JumpTable maps the index of each matched loop-close to the index of its
// loop-open.
type JumpTable map[int]int

// Resolve pairs brackets in a single left-to-right pass. A loop-close with no
// pending open is left out of the table, and opens still pending at the end
// are dropped.
func Resolve(program []Command) JumpTable {
	table := make(JumpTable)
	stack := make([]int, 0, 8)
	for i, c := range program {
		switch c {
		case LoopStart:
			stack = append(stack, i)
		case LoopEnd:
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			table[i] = open
		}
	}
	return table
}

// Target returns the loop-open index for the loop-close at close.
func (j JumpTable) Target(close int) (int, bool) {
	open, ok := j[close]
	return open, ok
}
