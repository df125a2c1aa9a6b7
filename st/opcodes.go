package st

// Opcodes maps program characters to cell values for
// ReinitializeTapeFromProgramOpcodes.
type Opcodes map[rune]int32

// DefaultOpcodes maps every instruction character to its code point.
func DefaultOpcodes() Opcodes {
	return Opcodes{
		rune(Increment): int32(Increment),
		rune(Decrement): int32(Decrement),
		rune(Left):      int32(Left),
		rune(Right):     int32(Right),
		rune(Output):    int32(Output),
		rune(LoopStart): int32(LoopStart),
		rune(LoopEnd):   int32(LoopEnd),
	}
}

// Values translates the source through the mapping. Characters without an
// entry are skipped.
func (o Opcodes) Values(source string) []int32 {
	var values []int32
	for _, c := range source {
		if v, ok := o[c]; ok {
			values = append(values, v)
		}
	}
	return values
}

// ReinitializeTapeFromProgramOpcodes rebuilds the tape from the program text
// without executing it. If no character maps to a value the tape is left as
// it is.
func (i *Interpreter) ReinitializeTapeFromProgramOpcodes(mapping Opcodes) {
	i.tape.Reinitialize(mapping.Values(i.source))
}
