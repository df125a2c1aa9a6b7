package st

type Command rune

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '
)

func parse(c rune) Command {
	switch c {
	case '+':
		return Increment
	case '-':
		return Decrement
	case '>':
		return Right
	case '<':
		return Left
	case '.':
		return Output
	case '[':
		return LoopStart
	case ']':
		return LoopEnd
	default:
		return Ignore
	}
}

func (c Command) String() string {
	switch c {
	case Increment, Decrement, Left, Right, Output, LoopStart, LoopEnd:
		return string(rune(c))
	default:
		return " "
	}
}

// Lex maps every character of the source onto a Command. Unrecognized
// characters become Ignore but keep their slot, so command indices line up
// with character positions in the program text.
func Lex(source string) []Command {
	commands := make([]Command, 0, len(source))
	for _, c := range source {
		commands = append(commands, parse(c))
	}
	return commands
}
