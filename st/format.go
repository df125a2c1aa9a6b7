package st

import "strconv"

var controlTokens = map[int32]string{
	0:  "[NUL]",
	7:  "[BEL]",
	8:  "[BS]",
	9:  "[TAB]",
	10: "[LF]",
	13: "[CR]",
}

// Format turns a cell value into a display token. Printable ASCII is shown as
// itself, everything else as a bracketed name or number.
func Format(v int32) string {
	if v >= 32 && v <= 126 {
		return string(rune(v))
	}
	if tok, ok := controlTokens[v]; ok {
		return tok
	}
	return "[" + strconv.FormatInt(int64(v), 10) + "]"
}
