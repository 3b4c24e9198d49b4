package gcode

// CommandWord returns the command word of a raw line without allocating.
// A leading line number is skipped. ok is false unless the line starts
// with a numbered G, M or T word.
func CommandWord(line []byte) (letter byte, number int, ok bool) {
	letter, number, _, ok = commandWord(line)
	return letter, number, ok
}

// commandWord also returns the index just past the command number
func commandWord(line []byte) (byte, int, int, bool) {
	i := skipSpace(line, 0)
	if i < len(line) && (line[i] == 'N' || line[i] == 'n') {
		if _, pos := parseInt(line, i+1); pos > i+1 {
			i = skipSpace(line, pos)
		}
	}
	if i >= len(line) {
		return 0, 0, i, false
	}

	letter := toUpper(line[i])
	if letter != 'G' && letter != 'M' && letter != 'T' {
		return 0, 0, i, false
	}
	number, pos := parseInt(line, i+1)
	if pos == i+1 {
		return 0, 0, i, false
	}
	return letter, number, pos, true
}

// HasWord reports whether a parameter with the given letter follows the
// command word. The search stops at a comment, a checksum or the end of
// the line.
func HasWord(line []byte, letter byte) bool {
	_, _, i, ok := commandWord(line)
	if !ok {
		return false
	}

	letter = toUpper(letter)
	for ; i < len(line); i++ {
		switch c := line[i]; c {
		case 0, '\r', '\n', ';', '(', '*':
			return false
		default:
			if toUpper(c) == letter {
				return true
			}
		}
	}
	return false
}
