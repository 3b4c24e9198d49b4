package gcode

// Command is a parsed command line: its primary word and its parameters
type Command struct {
	Type       byte             // 'G', 'M' or 'T', zero for parameter-only lines
	Number     int              // Command number (e.g. 104 for M104)
	HasNumber  bool             // Whether a number followed the command letter
	LineNumber int              // Value of a leading N word, if any
	Parameters map[byte]float64 // Parameter letter -> value
	Comment    string           // Trailing comment including its marker
}

// ParseLine parses a single line of G-code. It returns nil for blank lines.
func ParseLine(line string) *Command {
	line = trimTerminator(line)
	if len(line) == 0 {
		return nil
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
	}

	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil
	}

	// Check for comment
	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = line[i:]
		return cmd
	}

	// Skip a leading line number (N123)
	if line[i] == 'N' || line[i] == 'n' {
		num, newPos := parseInt(line, i+1)
		if newPos > i+1 {
			cmd.LineNumber = num
			i = skipSpace(line, newPos)
		}
	}

	// Parse command type (G, M, T)
	if i < len(line) && (line[i] == 'G' || line[i] == 'M' || line[i] == 'T' ||
		line[i] == 'g' || line[i] == 'm' || line[i] == 't') {
		cmd.Type = toUpper(line[i])
		i++

		// Parse command number
		num, newPos := parseInt(line, i)
		if newPos > i {
			cmd.Number = num
			cmd.HasNumber = true
			i = newPos
		}
	}

	// Parse parameters
	for i < len(line) {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}

		// Check for comment
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			break
		}

		// Checksum marks the end of the command words
		if line[i] == '*' {
			break
		}

		// Parse parameter letter
		if isLetter(line[i]) {
			letter := toUpper(line[i])
			i++

			// Parse parameter value; a bare letter still counts as seen
			value, newPos := parseFloat(line, i)
			if newPos > i {
				i = newPos
			} else {
				value = 0
			}
			cmd.Parameters[letter] = value
		} else {
			i++
		}
	}

	return cmd
}

// trimTerminator cuts the line at the first NUL, CR or LF
func trimTerminator(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] == '\r' || s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// byteString is a line held either as a string or as raw bytes
type byteString interface {
	~string | ~[]byte
}

// skipSpace returns the index of the first non-blank byte at or after pos
func skipSpace[T byteString](s T, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t') {
		pos++
	}
	return pos
}

// parseInt parses an integer from s starting at pos
func parseInt[T byteString](s T, pos int) (int, int) {
	if pos >= len(s) {
		return 0, pos
	}

	start := pos
	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	digits := pos
	value := 0

	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}

	if pos == digits {
		return 0, start // No digits found
	}

	if negative {
		value = -value
	}

	return value, pos
}

// parseFloat parses a floating-point number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	if pos >= len(s) {
		return 0, pos
	}

	begin := pos
	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	intPart := 0
	fracPart := 0.0
	fracDigits := 0

	// Parse integer part
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		intPart = intPart*10 + int(s[pos]-'0')
		pos++
	}

	// Parse fractional part
	if pos < len(s) && s[pos] == '.' {
		pos++
		fracStart := pos
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			fracPart = fracPart*10.0 + float64(s[pos]-'0')
			pos++
		}
		fracDigits = pos - fracStart
	}

	if pos == start || (pos == start+1 && s[start] == '.') {
		return 0, begin // No valid number found
	}

	// Combine integer and fractional parts
	value := float64(intPart)
	if fracDigits > 0 {
		divisor := 1.0
		for i := 0; i < fracDigits; i++ {
			divisor *= 10.0
		}
		value += fracPart / divisor
	}

	if negative {
		value = -value
	}

	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// Is reports whether the command is the given letter and number
func (cmd *Command) Is(letter byte, number int) bool {
	return cmd != nil && cmd.Type == letter && cmd.HasNumber && cmd.Number == number
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}
