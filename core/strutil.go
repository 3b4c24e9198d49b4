package core

// appendUint appends the decimal form of n to dst
func appendUint(dst []byte, n uint32) []byte {
	var digits [10]byte
	pos := len(digits)
	for {
		pos--
		digits[pos] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, digits[pos:]...)
}

// appendField appends " name=value" to dst
func appendField(dst []byte, name string, value uint32) []byte {
	dst = append(dst, ' ')
	dst = append(dst, name...)
	dst = append(dst, '=')
	return appendUint(dst, value)
}

// formatEvent renders one intake event as a dump line
func formatEvent(dst []byte, evt IntakeEvent) []byte {
	dst = append(dst, "[INTAKE] "...)
	dst = append(dst, EventName(evt.EventType)...)
	dst = appendField(dst, "src", uint32(evt.Source))
	dst = appendField(dst, "move", evt.Move)
	dst = appendField(dst, "v1", evt.Value1)
	return appendField(dst, "v2", evt.Value2)
}
