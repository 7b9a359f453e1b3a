package protocol

import "strings"

// parseInlineIfPresent recognizes the non-array inline command form (a bare
// line of space-separated words, as used by raw nc/telnet sessions against a
// real server) and turns it into the same Array-of-BulkStrings shape the rest
// of the codec expects. Real clients and the replication stream never use
// this path.
func parseInlineIfPresent(buf []byte) (Frame, []byte, error) {
	idx := findCRLF(buf)
	if idx == -1 {
		return Frame{}, buf, ErrIncomplete
	}
	fields := strings.Fields(string(buf[:idx]))
	if len(fields) == 0 {
		return Frame{}, buf, malformed("empty inline command")
	}
	items := make([]Frame, 0, len(fields))
	for _, f := range fields {
		items = append(items, BulkStr(f))
	}
	return Arr(items...), buf[idx+2:], nil
}

// ParseCommandFrame parses one command off the head of buf, accepting both
// the Array wire form and the inline form.
func ParseCommandFrame(buf []byte) (Frame, []byte, error) {
	if len(buf) == 0 {
		return Frame{}, buf, ErrIncomplete
	}
	if buf[0] == '*' {
		return Parse(buf)
	}
	return parseInlineIfPresent(buf)
}
