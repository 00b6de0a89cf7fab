package session

import "bytes"

// tagPair is a pair of ASCII sentinels used as framing delimiters.
type tagPair struct {
	open  []byte
	close []byte // nil for bare, closeless sentinels such as ACK.
}

var (
	tagSID = tagPair{open: []byte("<SID>"), close: []byte("</SID>")}
	tagRAN = tagPair{open: []byte("<RAN>"), close: []byte("</RAN>")}
	tagAUT = tagPair{open: []byte("<AUT>"), close: []byte("</AUT>")}
	tagREP = tagPair{open: []byte("<REP>"), close: []byte("</REP>")}
	tagACK = tagPair{open: []byte("<ACK>")}
)

// wrap concatenates open, payload, and close (if any) into a single frame.
func wrap(payload []byte, pair tagPair) []byte {
	out := make([]byte, 0, len(pair.open)+len(payload)+len(pair.close))
	out = append(out, pair.open...)
	out = append(out, payload...)
	out = append(out, pair.close...)
	return out
}

// extract locates pair's opening and closing tags independently within buf
// (it does not assume the two appear in order, or that either appears
// only once) and returns the bytes strictly between the first occurrence
// of each. It reports false if either tag is missing, or if the data span
// would be empty or inverted (start >= end).
func extract(buf []byte, pair tagPair) ([]byte, bool) {
	openIdx := bytes.Index(buf, pair.open)
	if openIdx < 0 {
		return nil, false
	}
	closeIdx := bytes.Index(buf, pair.close)
	if closeIdx < 0 {
		return nil, false
	}

	start := openIdx + len(pair.open)
	if start >= closeIdx {
		return nil, false
	}

	return buf[start:closeIdx], true
}

// hasBareTag reports whether buf contains pair's opening sentinel. Used for
// ACK, which has no closing tag.
func hasBareTag(buf []byte, pair tagPair) bool {
	return bytes.Index(buf, pair.open) >= 0
}
