package fold

import "strings"

// MaxPostSize is the largest beacon body the server accepts.
const MaxPostSize = 131072

// Beacon query keys.
const (
	KeyOptionsHash    = "oh"
	KeyNonce          = "n"
	KeyCriticalCSS    = "cs"
	KeyCriticalImages = "ci"
	KeyRenderedImages = "rd"
	KeyXPaths         = "xp"
	KeyTruncated      = "tr"
)

const (
	listSeparator     = ","
	boundarySeparator = ":"
)

// PayloadBuffer accumulates a beacon body under a byte ceiling. Items that
// would overflow are rejected whole; accepted items are never rolled back.
type PayloadBuffer struct {
	b         strings.Builder
	max       int
	truncated bool
}

func NewPayloadBuffer(maxBytes int) *PayloadBuffer {
	return &PayloadBuffer{max: maxBytes}
}

// TryAppend appends item if the result stays within the ceiling.
func (p *PayloadBuffer) TryAppend(item string) bool {
	if p.b.Len()+len(item) > p.max {
		p.truncated = true
		return false
	}
	p.b.WriteString(item)
	return true
}

// Append appends item unconditionally. Used for fixed headers.
func (p *PayloadBuffer) Append(item string) {
	p.b.WriteString(item)
}

func (p *PayloadBuffer) Len() int { return p.b.Len() }

// Truncated reports whether any TryAppend was rejected.
func (p *PayloadBuffer) Truncated() bool { return p.truncated }

func (p *PayloadBuffer) String() string { return p.b.String() }

// EncodeComponent escapes s the way encodeURIComponent does: everything
// but ASCII letters, digits and -_.!~*'() is percent-encoded as UTF-8.
func EncodeComponent(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xF])
	}
	return b.String()
}

func unreservedComponent(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

// newHeader starts a payload with the options hash and nonce.
func newHeader(maxBytes int, optionsHash, nonce string) *PayloadBuffer {
	buf := NewPayloadBuffer(maxBytes)
	buf.Append(KeyOptionsHash + "=" + optionsHash)
	if nonce != "" {
		buf.Append("&" + KeyNonce + "=" + nonce)
	}
	return buf
}

// appendList writes "&key=" and then the escaped items, comma separated,
// stopping at the first item that does not fit. It returns the number of
// items written.
func appendList(buf *PayloadBuffer, key string, items []string) int {
	buf.Append("&" + key + "=")
	n := 0
	for i, item := range items {
		enc := EncodeComponent(item)
		if i > 0 {
			enc = listSeparator + enc
		}
		if !buf.TryAppend(enc) {
			break
		}
		n++
	}
	return n
}
