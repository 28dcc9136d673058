package provider

import (
	"bytes"
	"io"

	"github.com/llmrouter/gateway/internal/sse"
)

// lineReader adapts an io.Reader (an upstream SSE response body) to the
// packet-boundary-safe sse.Parser, so every streaming adapter gets
// line-at-a-time delivery that is correct regardless of how the
// underlying reads happen to chunk (§4.B, §8 "SSE parser packet
// independence").
type lineReader struct {
	r      io.Reader
	parser *sse.Parser
	buf    []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, parser: sse.NewParser(), buf: make([]byte, 4096)}
}

// readLine returns the next complete line (without its trailing newline),
// reading more from the underlying stream as needed. Returns io.EOF when
// the stream ends with no further buffered lines.
func (l *lineReader) readLine() ([]byte, error) {
	for {
		if line, ok := l.parser.Next(); ok {
			return line, nil
		}
		n, err := l.r.Read(l.buf)
		if n > 0 {
			l.parser.Feed(l.buf[:n])
			if line, ok := l.parser.Next(); ok {
				return line, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// dataPayload strips the "data: " SSE field prefix from a line. Blank
// lines (event separators) and other field lines ("event: ...", ":
// comment") return ok=false.
func dataPayload(line []byte) ([]byte, bool) {
	const prefix = "data: "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return nil, false
	}
	return bytes.TrimPrefix(line, []byte(prefix)), true
}
