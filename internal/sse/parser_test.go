package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(p *Parser) []string {
	var out []string
	for {
		line, ok := p.Next()
		if !ok {
			break
		}
		out = append(out, string(line))
	}
	return out
}

func TestParser_SingleFeed(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"))

	lines := drainAll(p)
	require.Len(t, lines, 4)
	assert.Equal(t, "data: {\"a\":1}", lines[0])
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "data: {\"b\":2}", lines[2])
	assert.Equal(t, "", lines[3])
}

// TestParser_PacketIndependence is the direct analogue of spec scenario 8:
// splitting the same byte stream at every possible offset must still
// produce the identical ordered sequence of lines.
func TestParser_PacketIndependence(t *testing.T) {
	full := []byte("event: message_start\ndata: {\"id\":\"1\"}\n\nevent: content_block_delta\ndata: {\"delta\":\"hi\"}\n\nevent: message_stop\ndata: {}\n\n")

	p := NewParser()
	p.Feed(full)
	want := drainAll(p)

	for split := 0; split <= len(full); split++ {
		p := NewParser()
		p.Feed(full[:split])
		p.Feed(full[split:])
		got := drainAll(p)
		require.Equal(t, want, got, "split at offset %d produced a different line sequence", split)
	}
}

func TestParser_SplitAcrossManyFeeds(t *testing.T) {
	full := []byte("data: one\ndata: two\ndata: three\n")

	p := NewParser()
	for _, b := range full {
		p.Feed([]byte{b})
	}

	lines := drainAll(p)
	require.Equal(t, []string{"data: one", "data: two", "data: three"}, lines)
}

func TestParser_CRLF(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("data: x\r\n\r\n"))
	lines := drainAll(p)
	require.Equal(t, []string{"data: x", ""}, lines)
}
