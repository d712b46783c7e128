package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helLine  = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n"
	loLine   = "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n"
	doneLine = "data: [DONE]\n"
)

func decodeChunks(chunks ...string) ([]string, bool) {
	d := NewDecoder()
	var deltas []string
	for _, chunk := range chunks {
		out, done := d.Write([]byte(chunk))
		deltas = append(deltas, out...)
		if done {
			return deltas, true
		}
	}
	return deltas, false
}

func TestDecoderYieldsDeltasInOrder(t *testing.T) {
	d := NewDecoder()

	deltas, done := d.Write([]byte(helLine))
	require.False(t, done)
	assert.Equal(t, []string{"Hel"}, deltas)

	deltas, done = d.Write([]byte(loLine))
	require.False(t, done)
	assert.Equal(t, []string{"lo"}, deltas)

	deltas, done = d.Write([]byte(doneLine))
	assert.True(t, done)
	assert.Empty(t, deltas)
	assert.True(t, d.Finished())
	assert.False(t, d.Finish(), "finish after sentinel must be a no-op")
}

func TestDecoderChunkingInvariance(t *testing.T) {
	stream := ": keep-alive\n" +
		helLine +
		"\n" +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ünï\"}}]}\r\n" +
		loLine +
		doneLine +
		"data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}\n"

	want, done := decodeChunks(stream)
	require.True(t, done)
	require.Equal(t, []string{"Hel", "ünï", "lo"}, want)

	for i := 0; i <= len(stream); i++ {
		got, done := decodeChunks(stream[:i], stream[i:])
		assert.True(t, done, "split at %d", i)
		assert.Equal(t, want, got, "split at %d", i)
	}
	for size := 1; size < 16; size++ {
		var chunks []string
		for i := 0; i < len(stream); i += size {
			chunks = append(chunks, stream[i:min(i+size, len(stream))])
		}
		got, done := decodeChunks(chunks...)
		assert.True(t, done, "chunk size %d", size)
		assert.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestDecoderSkipsMalformedRecord(t *testing.T) {
	d := NewDecoder()

	deltas, done := d.Write([]byte("data: {\"choices\":[{\"delta\":{\"con\n"))
	assert.False(t, done)
	assert.Empty(t, deltas)

	deltas, done = d.Write([]byte("data: {\"choices\":[{\"delta\""))
	assert.False(t, done)
	assert.Empty(t, deltas, "incomplete line must be retained, not parsed")

	deltas, done = d.Write([]byte(":{\"content\":\"ok\"}}]}\n"))
	assert.False(t, done)
	assert.Equal(t, []string{"ok"}, deltas)
}

func TestDecoderToleratesUnexpectedFieldTypes(t *testing.T) {
	deltas, done := decodeChunks(
		"data: {\"id\":12345,\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n",
		"data: {\"created\":\"today\",\"choices\":[{\"index\":\"0\",\"delta\":{\"content\":\"y\"}}]}\n",
		doneLine,
	)
	require.True(t, done)
	assert.Equal(t, []string{"x", "y"}, deltas)
}

func TestDecoderIgnoresUnterminatedTailOnFinish(t *testing.T) {
	d := NewDecoder()
	deltas, _ := d.Write([]byte(helLine + strings.TrimSuffix(loLine, "\n")))
	assert.Equal(t, []string{"Hel"}, deltas)

	assert.True(t, d.Finish())
	assert.False(t, d.Finish())

	deltas, done := d.Write([]byte("\n" + loLine))
	assert.True(t, done)
	assert.Empty(t, deltas)
}

func TestDecoderConcatenationMatchesStream(t *testing.T) {
	parts := []string{"The ", "quick ", "brown ", "fox", " {json}", " \"quoted\"\n"}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(`data: {"choices":[{"delta":{"content":`)
		b.WriteString(jsonString(p))
		b.WriteString("}}]}\n")
	}
	b.WriteString(doneLine)

	deltas, done := decodeChunks(b.String())
	require.True(t, done)
	assert.Equal(t, strings.Join(parts, ""), strings.Join(deltas, ""))
}

func jsonString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}
