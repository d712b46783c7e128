// Package sse decodes the server-sent-events framing used by OpenAI
// compatible chat completion endpoints into text deltas.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/sashabaranov/go-openai"
)

const (
	DataPrefix = "data: "
	Sentinel   = "[DONE]"
)

// Decoder turns arbitrarily chunked stream bytes into deltas. A line is
// never looked at until its terminating newline has arrived.
type Decoder struct {
	pending  []byte
	finished bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write consumes one chunk and returns the deltas it completed, in order.
// done reports that the sentinel was seen; everything after it, including
// the rest of this chunk, is discarded.
func (d *Decoder) Write(chunk []byte) (deltas []string, done bool) {
	if d.finished {
		return nil, true
	}
	d.pending = append(d.pending, chunk...)

	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]

		delta, ok, sentinel := parseLine(line)
		if sentinel {
			d.finish()
			return deltas, true
		}
		if ok {
			deltas = append(deltas, delta)
		}
	}

	// compact the retained incomplete line
	d.pending = append([]byte(nil), d.pending...)
	return deltas, false
}

// Finish marks end of stream. It returns true only for the first call,
// including the implicit finish caused by the sentinel.
func (d *Decoder) Finish() bool {
	if d.finished {
		return false
	}
	d.finish()
	return true
}

func (d *Decoder) Finished() bool {
	return d.finished
}

func (d *Decoder) finish() {
	d.finished = true
	d.pending = nil
}

func parseLine(line []byte) (delta string, ok bool, sentinel bool) {
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return "", false, false
	}
	data := bytes.TrimSpace(line[len(DataPrefix):])
	if string(data) == Sentinel {
		return "", false, true
	}

	var record openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(data, &record); err != nil {
		// A field of an unexpected type still leaves the rest of the record
		// decoded. Anything else is a partial or garbage record.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return "", false, false
		}
	}
	if len(record.Choices) == 0 || record.Choices[0].Delta.Content == "" {
		return "", false, false
	}
	return record.Choices[0].Delta.Content, true, false
}
