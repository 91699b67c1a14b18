package loki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
)

// PushPath is the Loki push endpoint every request is sent to
const PushPath = "/loki/api/v1/push"

// A PushRequest is the JSON body of one push: one or more streams
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// A Stream is a set of labels and the entries logged against them. Each
// value is a [timestamp, line] pair with the timestamp in decimal
// nanoseconds.
type Stream struct {
	Labels map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// NewPushRequest returns a request holding a single stream with a single
// entry, which is what the load driver sends.
func NewPushRequest(labels map[string]string, ts time.Time, line string) *PushRequest {
	return &PushRequest{
		Streams: []Stream{NewStream(labels).Add(ts, line)},
	}
}

// NewStream returns an empty stream for the labels
func NewStream(labels map[string]string) Stream {
	return Stream{Labels: labels, Values: [][2]string{}}
}

// Add appends an entry and returns the stream for chaining
func (s Stream) Add(ts time.Time, line string) Stream {
	s.Values = append(s.Values, [2]string{FormatTimestamp(ts.UnixNano()), line})
	return s
}

// Entries counts the values across all streams
func (r *PushRequest) Entries() int {
	var count int
	for _, s := range r.Streams {
		count += len(s.Values)
	}
	return count
}

// FormatTimestamp renders nanoseconds as a plain decimal string, never in
// scientific notation.
func FormatTimestamp(nanos int64) string {
	return strconv.FormatInt(nanos, 10)
}

// Encode serializes the request, gzipping it when asked
func (r *PushRequest) Encode(compress bool) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("unable to encode push request: %w", err)
	}

	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("unable to compress push request: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("unable to compress push request: %w", err)
	}

	return buf.Bytes(), nil
}
