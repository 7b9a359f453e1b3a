package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis/internal/storage"
)

// parseStreamID resolves the textual id forms §4.5 describes — "a-b",
// "a-*", and "*" — against stream's current state, returning the
// concrete id an XADD should use.
func parseStreamID(text string, stream *storage.Stream) (storage.StreamID, error) {
	if text == "*" {
		now := uint64(time.Now().UnixMilli())
		return stream.NextFullID(now), nil
	}

	millisPart, seqPart, ok := strings.Cut(text, "-")
	millis, err := strconv.ParseUint(millisPart, 10, 64)
	if err != nil {
		return storage.StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}

	if !ok {
		return storage.StreamID{Millis: millis, Seq: 0}, nil
	}
	if seqPart == "*" {
		return storage.StreamID{Millis: millis, Seq: stream.NextSeqForExplicitMillis(millis)}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return storage.StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return storage.StreamID{Millis: millis, Seq: seq}, nil
}

// parseExactID resolves the plain id form XREAD takes: "a-b" explicit, or
// bare "a" meaning (a, 0).
func parseExactID(text string) (storage.StreamID, error) {
	millisPart, seqPart, hasSeq := strings.Cut(text, "-")
	millis, err := strconv.ParseUint(millisPart, 10, 64)
	if err != nil {
		return storage.StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if !hasSeq {
		return storage.StreamID{Millis: millis, Seq: 0}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return storage.StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return storage.StreamID{Millis: millis, Seq: seq}, nil
}

// parseRangeBound resolves "-"/"+"/"a"/"a-b" forms used by XRANGE's start
// and end arguments. isStart controls the default seq a bare "a" expands
// to: 0 for start, max-uint64 for end (§4.5).
func parseRangeBound(text string, isStart bool) (storage.StreamID, error) {
	switch text {
	case "-":
		return storage.MinStreamID, nil
	case "+":
		return storage.MaxStreamID, nil
	}

	millisPart, seqPart, hasSeq := strings.Cut(text, "-")
	millis, err := strconv.ParseUint(millisPart, 10, 64)
	if err != nil {
		return storage.StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if hasSeq {
		seq, err := strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return storage.StreamID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
		}
		return storage.StreamID{Millis: millis, Seq: seq}, nil
	}

	if isStart {
		return storage.StreamID{Millis: millis, Seq: 0}, nil
	}
	return storage.StreamID{Millis: millis, Seq: ^uint64(0)}, nil
}
