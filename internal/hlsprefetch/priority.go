package hlsprefetch

import (
	"regexp"
	"strconv"

	"videocache/internal/m3u8"
)

// segmentIndexPattern matches digits following the last '_' before the last
// '.' in a filename, e.g. "seg_0042.ts" -> "0042" (§4.G).
var segmentIndexPattern = regexp.MustCompile(`_([0-9]+)\.[^.]*$`)

// allDigitsPattern matches a filename stem's digits when there's no
// underscore-delimited index, e.g. "0042.ts" -> "0042".
var allDigitsPattern = regexp.MustCompile(`([0-9]+)`)

const unknownSegmentIndex = 999999

// segmentIndexFromFilename recovers a segment's ordinal from its filename
// (§4.G: "digits following the last _ before the last ., else all digits,
// else 999999"). Used for priority classification and tie-breaking so
// scheduling never depends on the order segments happened to be enqueued in.
func segmentIndexFromFilename(filename string) int {
	if m := segmentIndexPattern.FindStringSubmatch(filename); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if m := allDigitsPattern.FindString(filename); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	return unknownSegmentIndex
}

// priorityFor classifies a segment index into priority classes 1, 2 and 3
// (§4.G); 1 is highest.
func priorityFor(index, currentPlaying, minSegments, bufferAhead int) int {
	if index <= minSegments {
		return 1
	}
	if index >= currentPlaying && index < currentPlaying+bufferAhead {
		return 1
	}
	if index >= currentPlaying+bufferAhead && index < currentPlaying+2*bufferAhead {
		return 2
	}
	return 3
}

// downloadTask is one unit of prefetch work.
type downloadTask struct {
	segment  m3u8.Segment
	priority int
	index    int // tie-breaker, from segmentIndexFromFilename
}

// taskHeap is a container/heap priority queue ordered by (priority asc,
// index asc) — lower priority number and lower segment index go first.
type taskHeap []downloadTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].index < h[j].index
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(downloadTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

