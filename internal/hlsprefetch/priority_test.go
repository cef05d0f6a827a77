package hlsprefetch

import "testing"

func TestSegmentIndexFromFilename(t *testing.T) {
	cases := map[string]int{
		"seg_0042.ts":    42,
		"chunk_7.ts":     7,
		"00001.ts":       1,
		"no-digits-here": unknownSegmentIndex,
	}
	for filename, want := range cases {
		if got := segmentIndexFromFilename(filename); got != want {
			t.Errorf("segmentIndexFromFilename(%q) = %d, want %d", filename, got, want)
		}
	}
}

func TestPriorityFor(t *testing.T) {
	const minSeg, bufferAhead = 3, 8

	// First MINIMUM_SEGMENTS_FOR_PLAYBACK are always priority 1.
	for i := 1; i <= minSeg; i++ {
		if got := priorityFor(i, 100, minSeg, bufferAhead); got != 1 {
			t.Errorf("priorityFor(%d, current=100) = %d, want 1 (bootstrap window)", i, got)
		}
	}

	// The BUFFER_AHEAD window adjacent to current playback is priority 1.
	if got := priorityFor(20, 15, minSeg, bufferAhead); got != 1 {
		t.Errorf("priorityFor(20, current=15) = %d, want 1", got)
	}

	// The next BUFFER_AHEAD window beyond that is priority 2.
	if got := priorityFor(28, 15, minSeg, bufferAhead); got != 2 {
		t.Errorf("priorityFor(28, current=15) = %d, want 2", got)
	}

	// Everything else is priority 3.
	if got := priorityFor(500, 15, minSeg, bufferAhead); got != 3 {
		t.Errorf("priorityFor(500, current=15) = %d, want 3", got)
	}
}

func TestTaskHeap_OrdersByPriorityThenIndex(t *testing.T) {
	h := taskHeap{
		{priority: 3, index: 1},
		{priority: 1, index: 5},
		{priority: 1, index: 2},
		{priority: 2, index: 0},
	}
	if !h.Less(2, 1) {
		t.Fatalf("expected (priority=1,index=2) to sort before (priority=1,index=5)")
	}
	if !h.Less(1, 3) {
		t.Fatalf("expected priority=1 to sort before priority=2")
	}
}
