package m3u8

import (
	"fmt"
	"sort"
	"strings"

	"videocache/internal/verrors"
)

// SaveLocalPartial renders the rewritten playlist used while the prefetcher
// is still downloading (§4.F save_local_m3u8_partial): every segment is
// emitted in playlist order under its local filename whether or not it has
// been downloaded yet, so the duration sum (and therefore seek math) is
// preserved even with gaps. Calling this repeatedly with the same Playlist
// produces byte-identical output — nothing here depends on download state.
func SaveLocalPartial(pl *Playlist) string {
	var b strings.Builder
	writeHeader(&b, pl)
	for _, seg := range pl.Segments {
		writeSegment(&b, seg)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// SaveLocalFinal renders the same playlist restricted to downloaded
// segments, sorted by playlist index (§4.F save_local_m3u8_final). downloaded
// reports completion by filename. Returns ErrMissingSegments if any segment
// in pl hasn't finished downloading — finalization requires the whole set.
func SaveLocalFinal(pl *Playlist, downloaded map[string]bool) (string, error) {
	segs := make([]Segment, len(pl.Segments))
	copy(segs, pl.Segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })

	for _, seg := range segs {
		if !downloaded[seg.Filename] {
			return "", verrors.ErrMissingSegments
		}
	}

	var b strings.Builder
	writeHeader(&b, pl)
	for _, seg := range segs {
		writeSegment(&b, seg)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}

func writeHeader(b *strings.Builder, pl *Playlist) {
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(b, "#EXT-X-TARGETDURATION:%d\n", pl.TargetDuration())
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString("#EXT-X-START:TIME-OFFSET=0\n")
}

func writeSegment(b *strings.Builder, seg Segment) {
	fmt.Fprintf(b, "#EXTINF:%s,\n", formatDuration(seg.Duration))
	b.WriteString(seg.Filename)
	b.WriteByte('\n')
}

// formatDuration renders a segment duration to millisecond precision
// (EXTINF:6.000, not EXTINF:6), matching the literal form the spec's own
// playlist scenarios show.
func formatDuration(d float64) string {
	return fmt.Sprintf("%.3f", d)
}
