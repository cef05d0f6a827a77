package m3u8

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videocache/internal/verrors"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseMaster_SelectsHighestBandwidth(t *testing.T) {
	body := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1920x1080
high/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1400000,RESOLUTION=1280x720
mid/index.m3u8
`
	base := mustParseURL(t, "https://cdn.example.com/video/master.m3u8")
	variantURL, err := ParseMaster(body, base)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/video/high/index.m3u8", variantURL)
}

func TestParseMaster_NoVariants(t *testing.T) {
	_, err := ParseMaster("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\n", nil)
	assert.Error(t, err)
}

func TestParseMedia_DurationsAndFallback(t *testing.T) {
	body := `#EXTM3U
#EXT-X-VERSION:3
#EXTINF:9.009,
seg1.ts
#EXTINF:invalid,
seg2.ts
#EXTINF:10.500,title
seg3.ts
#EXT-X-ENDLIST
`
	base := mustParseURL(t, "https://cdn.example.com/video/index.m3u8")
	pl := ParseMedia(body, base)
	require.Len(t, pl.Segments, 3)

	assert.Equal(t, "https://cdn.example.com/video/seg1.ts", pl.Segments[0].URL)
	assert.InDelta(t, 9.009, pl.Segments[0].Duration, 0.0001)
	assert.InDelta(t, fallbackDuration, pl.Segments[1].Duration, 0.0001)
	assert.InDelta(t, 10.5, pl.Segments[2].Duration, 0.0001)

	assert.Equal(t, "00001.ts", pl.Segments[0].Filename)
	assert.Equal(t, "00002.ts", pl.Segments[1].Filename)
	assert.Equal(t, "00003.ts", pl.Segments[2].Filename)

	assert.InDelta(t, 9.009+fallbackDuration+10.5, pl.TotalDuration, 0.0001)
	assert.Equal(t, 11, pl.TargetDuration()) // ceil(10.5)
}

func TestSaveLocalPartial_IsIdempotentAndWellFormed(t *testing.T) {
	pl := &Playlist{Segments: []Segment{
		{Index: 1, Filename: "00001.ts", Duration: 9.009},
		{Index: 2, Filename: "00002.ts", Duration: 10.5},
	}}

	first := SaveLocalPartial(pl)
	second := SaveLocalPartial(pl)
	assert.Equal(t, first, second)

	assert.True(t, strings.HasPrefix(first, "#EXTM3U\n"))
	assert.True(t, strings.HasSuffix(first, "#EXT-X-ENDLIST\n"))
	assert.Contains(t, first, "#EXT-X-TARGETDURATION:11\n")
	assert.Contains(t, first, "00001.ts")
	assert.Contains(t, first, "00002.ts")
}

func TestSaveLocalPartial_WholeSecondDurationKeepsDecimalForm(t *testing.T) {
	pl := &Playlist{Segments: []Segment{
		{Index: 1, Filename: "00001.ts", Duration: 6.0},
	}}

	out := SaveLocalPartial(pl)
	assert.Contains(t, out, "#EXTINF:6.000,\n")
	assert.NotContains(t, out, "#EXTINF:6,\n")
}

func TestSaveLocalFinal_MissingSegmentsError(t *testing.T) {
	pl := &Playlist{Segments: []Segment{
		{Index: 1, Filename: "00001.ts", Duration: 9.009},
		{Index: 2, Filename: "00002.ts", Duration: 10.5},
	}}

	_, err := SaveLocalFinal(pl, map[string]bool{"00001.ts": true})
	assert.ErrorIs(t, err, verrors.ErrMissingSegments)
}

func TestSaveLocalFinal_AllDownloaded(t *testing.T) {
	pl := &Playlist{Segments: []Segment{
		{Index: 2, Filename: "00002.ts", Duration: 10.5},
		{Index: 1, Filename: "00001.ts", Duration: 9.009},
	}}

	out, err := SaveLocalFinal(pl, map[string]bool{"00001.ts": true, "00002.ts": true})
	require.NoError(t, err)

	firstIdx := strings.Index(out, "00001.ts")
	secondIdx := strings.Index(out, "00002.ts")
	assert.Less(t, firstIdx, secondIdx, "final playlist must be sorted by index")
	assert.True(t, strings.HasSuffix(out, "#EXT-X-ENDLIST\n"))
}
