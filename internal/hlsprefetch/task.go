// Package hlsprefetch implements the HLS Prefetcher (§4.G): a priority
// worker pool that walks a parsed playlist's segments, downloads them into
// a task-scoped directory, and rewrites index.m3u8 each time a segment
// lands on disk.
//
// Grounded on the teacher's internal/task/manager.go for the
// cache/completed/failed bookkeeping shape and internal/downloader/aria2.go
// for the download-loop/retry structure, but the transport is the Origin
// Client (§4.D) directly rather than delegating to an aria2 sidecar, and
// concurrency is a golang.org/x/sync/errgroup pool with a
// golang.org/x/time/rate limiter standing in for the spec's "50ms stagger
// between priority-1 enqueues" instead of a hand-rolled ticker.
package hlsprefetch

import (
	"container/heap"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"videocache/internal/cachekey"
	"videocache/internal/m3u8"
	"videocache/internal/originclient"
	"videocache/internal/vconfig"
	"videocache/internal/verrors"
	"videocache/internal/xlog"
	"videocache/internal/xmetrics"
)

const (
	segmentBlockSize   = 8 * 1024
	segmentFetchTimeout = 15 * time.Second
	priorityStagger    = 50 * time.Millisecond
)

// Task manages prefetching of one HLS stream (§3 M3U8Cache).
type Task struct {
	cfg    vconfig.Config
	origin *originclient.Client
	store  *Store
	listener Listener
	log    zerolog.Logger

	taskID  string
	rawURL  string
	dir     string // <cache-dir>/video-cache/m3u8/<taskID>
	limiter *rate.Limiter

	mu       sync.RWMutex // guards playlist and downloaded, per §5
	playlist *m3u8.Playlist
	downloaded map[string]bool

	completed           atomic.Int64
	failed              atomic.Int64
	consecutiveFailures atomic.Int64
	canceled            atomic.Bool
	downloading         atomic.Bool
	readyNotified       atomic.Bool
	completeNotified    atomic.Bool
	currentPlaying      atomic.Int64

	queueMu sync.Mutex
	queue   taskHeap
	wake    chan struct{}

	cancel context.CancelFunc
}

// New builds a Task for rawURL rooted under cacheDir (§6 on-disk layout).
func New(cacheDir, rawURL string, cfg vconfig.Config, origin *originclient.Client, store *Store, listener Listener) *Task {
	if listener == nil {
		listener = NoopListener{}
	}
	taskID := cachekey.Digest(rawURL)
	t := &Task{
		cfg:        cfg,
		origin:     origin,
		store:      store,
		listener:   listener,
		log:        xlog.Component("hlsprefetch").With().Str("task", taskID).Logger(),
		taskID:     taskID,
		rawURL:     rawURL,
		dir:        filepath.Join(cacheDir, "video-cache", "m3u8", taskID),
		limiter:    rate.NewLimiter(rate.Every(priorityStagger), 1),
		downloaded: map[string]bool{},
		wake:       make(chan struct{}, 1),
	}
	return t
}

// PlaylistPath returns the path of the rewritten local playlist.
func (t *Task) PlaylistPath() string {
	return filepath.Join(t.dir, "index.m3u8")
}

// Canceled reports whether the task has been canceled, explicitly or via
// failure gating (§3 M3U8Cache.canceled).
func (t *Task) Canceled() bool {
	return t.canceled.Load()
}

// IsCompleted reports whether every known segment is either downloaded or
// permanently failed.
func (t *Task) IsCompleted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.playlist == nil {
		return false
	}
	return int(t.completed.Load()+t.failed.Load()) >= len(t.playlist.Segments)
}

// SetCurrentPlayingSegment updates the playback position used to bias
// priority classification (§4.G).
func (t *Task) SetCurrentPlayingSegment(i int) {
	t.currentPlaying.Store(int64(i))
}

// Cache bootstraps the task (§4.G public op "cache(url)"): fetches and
// parses the (possibly master) playlist, persists segment rows, writes the
// initial partial playlist, and starts the worker pool.
func (t *Task) Cache(ctx context.Context) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return errors.Wrap(err, "create hls working dir")
	}
	if err := writeEmptyTS(t.dir); err != nil {
		t.log.Warn().Err(err).Msg("failed to write empty.ts placeholder")
	}

	playlist, err := t.resolvePlaylist(ctx, t.rawURL)
	if err != nil {
		return errors.Wrap(err, "resolve playlist")
	}

	t.mu.Lock()
	t.playlist = playlist
	t.mu.Unlock()

	for _, seg := range playlist.Segments {
		if err := t.store.UpsertSegment(t.taskID, seg.Filename, seg.Index, seg.URL); err != nil {
			return err
		}
	}
	downloaded, err := t.store.DownloadedSet(t.taskID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.downloaded = downloaded
	t.mu.Unlock()
	t.completed.Store(int64(len(downloaded)))

	if err := t.rewritePartial(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.downloading.Store(true)
	xmetrics.HLSActiveTasks.Inc()

	t.EnsureSegmentsCached(0, t.cfg.BufferSegmentsAhead)
	go t.run(runCtx)
	return nil
}

// resolvePlaylist follows the master->media chain described in §4.F,
// fetching each level with the Origin Client.
func (t *Task) resolvePlaylist(ctx context.Context, rawURL string) (*m3u8.Playlist, error) {
	current := rawURL
	for hop := 0; hop < 5; hop++ {
		fetchCtx, cancel := context.WithTimeout(ctx, segmentFetchTimeout)
		resp, err := t.origin.Fetch(fetchCtx, current, "")
		cancel()
		if err != nil {
			return nil, err
		}
		body, readErr := m3u8.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		base, _ := url.Parse(current)
		if m3u8.Detect(body) == m3u8.Master {
			variantURL, err := m3u8.ParseMaster(body, base)
			if err != nil {
				return nil, err
			}
			current = variantURL
			continue
		}
		return m3u8.ParseMedia(body, base), nil
	}
	return nil, errors.New("too many master playlist redirections")
}

// EnsureSegmentsCached (§4.G public op) enqueues every segment not yet
// recorded as downloaded, classified by priorityFor: the window
// [start, start+BUFFER_AHEAD) and the first MinSegmentsForPlayback segments
// at priority 1, the following window of the same width at priority 2, and
// all others at priority 3. When end extends past start+BUFFER_AHEAD, the
// priority-1 window runs to end instead and both windows take that width.
func (t *Task) EnsureSegmentsCached(start, end int) {
	t.mu.RLock()
	playlist := t.playlist
	t.mu.RUnlock()
	if playlist == nil {
		return
	}

	minSeg := t.cfg.MinSegmentsForPlayback
	bufferAhead := t.cfg.BufferSegmentsAhead
	windowEnd := start + bufferAhead
	if end > windowEnd {
		windowEnd = end
	}

	for _, seg := range playlist.Segments {
		if t.alreadyDone(seg.Filename) {
			continue
		}
		idx := segmentIndexFromFilename(seg.Filename)
		priority := priorityFor(idx, start, minSeg, windowEnd-start)
		t.enqueue(downloadTask{segment: seg, priority: priority, index: idx})
	}
}

func (t *Task) alreadyDone(filename string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.downloaded[filename]
}

func (t *Task) enqueue(task downloadTask) {
	t.queueMu.Lock()
	heap.Push(&t.queue, task)
	t.queueMu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Task) popNext() (downloadTask, bool) {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	if t.queue.Len() == 0 {
		return downloadTask{}, false
	}
	return heap.Pop(&t.queue).(downloadTask), true
}

// run drives the bounded worker pool until every enqueued segment resolves
// or the task is canceled (§4.G scheduling, §5 worker pool).
func (t *Task) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.WorkerPoolMax)

	for {
		if t.canceled.Load() {
			break
		}
		task, ok := t.popNext()
		if !ok {
			select {
			case <-t.wake:
				continue
			case <-gctx.Done():
				goto drain
			case <-time.After(100 * time.Millisecond):
				if t.allResolved() {
					goto drain
				}
				continue
			}
		}

		if task.priority == 1 {
			_ = t.limiter.Wait(gctx)
		} else {
			delay := time.Duration(task.index%1000) * time.Millisecond
			if delay > time.Second {
				delay = time.Second
			}
			time.Sleep(delay)
		}

		seg := task.segment
		g.Go(func() error {
			t.downloadSegment(gctx, seg)
			return nil
		})
	}

drain:
	_ = g.Wait()
	t.downloading.Store(false)
	xmetrics.HLSActiveTasks.Dec()
	t.notifyComplete()
}

// notifyComplete fires OnComplete exactly once (§8 Scenario 4): success is
// true only if every segment resolved without the task being canceled by a
// failure gate.
func (t *Task) notifyComplete() {
	if !t.completeNotified.CompareAndSwap(false, true) {
		return
	}
	success := !t.canceled.Load() && t.allResolved()
	t.listener.OnComplete(t.rawURL, success)
}

func (t *Task) allResolved() bool {
	t.mu.RLock()
	total := 0
	if t.playlist != nil {
		total = len(t.playlist.Segments)
	}
	t.mu.RUnlock()
	return int(t.completed.Load()+t.failed.Load()) >= total
}

// downloadSegment fetches one segment to a .tmp file and renames it into
// place on success (§4.G "Download per segment").
func (t *Task) downloadSegment(ctx context.Context, seg m3u8.Segment) {
	if t.canceled.Load() {
		return
	}

	finalPath := filepath.Join(t.dir, seg.Filename)
	if fi, err := os.Stat(finalPath); err == nil && fi.Size() > 0 {
		t.onSegmentDone(seg)
		return
	}

	segURL := seg.URL
	if working := findWorkingTSURL(ctx, t.cfg.Headers, seg.URL, t.cfg.FallbackBaseURLs); working != "" {
		segURL = working
	}

	tmpPath := finalPath + ".tmp"
	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxSegmentRetryCount; attempt++ {
		if t.canceled.Load() {
			_ = os.Remove(tmpPath)
			return
		}
		if err := t.fetchToFile(ctx, segURL, tmpPath); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		_ = os.Remove(tmpPath)
		failures, _ := t.store.IncrementFailure(t.taskID, seg.Filename)
		t.log.Warn().Err(lastErr).Str("segment", seg.Filename).Int("failures", failures).Msg("segment fetch failed")
		t.onSegmentFailed(seg, lastErr)
		return
	}

	if fi, err := os.Stat(tmpPath); err != nil || fi.Size() == 0 {
		_ = os.Remove(tmpPath)
		t.onSegmentFailed(seg, errors.New("downloaded segment was empty"))
		return
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		t.onSegmentFailed(seg, errors.Wrap(err, "rename segment into place"))
		return
	}

	if err := t.store.MarkDownloaded(t.taskID, seg.Filename); err != nil {
		t.log.Warn().Err(err).Msg("failed to persist segment completion")
	}
	xmetrics.HLSSegmentsTotal.WithLabelValues("downloaded").Inc()
	t.onSegmentDone(seg)
}

func (t *Task) fetchToFile(ctx context.Context, url, tmpPath string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, segmentFetchTimeout)
	defer cancel()

	resp, err := t.origin.Fetch(fetchCtx, url, "")
	if err != nil {
		return errors.Wrap(verrors.ErrSegmentFetchFailed, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errors.Wrapf(verrors.ErrSegmentFetchFailed, "upstream status %d", resp.StatusCode)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "create tmp segment file")
	}
	defer f.Close()

	buf := make([]byte, segmentBlockSize)
	for {
		if t.canceled.Load() {
			return errors.New("canceled mid-write")
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return errors.Wrap(err, "write tmp segment block")
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return errors.Wrap(readErr, "read segment body")
		}
	}
}

// onSegmentDone implements §4.G's "after each successful segment" sequence.
func (t *Task) onSegmentDone(seg m3u8.Segment) {
	t.mu.Lock()
	t.downloaded[seg.Filename] = true
	t.mu.Unlock()

	t.consecutiveFailures.Store(0)
	completed := t.completed.Add(1)

	if err := t.rewritePartial(); err != nil {
		t.log.Warn().Err(err).Msg("failed to rewrite partial playlist")
	}

	t.mu.RLock()
	total := 0
	if t.playlist != nil {
		total = len(t.playlist.Segments)
	}
	t.mu.RUnlock()
	t.listener.OnProgress(t.rawURL, int(completed), total)

	if !t.readyNotified.Load() && completed >= int64(t.cfg.MinSegmentsForPlayback) {
		t.readyNotified.Store(true)
		t.listener.OnReadyForPlayback(t.PlaylistPath())
	}
}

// onSegmentFailed implements §4.G's failure gating: a segment exhausting its
// retries bumps failed/consecutive_failures and may trip cancellation.
func (t *Task) onSegmentFailed(seg m3u8.Segment, err error) {
	xmetrics.HLSSegmentsTotal.WithLabelValues("failed").Inc()
	t.failed.Add(1)
	consecutive := t.consecutiveFailures.Add(1)
	t.listener.OnError(t.rawURL, errors.Wrap(err, "segment "+seg.Filename))

	if consecutive >= int64(t.cfg.MaxConsecutiveFailures) {
		t.cancelWithError(errors.Wrapf(verrors.ErrPrefetchAborted, "continuous %d downloads failed", t.cfg.MaxConsecutiveFailures))
		return
	}
	if t.failed.Load() >= int64(t.cfg.MaxTotalFailures) {
		t.cancelWithError(errors.Wrapf(verrors.ErrPrefetchAborted, "total failures reached %d", t.cfg.MaxTotalFailures))
	}
}

func (t *Task) cancelWithError(err error) {
	t.Cancel()
	t.listener.OnError(t.rawURL, err)
}

// Cancel implements §4.G/§5's cancellation contract: flips canceled, stops
// the pool, and lets in-flight downloads delete their .tmp on their next
// loop turn.
func (t *Task) Cancel() {
	if !t.canceled.CompareAndSwap(false, true) {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// UpdatePartialM3U8 triggers an on-demand rewrite (§4.G public op), a no-op
// if the task isn't actively downloading.
func (t *Task) UpdatePartialM3U8() {
	if !t.downloading.Load() {
		return
	}
	if err := t.rewritePartial(); err != nil {
		t.log.Warn().Err(err).Msg("on-demand partial rewrite failed")
	}
}

func (t *Task) rewritePartial() error {
	t.mu.RLock()
	playlist := t.playlist
	t.mu.RUnlock()
	if playlist == nil {
		return nil
	}
	content := m3u8.SaveLocalPartial(playlist)
	return os.WriteFile(t.PlaylistPath(), []byte(content), 0o644)
}
