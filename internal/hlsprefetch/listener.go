package hlsprefetch

// Listener receives the HLS prefetcher's host callbacks (§4.G step "after
// each successful segment", §8 Scenario 4 on_complete, §9). A Task holds one
// non-owning reference.
type Listener interface {
	OnProgress(url string, completed, total int)
	OnReadyForPlayback(playlistPath string)
	OnError(url string, err error)
	OnComplete(url string, success bool)
}

// NoopListener discards every callback.
type NoopListener struct{}

func (NoopListener) OnProgress(string, int, int) {}
func (NoopListener) OnReadyForPlayback(string)   {}
func (NoopListener) OnError(string, error)       {}
func (NoopListener) OnComplete(string, bool)     {}
