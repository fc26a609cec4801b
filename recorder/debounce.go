package recorder

import "time"

// debounceConfig controls upload batching once the document is complete.
type debounceConfig struct {
	// Window is the quiet period before a flush. Default: 100ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 100 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// debouncer restarts its window on every burst of records and reports when
// the buffer is large enough to flush without waiting.
type debouncer struct {
	cfg     debounceConfig
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newDebouncer(cfg debounceConfig) *debouncer {
	cfg.defaults()
	return &debouncer{cfg: cfg}
}

// touch (re)starts the window. It returns true when buffered has reached
// MaxBuffer and the caller should flush now.
func (d *debouncer) touch(buffered int) bool {
	if buffered >= d.cfg.MaxBuffer {
		d.stop()
		return true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the window expires. It is nil
// while no window is running.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
