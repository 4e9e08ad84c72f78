package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Watcher checks a Book on a fixed interval and fires due alarms. It never
// touches the conversation pipeline.
type Watcher struct {
	cron *cron.Cron
	book *Book
	fire func(Alarm)
	now  func() time.Time
	log  zerolog.Logger
}

// NewWatcher schedules a check every interval.
func NewWatcher(book *Book, interval time.Duration, fire func(Alarm), log zerolog.Logger) (*Watcher, error) {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	w := &Watcher{cron: cron.New(), book: book, fire: fire, now: time.Now, log: log}
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", interval), w.Check); err != nil {
		return nil, fmt.Errorf("schedule alarm watcher: %w", err)
	}
	return w, nil
}

// Check fires every alarm due this minute.
func (w *Watcher) Check() {
	for _, a := range w.book.Due(w.now()) {
		w.log.Info().Str("alarm", a.ID).Str("time", a.TriggerTime).Str("label", a.Label).Msg("alarm fired")
		w.fire(a)
	}
}

// Start begins the schedule.
func (w *Watcher) Start() { w.cron.Start() }

// Stop halts the schedule and returns a context done when running checks finish.
func (w *Watcher) Stop() context.Context { return w.cron.Stop() }
