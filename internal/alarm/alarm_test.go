package alarm

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 14, 9, 40, 0, 0, time.Local)

func TestParse(t *testing.T) {
	tests := []struct {
		text  string
		time  string
		label string
	}{
		{"recuérdame en 10 minutos sacar la comida del horno", "09:50", "sacar la comida del horno"},
		{"avísame en una hora", "10:40", DefaultLabel},
		{"pon una alarma en media hora para la reunión", "10:10", "la reunión"},
		{"en 2 horas que llame a mi mamá", "11:40", "llame a mi mamá"},
		{"despiértame a las 7 de la mañana", "07:00", DefaultLabel},
		{"alarma a las 3:15 de la tarde para el dentista", "15:15", "el dentista"},
		{"pon una alarma a las 8 y media de la noche", "20:30", DefaultLabel},
		{"a las 12 de la noche", "00:00", DefaultLabel},
		{"a la una de la tarde", "13:00", DefaultLabel},
		{"a las 18:05", "18:05", DefaultLabel},
		{"recuérdame sacar la basura en 5 minutos", "09:45", "sacar la basura"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			a, err := Parse(tt.text, base)
			require.NoError(t, err)
			assert.Equal(t, tt.time, a.TriggerTime)
			assert.Equal(t, tt.label, a.Label)
			assert.NotEmpty(t, a.ID)
		})
	}
}

func TestParse_NoTime(t *testing.T) {
	_, err := Parse("pon una alarma", base)
	assert.ErrorIs(t, err, ErrNoTime)

	_, err = Parse("a las 25", base)
	assert.Error(t, err)
}

func TestBookDueRemovesOnce(t *testing.T) {
	b := NewBook()
	b.Add(Alarm{ID: "1", TriggerTime: "09:45"})
	b.Add(Alarm{ID: "2", TriggerTime: "09:45"})
	b.Add(Alarm{ID: "3", TriggerTime: "10:00"})

	due := b.Due(time.Date(2026, 10, 14, 9, 45, 30, 0, time.Local))
	require.Len(t, due, 2)
	assert.Equal(t, "1", due[0].ID, "insertion order kept")
	assert.Empty(t, b.Due(time.Date(2026, 10, 14, 9, 45, 50, 0, time.Local)), "fires once per minute")
	assert.Len(t, b.List(), 1)
}

func TestWatcherCheck(t *testing.T) {
	b := NewBook()
	b.Add(Alarm{ID: "x", TriggerTime: "09:45", Label: "té"})

	var mu sync.Mutex
	var fired []Alarm
	w, err := NewWatcher(b, time.Second, func(a Alarm) {
		mu.Lock()
		fired = append(fired, a)
		mu.Unlock()
	}, zerolog.Nop())
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2026, 10, 14, 9, 45, 0, 0, time.Local) }

	w.Check()
	w.Check()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.Equal(t, "té", fired[0].Label)
}

func TestWatcherStartStop(t *testing.T) {
	w, err := NewWatcher(NewBook(), 50*time.Millisecond, func(Alarm) {}, zerolog.Nop())
	require.NoError(t, err)
	w.Start()
	ctx := w.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
