package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUtterance_CollapsesAndLowercases(t *testing.T) {
	u := NewUtterance("  ¿Cuál es   el Precio\tde BITCOIN?  ")
	assert.Equal(t, "¿cuál es el precio de bitcoin?", u.Lower)
	assert.False(t, u.Empty())
	assert.True(t, NewUtterance(" \t\n").Empty())
}

func TestUtterance_ContainsAny(t *testing.T) {
	u := NewUtterance("Pon música de salsa")
	assert.True(t, u.ContainsAny([]string{"rock", "música"}))
	assert.False(t, u.ContainsAny([]string{"rock", "jazz"}))
}

func TestLog_CapDropsOldest(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append(Turn{Role: RoleUser, Text: fmt.Sprint(i)})
	}
	require.Equal(t, 3, l.Len())
	turns := l.Turns()
	assert.Equal(t, "2", turns[0].Text)
	assert.Equal(t, "4", turns[2].Text)
}

func TestLog_WindowNeverExceedsSize(t *testing.T) {
	l := NewLog(50)
	for i := 0; i < 120; i++ {
		l.Append(Turn{Role: RoleUser, Text: fmt.Sprint(i)})
		w := l.Window(15)
		assert.LessOrEqual(t, len(w), 15)
		assert.Equal(t, fmt.Sprint(i), w[len(w)-1].Text)
	}
	assert.Equal(t, 50, l.Len())
}

func TestLog_WindowIsCopy(t *testing.T) {
	l := NewLog(0, Turn{Role: RoleUser, Text: "hola"})
	w := l.Window(5)
	w[0].Text = "cambiado"
	assert.Equal(t, "hola", l.Turns()[0].Text)
}

func TestTail_NonPositive(t *testing.T) {
	assert.Nil(t, Tail([]Turn{{Text: "a"}}, 0))
}
