package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseThousands(t *testing.T) {
	tests := []struct{ in, want string }{
		{"384.400", "384400"},
		{"la luna está a 384.400 km", "la luna está a 384400 km"},
		{"1.234.567 personas", "1234567 personas"},
		{"cuesta 3.50", "cuesta 3.50"},
		{"versión 1.2345", "versión 1.2345"},
		{"fin.", "fin."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseThousands(tt.in), tt.in)
	}
}

func TestSpeakCurrency(t *testing.T) {
	tests := []struct{ in, want string }{
		{"$100", "100 dólares"},
		{"cuesta $ 45.50.", "cuesta 45.50 dólares."},
		{"son 20$", "son 20 dólares"},
		{"€30", "30 euros"},
		{"Bs. 250,75", "250,75 bolívares"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SpeakCurrency(tt.in), tt.in)
	}
}

func TestSpeech(t *testing.T) {
	got := Speech("*sonríe* El **BTC** está en $65.000 hoy 🚀 [pensando] ¡Genial!")
	assert.Equal(t, "El está en 65000 dólares hoy ¡Genial!", got)

	got = Speech("El BTC cotiza en 65000.12 USD")
	assert.Equal(t, "El be te ce cotiza en 65000.12 u ese de", got)
	assert.NotContains(t, got, "BTC")

	assert.Equal(t, "La XYZ es nueva", Speech("La XYZ es nueva"), "unknown acronyms pass through")
	assert.Equal(t, "Titular", Speech("## Titular"))
}

func TestSpeechEndsWithUnitWord(t *testing.T) {
	assert.Equal(t, "Te sale en 100 dólares", Speech("Te sale en $100"))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "Hola amigo", Display("**Hola** *amigo*"))
	assert.Equal(t, "Titular\nTexto 🚀", Display("# Titular\nTexto 🚀"))
}

func TestDetectEmotion(t *testing.T) {
	tests := []struct {
		in   string
		want Emotion
	}{
		{"Te quiero mucho, ¡felicidades!", EmotionLove},
		{"¡Felicidades por tu cumpleaños!", EmotionParty},
		{"Eso está que arde, pura candela", EmotionFire},
		{"¡Qué idea tan brillante!", EmotionMagic},
		{"El clima está nublado", EmotionNone},
		{"Es el momento ideal para amortizar la deuda", EmotionNone},
		{"Vamos a celebrarlo en grande", EmotionParty},
		{"Estoy enamorada de esa canción", EmotionLove},
		{"Te lo mando con ❤", EmotionLove},
		{"Los incendios forestales del fuego-fatuo", EmotionFire},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectEmotion(tt.in), tt.in)
	}
}

func TestProcessImageMarker(t *testing.T) {
	out := Process("Claro, aquí va.\nGENERAR_IMAGEN: un gato astronauta en Marte\nListo")
	assert.Equal(t, ImagePlaceholder, out.Display)
	assert.Equal(t, ImagePlaceholder, out.Speech)
	assert.Equal(t, "un gato astronauta en Marte", out.ImagePrompt)

	_, ok := ExtractImagePrompt("GENERAR_IMAGEN:   ")
	assert.False(t, ok)
}

func TestProcess(t *testing.T) {
	out := Process("*Ríe* ¡Qué **fiesta**!")
	assert.Equal(t, "Ríe ¡Qué fiesta!", out.Display)
	assert.Equal(t, "¡Qué!", out.Speech)
	assert.Equal(t, EmotionParty, out.Emotion)
	assert.Empty(t, out.ImagePrompt)
}
