package enrich

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/danielpatrickdp/olga/go-assistant/internal/alarm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
)

// #region alarm

// Alarm schedules reminders from spoken requests.
type Alarm struct {
	keywords
}

// NewAlarm creates the alarm enricher.
func NewAlarm() *Alarm {
	return &Alarm{keywords: keywords{name: "alarm", words: []string{
		"alarma", "despiértame", "despiertame", "recuérdame", "recuerdame",
		"avísame en", "avisame en", "avísame a las", "avisame a las",
	}}}
}

func (a *Alarm) Enrich(_ context.Context, u conversation.Utterance, snap Snapshot, fx Effects) (*Fragment, error) {
	al, err := alarm.Parse(u.Lower, snap.Now)
	if errors.Is(err, alarm.ErrNoTime) {
		return &Fragment{Text: "[ALARMA] El usuario quiere una alarma pero no dijo la hora. Pregúntale a qué hora la quiere."}, nil
	}
	if err != nil {
		return &Fragment{Text: "[ALARMA] La hora indicada no es válida. Pídele al usuario que la repita."}, nil
	}
	fx.AddAlarm(al)
	return &Fragment{Text: fmt.Sprintf("[ALARMA PROGRAMADA] Quedó una alarma para las %s (motivo: %s). Confírmalo brevemente.", al.TriggerTime, al.Label)}, nil
}

// #endregion alarm

// #region tarot

// Arcana is a major arcana card.
type Arcana struct {
	Number  int
	Name    string
	Meaning string
}

// MajorArcana is the 22-card deck.
var MajorArcana = []Arcana{
	{0, "El Loco", "nuevos comienzos, espontaneidad y fe en el camino"},
	{1, "El Mago", "voluntad, habilidad y poder de manifestar"},
	{2, "La Sacerdotisa", "intuición, misterio y sabiduría interior"},
	{3, "La Emperatriz", "abundancia, creatividad y cuidado"},
	{4, "El Emperador", "estructura, autoridad y estabilidad"},
	{5, "El Hierofante", "tradición, guía espiritual y aprendizaje"},
	{6, "Los Enamorados", "amor, elecciones y armonía"},
	{7, "El Carro", "determinación, control y victoria"},
	{8, "La Fuerza", "coraje, paciencia y dominio de sí"},
	{9, "El Ermitaño", "introspección, búsqueda y soledad fértil"},
	{10, "La Rueda de la Fortuna", "ciclos, destino y cambios de suerte"},
	{11, "La Justicia", "equilibrio, verdad y consecuencias"},
	{12, "El Colgado", "pausa, entrega y nuevas perspectivas"},
	{13, "La Muerte", "transformación, cierre y renacimiento"},
	{14, "La Templanza", "moderación, paciencia y sanación"},
	{15, "El Diablo", "ataduras, deseo y sombras por liberar"},
	{16, "La Torre", "ruptura súbita, revelación y liberación"},
	{17, "La Estrella", "esperanza, inspiración y renovación"},
	{18, "La Luna", "ilusión, sueños y miedos ocultos"},
	{19, "El Sol", "alegría, éxito y vitalidad"},
	{20, "El Juicio", "despertar, llamado y segunda oportunidad"},
	{21, "El Mundo", "plenitud, logro y cierre de ciclo"},
}

// Tarot draws one major arcana card.
type Tarot struct {
	keywords
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTarot creates the tarot enricher drawing from rng.
func NewTarot(rng *rand.Rand) *Tarot {
	return &Tarot{
		keywords: keywords{name: "tarot", words: []string{
			"tarot", "lee las cartas", "léeme las cartas", "leeme las cartas",
			"tírame las cartas", "tirame las cartas", "mi destino",
		}},
		rng: rng,
	}
}

// Draw picks a card.
func (t *Tarot) Draw() Arcana {
	t.mu.Lock()
	defer t.mu.Unlock()
	return MajorArcana[t.rng.Intn(len(MajorArcana))]
}

func (t *Tarot) Enrich(context.Context, conversation.Utterance, Snapshot, Effects) (*Fragment, error) {
	c := t.Draw()
	return &Fragment{Text: fmt.Sprintf("[TAROT] Salió la carta %s (arcano %d): %s. Haz una lectura breve, mística y cálida basada solo en esta carta.",
		c.Name, c.Number, c.Meaning)}, nil
}

// #endregion tarot

// #region script

const scriptTemplate = `[FORMATO DE GUION] Escribe el guion en texto plano, sin asteriscos ni símbolos de formato:
TÍTULO en una línea.
ESCENA con lugar y momento (INTERIOR o EXTERIOR, DÍA o NOCHE).
Acotaciones breves entre paréntesis.
Cada diálogo empieza con el NOMBRE DEL PERSONAJE seguido de dos puntos.
Cierra con una línea que diga FIN.`

// Script injects the screenplay template.
type Script struct {
	keywords
}

// NewScript creates the script enricher.
func NewScript() *Script {
	return &Script{keywords: keywords{name: "script", words: []string{
		"guion", "guión", "libreto", "escribe una escena", "escríbeme una escena", "escribeme una escena",
	}}}
}

func (s *Script) Enrich(context.Context, conversation.Utterance, Snapshot, Effects) (*Fragment, error) {
	return &Fragment{Text: scriptTemplate}, nil
}

// #endregion script

// #region recall

const noMemory = "[RECUERDOS] No hay recuerdos guardados sobre este tema. No inventes conversaciones pasadas; dilo con sinceridad."

// Recall queries the long-term memory store.
type Recall struct {
	keywords
	store memory.Store
	limit int
}

// NewRecall creates the memory recall enricher.
func NewRecall(store memory.Store, limit int) *Recall {
	if limit <= 0 {
		limit = memory.DefaultLimit
	}
	return &Recall{
		keywords: keywords{name: "recall", words: []string{
			"te acuerdas", "recuerdas", "lo que hablamos", "lo que te dije", "te conté", "te conte", "la otra vez",
		}},
		store: store,
		limit: limit,
	}
}

func (r *Recall) Enrich(ctx context.Context, u conversation.Utterance, snap Snapshot, _ Effects) (*Fragment, error) {
	if r.store == nil {
		return &Fragment{Text: noMemory}, nil
	}
	entries, err := r.store.Query(ctx, memory.Query{UserTag: snap.UserTag, Keywords: memory.Keywords(u.Raw), Limit: r.limit})
	if err != nil || len(entries) == 0 {
		return &Fragment{Text: noMemory}, nil
	}
	var b strings.Builder
	b.WriteString("[RECUERDOS DE CONVERSACIONES ANTERIORES]")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n- (%s) %s", e.CreatedAt.Format("2006-01-02"), strings.ReplaceAll(e.Content, "\n", " | "))
	}
	b.WriteString("\nUsa solo estos recuerdos; no inventes otros.")
	return &Fragment{Text: b.String()}, nil
}

// #endregion recall
