package enrich

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/contacts"
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
)

var (
	dialLeads = []string{"llama a ", "llamar a ", "llámale a ", "llamale a ", "márcale a ", "marcale a ", "marca a ", "marcar a "}
	saveLeads = []string{
		"guarda el número de ", "guarda el numero de ", "guarda el contacto de ",
		"guarda a ", "agrega a ", "agrega el número de ", "agrega el numero de ",
	}
	followUpLeads = []string{"el número es", "el numero es", "su número es", "su numero es"}
	numberRe      = regexp.MustCompile(`\+?\d[\d\s\-.]{5,}\d`)
)

// Contacts dials and saves phone book entries.
type Contacts struct {
	keywords
	dir contacts.Directory
}

// NewContacts creates the contacts enricher.
func NewContacts(dir contacts.Directory) *Contacts {
	words := append(append(append([]string{}, dialLeads...), saveLeads...), followUpLeads...)
	return &Contacts{keywords: keywords{name: "contacts", words: words}, dir: dir}
}

func (c *Contacts) Enrich(ctx context.Context, u conversation.Utterance, snap Snapshot, fx Effects) (*Fragment, error) {
	lower := u.Lower
	switch {
	case snap.PendingContact != "" && containsAny(lower, followUpLeads) && numberRe.MatchString(lower):
		return c.save(ctx, snap.PendingContact, numberRe.FindString(lower), fx)
	case containsAny(lower, saveLeads):
		rest := after(lower, saveLeads)
		loc := numberRe.FindStringIndex(rest)
		if loc == nil {
			return &Fragment{Text: "[CONTACTO] Falta el número. Pídele al usuario que lo dicte."}, nil
		}
		name := subject(strings.TrimSuffix(strings.TrimSpace(rest[:loc[0]]), " con el número"))
		return c.save(ctx, name, rest[loc[0]:loc[1]], fx)
	case containsAny(lower, dialLeads):
		return c.dial(ctx, subject(after(lower, dialLeads)), fx)
	}
	return nil, nil
}

func (c *Contacts) dial(ctx context.Context, name string, fx Effects) (*Fragment, error) {
	if name == "" {
		return nil, nil
	}
	if numberRe.MatchString(name) {
		number := contacts.NormalizeNumber(numberRe.FindString(name))
		fx.Dial(number)
		return &Fragment{Text: fmt.Sprintf("[LLAMADA] Estás marcando al %s. Confírmalo en una frase corta.", number)}, nil
	}
	if c.dir == nil {
		fx.SetPendingContact(name)
		return notFound(name), nil
	}
	found, ok, err := c.dir.Find(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	if !ok {
		fx.SetPendingContact(name)
		return notFound(name), nil
	}
	fx.Dial(found.Number)
	return &Fragment{Text: fmt.Sprintf("[LLAMADA] Estás llamando a %s. Confírmalo en una frase corta.", found.Name)}, nil
}

func notFound(name string) *Fragment {
	return &Fragment{Text: fmt.Sprintf("[CONTACTO NO ENCONTRADO] No tienes guardado a %s. Pídele al usuario que te dicte el número para guardarlo.", titleCase(name))}
}

func (c *Contacts) save(ctx context.Context, name, number string, fx Effects) (*Fragment, error) {
	if name == "" {
		return &Fragment{Text: "[CONTACTO] Falta el nombre. Pregúntale al usuario cómo se llama el contacto."}, nil
	}
	if c.dir == nil {
		return nil, fmt.Errorf("save contact: no directory")
	}
	entry := contacts.Contact{Name: titleCase(name), Number: number}
	if err := c.dir.Save(ctx, entry); err != nil {
		return nil, err
	}
	fx.SetPendingContact("")
	return &Fragment{Text: fmt.Sprintf("[CONTACTO GUARDADO] Guardaste a %s con el número %s. Confírmalo y ofrece llamarle.",
		entry.Name, contacts.NormalizeNumber(number))}, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
