package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/olga/go-assistant/internal/session"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Talk to the assistant from the terminal",
	Long: `Reads one utterance per line and runs it through the full pipeline.
Events are printed as they are emitted. "/perfil <nombre> [AAAA-MM-DD]" switches
the active profile and "salir" exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runREPL(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}

// #region repl
func runREPL(ctx context.Context, a *app) error {
	sess, err := a.newSession(ctx, session.SinkFunc(printEvent))
	if err != nil {
		return err
	}
	defer sess.Close()

	if d := a.loader.Config().Alarm.CheckInterval; d > 0 {
		stopAlarms, err := sess.StartAlarms(d)
		if err != nil {
			return err
		}
		defer stopAlarms()
	}

	fmt.Printf("OLGA lista. Perfil: %s | Modo: %s\n", profileName(sess.Profile()), sess.Mode())
	fmt.Println(`Escribe algo (o "salir" para terminar):`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "salir" || line == "quit" || line == "exit" {
			break
		}
		if strings.HasPrefix(line, "/perfil") {
			if err := switchProfile(ctx, sess, strings.Fields(line)[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "perfil: %v\n", err)
			}
			continue
		}

		res, err := sess.Handle(ctx, line)
		switch {
		case errors.Is(err, session.ErrSuperseded):
			fmt.Println("[cancelado]")
		case err != nil && res.Outcome != "exhausted":
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		default:
			fmt.Printf("[%s] outcome=%s tier=%s model=%s attempts=%d tokens=%d\n",
				shortTurn(res.TurnID), res.Outcome, res.Tier, res.Candidate.Model,
				len(res.Attempts), sess.Tokens().Count)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func switchProfile(ctx context.Context, sess *session.Session, fields []string) error {
	if len(fields) == 0 {
		return errors.New("uso: /perfil <nombre> [AAAA-MM-DD]")
	}
	p := state.Profile{Name: fields[0]}
	if len(fields) > 1 {
		b, err := time.Parse("2006-01-02", fields[1])
		if err != nil {
			return fmt.Errorf("fecha de nacimiento inválida: %w", err)
		}
		p.BirthDate = &b
	}
	if err := sess.SetProfile(ctx, p); err != nil {
		return err
	}
	fmt.Printf("Perfil: %s | Modo: %s | Turnos: %d\n", p.Name, sess.Mode(), len(sess.Turns()))
	return nil
}
// #endregion repl

// #region printing
func printEvent(e session.Event) {
	switch e.Kind {
	case session.EventDisplay:
		if e.Role == "user" {
			return
		}
		fmt.Printf("\n%s\n\n", e.Text)
	case session.EventSpeak:
		fmt.Printf("  (voz %s) %s\n", e.Voice, e.Text)
	case session.EventEffect:
		fmt.Printf("  [efecto %s]\n", e.Emotion)
	case session.EventRadio:
		fmt.Printf("  [radio %s]\n", e.Genre)
	case session.EventRadioStop:
		fmt.Println("  [radio apagada]")
	case session.EventDial:
		fmt.Printf("  [marcando %s]\n", e.Number)
	case session.EventImage:
		fmt.Printf("  [imagen %s]\n", e.URL)
	case session.EventAlarm:
		fmt.Printf("\n  [alarma %s %s]\n", e.Time, e.Label)
	case session.EventError:
		fmt.Fprintf(os.Stderr, "  [error] %s\n", e.Text)
	}
}

func profileName(p state.Profile) string {
	if p.Name == "" {
		return "anónimo"
	}
	return p.Name
}

func shortTurn(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
// #endregion printing
