package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/olga/go-assistant/internal/rpc"
)

var (
	askAddr    string
	askSession string
	askTimeout time.Duration
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <utterance>",
	Short: "Send one utterance to a running server over gRPC",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := rpc.NewClient(askAddr)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
		defer cancel()
		reply, err := client.Converse(ctx, askSession, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if askJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reply)
		}
		fmt.Println(reply.Text)
		fmt.Fprintf(os.Stderr, "[%s] outcome=%s tier=%s model=%s\n",
			shortTurn(reply.TurnID), reply.Outcome, reply.Tier, reply.Model)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askAddr, "addr", "localhost:50061", "gRPC server address")
	askCmd.Flags().StringVar(&askSession, "session", "default", "session id on the server")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 60*time.Second, "request timeout")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full reply as JSON")
}
