// Package main implements transitctl, a CLI for talking to a transitd HTTP
// server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version information
var version = "dev"

// options holds the persistent flags.
type options struct {
	serverURL string
	sessionID string
	timeout   time.Duration
	json      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "transitctl",
		Short: "CLI for the transitd traffic-law assistant",
		Long: `transitctl sends questions to a transitd server, inspects classification
and learned patterns, and checks server health.`,
		Version:      version,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.serverURL, "server", "http://127.0.0.1:9191", "transitd server URL")
	flags.StringVar(&opts.sessionID, "session", "", "conversation id (default: a new id per invocation)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newTurnCmd(opts),
		newClassifyCmd(opts),
		newPatternsCmd(opts),
		newHealthCmd(opts),
		newChatCmd(opts),
	)
	return root
}

func (o *options) client() *client { return newClient(o.serverURL, o.timeout) }

func (o *options) printer(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), json: o.json}
}

func (o *options) session() string {
	if o.sessionID == "" {
		o.sessionID = "cli-" + uuid.NewString()
	}
	return o.sessionID
}

func newTurnCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "turn <text>",
		Short: "Send one message to a conversation",
		Long: `Send one message and print the assistant's reply.

Examples:
  transitctl turn --session demo "me llevaron la moto a los patios"
  transitctl turn --session demo "¿y cuánto cuesta?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Turn(cmd.Context(), opts.session(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return opts.printer(cmd).Turn(res)
		},
	}
}

func newClassifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a message without changing any conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Classify(cmd.Context(), opts.sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return opts.printer(cmd).Classification(res)
		},
	}
}

func newPatternsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the most frequent learned patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().Patterns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return opts.printer(cmd).Patterns(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum patterns to list")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check transitd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().Health(cmd.Context())
			if resp != nil {
				if perr := opts.printer(cmd).Health(resp); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newChatCmd(opts *options) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold an interactive conversation",
		Long: `Read messages from stdin, one per line, and print each reply. The
conversation ends on EOF or "/salir" and is then deleted unless --keep is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), opts.printer(cmd), keep)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the conversation on exit")
	return cmd
}

func runChat(ctx context.Context, opts *options, in io.Reader, p *printer, keep bool) error {
	c := opts.client()
	sessionID := opts.session()
	if !p.json {
		fmt.Fprintln(p.out, titleStyle.Render("transitd")+" "+dimStyle.Render("sesión "+sessionID+", /salir para terminar"))
	}

	scanner := bufio.NewScanner(in)
	for {
		if !p.json {
			fmt.Fprint(p.out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/salir" {
			break
		}
		res, err := c.Turn(ctx, sessionID, line)
		if err != nil {
			var serr *statusError
			if errors.As(err, &serr) && serr.Status < 500 {
				fmt.Fprintln(p.out, warnStyle.Render(serr.Message))
				continue
			}
			return err
		}
		if err := p.Turn(res); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if keep {
		return nil
	}
	return c.EndSession(ctx, sessionID)
}
