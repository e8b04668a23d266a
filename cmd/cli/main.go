// Command duochat is a terminal client for the duochat server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/duochat/internal/client"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const requestTimeout = 30 * time.Second

// request bounds one-shot commands; chat manages its own lifetime.
func request(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

// app carries state shared by subcommands.
type app struct {
	cfg    *Config
	server string // --server override
	out    io.Writer
	in     io.Reader
}

// api returns a client for the configured server. With authed it also
// requires a valid saved token.
func (a *app) api(authed bool) (*client.API, error) {
	url := a.cfg.Server.URL
	if a.server != "" {
		url = a.server
	}
	if !authed {
		return client.NewAPI(url), nil
	}
	tok, err := a.cfg.token()
	if err != nil {
		return nil, err
	}
	return client.NewAPI(url, client.WithToken(tok)), nil
}

func (a *app) saveSession(s client.Session) error {
	a.cfg.Auth = AuthConfig{
		Token:     s.Token,
		UserID:    s.User.ID,
		Username:  s.User.Username,
		ExpiresAt: s.ExpiresAt,
	}
	if a.server != "" {
		a.cfg.Server.URL = a.server
	}
	return saveConfig(a.cfg)
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// readText returns args joined, or stdin when the only arg is "-".
func (a *app) readText(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(a.in)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return strings.Join(args, " "), nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "duochat",
		Short:         "Terminal client for duochat",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.server, "server", "", "server URL (default from config)")
	root.SetOut(a.out)

	root.AddCommand(
		registerCmd(a),
		loginCmd(a),
		whoamiCmd(a),
		contactsCmd(a),
		addCmd(a),
		searchCmd(a),
		historyCmd(a),
		unreadCmd(a),
		sendCmd(a),
		readCmd(a),
		chatCmd(a),
		configCmd(a),
	)
	return root
}

func main() {
	a := &app{out: os.Stdout, in: os.Stdin}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "duochat:", err)
		os.Exit(1)
	}
}
