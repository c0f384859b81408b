// Package cli wires the gatehouse binary's commands together.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	configPath string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Login, sessions and an access gate for web apps",
		Long: `gatehouse signs users in with an email and password (or SSO), hands out
signed session tokens and gates every page request on them.

Run "serve" for the full server, or "edge" next to a reverse proxy to gate
requests using nothing but the shared secret.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.toml", "Path to config file")

	cmd.AddCommand(
		serveCmd(opts),
		edgeCmd(opts),
		userCmd(opts),
		versionCmd(),
	)

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (o *rootOptions) load() (*config.Config, error) {
	conf, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, nil
}

func newLogger(prefix string, out io.Writer) echo.Logger {
	logger := log.New(prefix)
	logger.SetOutput(out)
	logger.SetHeader("${time_rfc3339} ${level} ${prefix}")
	return logger
}
