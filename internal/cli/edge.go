package cli

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/lachlan2k/gatehouse/internal/edge"
	"github.com/spf13/cobra"
)

var errEdgeNeedsSecret = errors.New("the edge gate must share auth.secret (or AUTH_SECRET) with the server that mints tokens; refusing to start with a generated one")

func edgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edge",
		Short: "Run only the gate, for a reverse proxy's forward-auth hook",
		Long: `Serves GET /verify. The proxy passes the original path in X-Forwarded-Uri
(or ?uri=) along with the user's cookies; gatehouse answers 200 to let the
request through or a redirect to send the user to the login page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			if conf.SecretGenerated {
				return errEdgeNeedsSecret
			}

			server, err := edge.New(conf, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.Run(ctx)
		},
	}
}
