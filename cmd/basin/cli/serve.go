package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/basin/internal/server"
	"github.com/faucetdb/basin/internal/service"
)

const banner = `
 ____    _    ____ ___ _   _
| __ )  / \  / ___|_ _| \ | |
|  _ \ / _ \ \___ \| ||  \| |
| |_) / ___ \ ___) | || |\  |
|____/_/   \_\____/___|_| \_|
`

// analyticsBuffer is the number of queued request log entries before
// new ones are dropped.
const analyticsBuffer = 1024

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Basin API server",
		Long:  "Start the HTTP server that exposes the system API, the data API and the OpenAPI document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dev {
				viper.Set("logging.level", "debug")
			}
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	fmt.Print(banner)
	fmt.Println()

	b, err := openBackend()
	if err != nil {
		return err
	}
	logger := b.logger
	logger.Info("config store initialized", "path", resolveDataDir())
	logger.Info("backing store connected", "driver", b.cfg.Database.Driver)

	hasAdmin, err := b.store.HasAnyAdmin(cmdCtx())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: basin admin create")
	}

	srvCfg, err := server.ConfigFromYAML(b.cfg, versionString())
	if err != nil {
		b.Close()
		return err
	}
	srv := server.New(srvCfg, server.Deps{
		Store:      b.store,
		Conn:       b.conn,
		Auth:       b.auth,
		Models:     b.models,
		Data:       b.data,
		Webhooks:   b.webhooks,
		Dispatcher: b.dispatcher,
		Analytics:  service.NewAnalyticsRecorder(b.store, analyticsBuffer, logger),
	}, logger)

	cyan := color.New(color.FgCyan)
	base := fmt.Sprintf("http://%s:%d", srvCfg.Host, srvCfg.Port)
	color.New(color.FgGreen, color.Bold).Printf("→ Basin %s\n", versionString())
	cyan.Printf("→ Listening on %s\n", base)
	cyan.Printf("→ Data API:   %s/data/{table}\n", base)
	cyan.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	cyan.Printf("→ Health:     %s/healthz\n", base)
	fmt.Println()

	// ListenAndServe stops the workers and disconnects the backing store.
	defer b.store.Close()
	return srv.ListenAndServe()
}
