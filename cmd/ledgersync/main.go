package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"true-ledger-sync/core"
	"true-ledger-sync/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "ledgersync"}
	rootCmd.AddCommand(nodeCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	cmd.AddCommand(nodeStartCmd())
	return cmd
}

// nodeStartCmd wires the gossip transport and the sync controller together
// and blocks. It carries no ledger business logic of its own - that all
// lives in core.
func nodeStartCmd() *cobra.Command {
	var env string
	start := &cobra.Command{
		Use:   "start",
		Short: "start a sync node and join the gossip network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			level, err := logrus.ParseLevel(cfg.Logging.Level)
			if err != nil {
				level = logrus.InfoLevel
			}
			logrus.SetLevel(level)

			transport, err := core.NewClient(core.Config{
				ListenAddr:     cfg.Network.ListenAddr,
				BootstrapPeers: cfg.Network.BootstrapPeers,
				DiscoveryTag:   cfg.Network.DiscoveryTag,
			})
			if err != nil {
				return fmt.Errorf("start transport: %w", err)
			}
			defer transport.Close()

			controller, err := core.NewController(transport)
			if err != nil {
				return fmt.Errorf("start controller: %w", err)
			}
			defer controller.Close()

			if err := controller.ListenGossip(); err != nil {
				return fmt.Errorf("listen gossip: %w", err)
			}

			logrus.Infof("sync node listening on %s", cfg.Network.ListenAddr)
			transport.ListenAndServe()
			return nil
		},
	}
	start.Flags().StringVar(&env, "env", "", "configuration environment to merge over default.yaml")
	return start
}
