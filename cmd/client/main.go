package main

import (
	"fmt"
	"os"

	"github.com/Farengier/aircon-market/internal/signal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	confPath string
	current  *app
)

var rootCmd = &cobra.Command{
	Use:           "client",
	Short:         "Aircon market command line client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := initConfig(confPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := initLogging(cfg.Log); err != nil {
			return fmt.Errorf("log init: %w", err)
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confPath, "config", "client.yml", "config file path")
	rootCmd.AddCommand(statusCmd, loginCmd, logoutCmd, whoamiCmd, registerCmd, resetCmd, favoritesCmd)
}

func main() {
	lc := signal.New()
	lc.Notify()

	err := rootCmd.ExecuteContext(lc.Context())
	if current != nil {
		current.Close()
	}
	lc.Shutdown()
	lc.Wait()

	if err != nil {
		log.Debugf("[Client] command failed: %s", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
