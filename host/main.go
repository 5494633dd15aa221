package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudx-io/adslot/instance"
	"github.com/cloudx-io/adslot/ledger"
)

var (
	daemonName = "adslotd"
	log        = logging.Logger("host")
	v          = viper.New()
)

func init() {
	if err := configureCLI(v, envPrefix, flags, rootCmd); err != nil {
		panic(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "adslotd hosts single-slot escrow auctions",
	Long:  "adslotd hosts single-slot escrow auctions and signs a receipt for every committed call",
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if err := loadEnvFile(v.GetString("env-file")); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return configureLogging(v, loggers)
	},
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := configFromViper(v)
		if err != nil {
			return err
		}

		ds := dssync.MutexWrap(datastore.NewMapDatastore())
		manager := instance.NewManager(ds, ledger.New(ds))

		keyManager, err := NewKeyManager()
		if err != nil {
			return fmt.Errorf("failed to initialize key manager: %w", err)
		}
		log.Infof("KeyManager initialized")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return NewHostServer(cfg, manager, keyManager).Start(ctx)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
