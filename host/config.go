package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "ADSLOT"

// Flag describes a configuration flag.
type Flag struct {
	Name        string
	DefValue    any
	Description string
}

var flags = []Flag{
	{Name: "listen-addr", DefValue: "127.0.0.1:5000", Description: "TCP listen address, ignored when vsock-port is set"},
	{Name: "vsock-port", DefValue: 0, Description: "vsock port to listen on instead of TCP"},
	{Name: "max-workers", DefValue: 16, Description: "Maximum concurrently served connections"},
	{Name: "read-timeout", DefValue: 30 * time.Second, Description: "Deadline for reading a request"},
	{Name: "allow-deposits", DefValue: false, Description: "Serve deposit requests that credit ledger accounts"},
	{Name: "amount-decimals", DefValue: 24, Description: "Decimal places between whole units and base units"},
	{Name: "attest-keys", DefValue: false, Description: "Attest the receipt key with the Nitro Secure Module"},
	{Name: "env-file", DefValue: "", Description: "Optional .env file loaded before reading configuration"},
	{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
	{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
}

// loggers configured by --log-debug.
var loggers = []string{"host", "instance", "ledger"}

// Config is the resolved daemon configuration.
type Config struct {
	ListenAddr     string
	VsockPort      uint32
	MaxWorkers     int
	ReadTimeout    time.Duration
	AllowDeposits  bool
	AmountDecimals int32
	AttestKeys     bool
}

// configureCLI binds flags to v, with env overrides under envPrefix.
func configureCLI(v *viper.Viper, envPrefix string, flags []Flag, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	for _, flag := range flags {
		switch defval := flag.DefValue.(type) {
		case string:
			cmd.Flags().String(flag.Name, defval, flag.Description)
		case bool:
			cmd.Flags().Bool(flag.Name, defval, flag.Description)
		case int:
			cmd.Flags().Int(flag.Name, defval, flag.Description)
		case time.Duration:
			cmd.Flags().Duration(flag.Name, defval, flag.Description)
		default:
			return fmt.Errorf("unknown flag type %T for %s", flag.DefValue, flag.Name)
		}
		v.SetDefault(flag.Name, flag.DefValue)
		if err := v.BindPFlag(flag.Name, cmd.Flags().Lookup(flag.Name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag.Name, err)
		}
	}
	return nil
}

// loadEnvFile loads path into the process environment. With no path, a .env
// in the working directory is loaded if present.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// configureLogging sets the output format and the level of the daemon's loggers.
func configureLogging(v *viper.Viper, names []string) error {
	if v.GetBool("log-json") {
		logging.SetupLogging(logging.Config{
			Format: logging.JSONOutput,
			Stderr: false,
			Stdout: true,
		})
	}

	level := "info"
	if v.GetBool("log-debug") {
		level = "debug"
	}
	for _, name := range names {
		if err := logging.SetLogLevel(name, level); err != nil {
			return fmt.Errorf("set log level of %s: %w", name, err)
		}
	}
	return nil
}

func configFromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:     v.GetString("listen-addr"),
		VsockPort:      v.GetUint32("vsock-port"),
		MaxWorkers:     v.GetInt("max-workers"),
		ReadTimeout:    v.GetDuration("read-timeout"),
		AllowDeposits:  v.GetBool("allow-deposits"),
		AmountDecimals: v.GetInt32("amount-decimals"),
		AttestKeys:     v.GetBool("attest-keys"),
	}

	if cfg.VsockPort == 0 && cfg.ListenAddr == "" {
		return Config{}, errors.New("one of listen-addr or vsock-port is required")
	}
	if cfg.MaxWorkers <= 0 {
		return Config{}, fmt.Errorf("invalid value for max-workers: %d (must be positive)", cfg.MaxWorkers)
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid value for read-timeout: %s (must be positive)", cfg.ReadTimeout)
	}
	if cfg.AmountDecimals < 0 {
		return Config{}, fmt.Errorf("invalid value for amount-decimals: %d", cfg.AmountDecimals)
	}
	return cfg, nil
}
