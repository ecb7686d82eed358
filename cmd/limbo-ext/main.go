package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rpesk/limbo/internal/config"
	"github.com/rpesk/limbo/internal/extension"
	"github.com/rpesk/limbo/internal/host"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	extDirs    []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "limbo-ext",
		Short:         "Wasm extension host for the Limbo engine",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&opts.extDirs, "ext-dir", nil, "extension search path (repeatable, overrides config)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))

	return cmd
}

// setup loads the config and builds the logger, applying flag overrides.
func (o *rootOptions) setup() (*config.HostConfig, *zap.Logger, error) {
	cfg, err := config.LoadHostConfig(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(o.extDirs) > 0 {
		cfg.ExtensionPaths = o.extDirs
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	return logCfg.Build()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load extensions and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			h, err := host.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := h.Start(ctx); err != nil {
				h.Close(ctx)
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

			return h.Close(context.Background())
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded extensions and their functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			h, err := host.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.Close(ctx)

			if err := h.Manager().LoadAll(ctx); err != nil {
				return err
			}
			for _, ext := range h.Manager().Registry().List() {
				fmt.Printf("%s %s (%s)\n", ext.Name(), ext.Version(), ext.Manifest.WasmPath())
				for _, fn := range ext.Functions() {
					fmt.Printf("  %s\n", fn)
				}
			}
			return nil
		},
	}
}

func newCallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <function> [arg...]",
		Short: "Invoke a scalar function from a loaded extension",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			h, err := host.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.Close(ctx)

			if err := h.Manager().LoadAll(ctx); err != nil {
				return err
			}

			callArgs, err := parseCallArgs(args[1:])
			if err != nil {
				return err
			}
			result, err := h.Manager().Call(ctx, args[0], callArgs)
			if err != nil {
				return err
			}
			fmt.Println(result.String())
			return nil
		},
	}
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Load a single extension and report its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			h, err := host.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.Close(ctx)

			ext, err := h.Manager().LoadPath(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("name:      %s\n", ext.Name())
			fmt.Printf("version:   %s\n", ext.Version())
			fmt.Printf("abi:       %s\n", ext.Compiled.ABIVersion)
			fmt.Printf("checksum:  sha256:%s\n", ext.Compiled.Checksum)
			fmt.Printf("size:      %d bytes\n", ext.Compiled.SizeBytes)
			fmt.Printf("functions: %s\n", strings.Join(ext.Functions(), ", "))
			return nil
		},
	}
}

// parseCallArgs turns CLI strings into call arguments. Literal "null"
// is a null, "blob:<hex>" is a blob, numbers parse as integer then
// float, anything else is text.
func parseCallArgs(raw []string) ([]extension.Datum, error) {
	args := make([]extension.Datum, 0, len(raw))
	for _, s := range raw {
		switch {
		case s == "null":
			args = append(args, extension.NullDatum())
		case strings.HasPrefix(s, "blob:"):
			b, err := hex.DecodeString(strings.TrimPrefix(s, "blob:"))
			if err != nil {
				return nil, fmt.Errorf("invalid blob argument %q: %w", s, err)
			}
			args = append(args, extension.BlobDatum(b))
		default:
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				args = append(args, extension.IntegerDatum(i))
			} else if f, err := strconv.ParseFloat(s, 64); err == nil {
				args = append(args, extension.FloatDatum(f))
			} else {
				args = append(args, extension.TextDatum(s))
			}
		}
	}
	return args, nil
}
