// Command usbwriter drives an ISO-to-USB writer backend: an interactive wizard
// on a terminal plus scriptable list, write and history commands.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logrus.New()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// cli carries the state shared by all subcommands.
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        Config
	logFile    *os.File
	out        io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), out: os.Stdout}

	root := &cobra.Command{
		Use:   "usbwriter",
		Short: "Write ISO images to USB drives through the writer backend",
		Long: `usbwriter talks to the local writer backend over HTTP.

Without a subcommand it starts the interactive wizard. The other commands
list images and devices, start a write from a script, inspect the backend
and show the local write history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.v, c.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.out = cmd.OutOrStdout()
			return c.setupLogger(cmd.Name() == "run" || cmd == cmd.Root())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logFile != nil {
				c.logFile.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWizard(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default $HOME/.config/usbwriter/config.yaml)")
	flags.String("backend-url", "", "backend API root")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "write logs to this file")

	root.AddCommand(
		c.runCmd(),
		c.writeCmd(),
		c.isosCmd(),
		c.devicesCmd(),
		c.statusCmd(),
		c.resetCmd(),
		c.historyCmd(),
		c.mirrorCmd(),
		c.mockBackendCmd(),
	)
	return root
}

// setupLogger configures the root logger from the resolved config. When the
// wizard owns the terminal, logs go to log_file or nowhere.
func (c *cli) setupLogger(interactive bool) error {
	lvl, err := logrus.ParseLevel(c.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	var out io.Writer = os.Stderr
	switch {
	case c.cfg.LogFile != "":
		if err := os.MkdirAll(filepath.Dir(c.cfg.LogFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(c.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		c.logFile = f
		out = f
	case interactive && isTerminal():
		out = io.Discard
	}
	log.SetOutput(out)

	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.TimeOnly})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return nil
}

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
