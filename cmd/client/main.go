package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chatdao/chatdao/internal/chat"
	"github.com/chatdao/chatdao/internal/config"
	"github.com/chatdao/chatdao/internal/metrics"
	"github.com/chatdao/chatdao/internal/prefs"
	"github.com/chatdao/chatdao/internal/securelog"
)

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model, ...tea.ProgramOption) programRunner

type flags struct {
	server      string
	name        string
	logFile     string
	logLevel    string
	metricsAddr string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "chatdao",
		Short:         "Terminal client for a chatdao group chat room",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return runClient(cmd.Context(), cfg, f.name, stdin, stdout, newProgram)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.StringVar(&f.server, "server", "", "chat server origin, e.g. https://chat.example.com")
	fl.StringVar(&f.name, "name", "", "display name to join with")
	fl.StringVar(&f.logFile, "log-file", "", "log file path")
	fl.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, err
	}
	fl := cmd.Flags()
	if fl.Changed("server") {
		cfg.ServerURL = f.server
	}
	if fl.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runClient(ctx context.Context, cfg config.Config, name string, stdin io.Reader, stdout io.Writer, newProgram programFactory) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logOut, closeLog, err := openLog(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	if err := securelog.Init(cfg.LogLevel, logOut, false); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				securelog.Error("metrics server", err)
			}
		}()
	}

	bridge := newEventBridge()
	defer bridge.stop()

	client, err := chat.New(chat.Options{ServerURL: cfg.ServerURL, Names: prefs.Store{}}, bridge)
	if err != nil {
		return err
	}
	if name != "" {
		if err := client.SetDisplayName(name); err != nil {
			return err
		}
	}
	client.Start()
	defer client.Close()
	log.Info().Str("server", cfg.ServerURL).Msg("client started")

	if newProgram == nil {
		newProgram = func(model tea.Model, options ...tea.ProgramOption) programRunner {
			return tea.NewProgram(model, options...)
		}
	}

	m := newRootModel(client, bridge.events(), cfg.ServerURL)
	p := newProgram(m, tea.WithAltScreen(), tea.WithInput(stdin), tea.WithOutput(stdout))
	_, err = p.Run()
	return err
}

// openLog opens the log destination. The terminal belongs to the UI, so
// logs go to a file under the user cache dir unless one is configured.
func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return io.Discard, func() {}, nil
		}
		path = filepath.Join(dir, "chatdao", "chatdao.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) error {
	cmd := newRootCmd(stdin, stdout, stderr, newProgram)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
