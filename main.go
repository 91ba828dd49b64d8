package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"listmailer/delivery"
	"listmailer/health"
	"listmailer/internal/config"
	"listmailer/internal/logger"
	"listmailer/internal/metrics"
	"listmailer/message"
	"listmailer/queue"
	"listmailer/recipients"
	"listmailer/render"
	"listmailer/report"
	"listmailer/storage"
)

// errIncomplete is returned when some messages were never handed to the
// transport, e.g. after an interrupt.
var errIncomplete = errors.New("run incomplete")

func main() {
	cmd := newRootCmd(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errIncomplete) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "listmailer",
		Short: "Send a personalised message to every recipient of a list",
		Long: `listmailer renders a template for every row of a recipient CSV and sends
the result through SES, Resend or SMTP. Without --run it only writes each
rendered message to out_<email>.html for review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runList(ctx, cfg, stdout, logger.New(cfg.LogLevel, cfg.LogFormat))
		},
	}

	flags := cmd.Flags()
	flags.StringP("workdir", "d", "", "working directory holding the list files")
	flags.StringP("queuefile", "q", "queue.csv", "recipient CSV, relative to the working directory")
	flags.StringP("template", "t", "template.html", "message template, relative to the working directory")
	flags.StringP("metafile", "m", "meta.json", "list metadata (JSON or YAML), relative to the working directory")
	flags.StringP("keyfile", "k", "./keys.json", "provider credentials")
	flags.Float64P("rate", "z", 5, "messages per second for self-throttled providers")
	flags.BoolP("run", "r", false, "send the messages instead of rendering them to files")
	flags.StringP("provider", "p", "ses", "transport: ses, resend or smtp")
	flags.Duration("interval", 200*time.Millisecond, "spacing between sends for providers without their own rate limit")
	flags.Int("concurrency", config.Concurrency(), "maximum sends in flight")
	flags.Duration("timeout", 30*time.Second, "timeout of a single send")
	flags.StringP("output", "o", "", "render destination: a directory or s3://bucket/prefix (default: working directory)")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: console, text or json")
	flags.String("metrics-addr", "", "serve /healthz and /metrics on this address during the run")

	for key, flag := range map[string]string{
		"workdir":      "workdir",
		"queuefile":    "queuefile",
		"template":     "template",
		"metafile":     "metafile",
		"keyfile":      "keyfile",
		"rate":         "rate",
		"run":          "run",
		"provider":     "provider",
		"interval":     "interval",
		"concurrency":  "concurrency",
		"timeout":      "timeout",
		"output":       "output",
		"log_level":    "log-level",
		"log_format":   "log-format",
		"metrics_addr": "metrics-addr",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

// runList loads the list, builds the engine for the requested mode and
// prints the report.
func runList(ctx context.Context, cfg *config.Run, stdout io.Writer, log zerolog.Logger) error {
	meta, err := recipients.ReadMetadata(cfg.MetaPath())
	if err != nil {
		return err
	}
	f, err := os.Open(cfg.QueuePath())
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	rows, err := recipients.Parse(f)
	f.Close()
	if err != nil {
		return err
	}
	list, err := recipients.Load(meta, rows)
	if err != nil {
		return err
	}

	renderer, err := render.New(cfg.WorkDir)
	if err != nil {
		return err
	}
	if err := renderer.Load(cfg.Template); err != nil {
		return err
	}

	engineOpts := []queue.Option{
		queue.WithFanout(cfg.Concurrency),
		queue.WithInterval(cfg.Interval),
		queue.WithLogger(logger.Component(log, "engine")),
	}
	var caps delivery.Capabilities
	if cfg.Send {
		transport, err := buildTransport(ctx, cfg, log)
		if err != nil {
			return err
		}
		caps = transport.Capabilities()
		engineOpts = append(engineOpts, queue.WithTransport(transport))
		if !caps.SelfThrottled {
			engineOpts = append(engineOpts, queue.WithSendTimeout(cfg.Timeout))
		}
		log.Info().Str("provider", transport.Name()).Int("recipients", len(list)).Msg("sending")
	} else {
		writer, err := storage.Open(ctx, cfg.Output, cfg.WorkDir)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, queue.WithWriter(writer))
		log.Info().Int("recipients", len(list)).Msg("rendering only, pass --run to send")
	}

	compiler := message.NewCompiler(renderer, cfg.Template,
		message.WithBaseDir(cfg.WorkDir),
		message.WithASCIIHeaders(caps.ASCIIHeaders),
	)
	engine := queue.NewEngine(compiler, engineOpts...)

	if cfg.MetricsAddr != "" {
		server, ln, err := health.Start(cfg.MetricsAddr, func() string { return runStatus(engine) })
		if err != nil {
			return err
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("serving health and metrics")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	rep, err := engine.Run(ctx, meta, list)
	if err != nil {
		return err
	}
	if err := report.Write(stdout, rep); err != nil {
		return err
	}
	if rep.Incomplete {
		return errIncomplete
	}
	return nil
}

// runStatus is the /healthz body: engine state plus queue progress.
func runStatus(engine *queue.Engine) string {
	return fmt.Sprintf("%s queued=%d in_flight=%d", engine.State(), metrics.QueueDepth(), metrics.InFlight())
}

func buildTransport(ctx context.Context, cfg *config.Run, log zerolog.Logger) (delivery.Transport, error) {
	if !cfg.KeyFileFound {
		return nil, fmt.Errorf("%w: cannot find keyfile %s", config.ErrConfiguration, cfg.KeyFile)
	}
	keys, err := config.LoadKeys(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return delivery.New(ctx, cfg.Provider, keys, delivery.Options{
		Rate:     cfg.Rate,
		Timeout:  cfg.Timeout,
		Hostname: cfg.Hostname,
		Logger:   logger.Component(log, "transport"),
	})
}
