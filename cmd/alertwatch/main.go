// Command alertwatch runs a single alert poller against the agri backend and
// prints toasts to the terminal. Handy for checking a user's alert feed
// without the full server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/infrastructure/agriapi"
	"vn.io.arda/cropalert/internal/poller"
)

type flags struct {
	apiURL   string
	email    string
	interval time.Duration
	locale   string
	logLevel string
	once     bool
}

// consoleNotifier prints each toast as one line.
type consoleNotifier struct {
	out io.Writer
}

func (n consoleNotifier) Notify(_ context.Context, in domain.CreateToastInput) {
	fmt.Fprintf(n.out, "%s  %s %s (unseen: %d)\n",
		time.Now().Format(time.TimeOnly), in.Title, in.Body, in.TotalUnseen)
}

func main() {
	f := &flags{}

	app := &cli.Command{
		Name:  "alertwatch",
		Usage: "Watch the agri backend for new disease alerts in a user's area",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "api-url",
				Usage:       "agri backend base URL",
				Sources:     cli.EnvVars("AGRI_API_URL"),
				Value:       "http://localhost:5000",
				Destination: &f.apiURL,
			},
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "signed-in user's email",
				Sources:     cli.EnvVars("ALERTWATCH_EMAIL"),
				Required:    true,
				Destination: &f.email,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "poll interval",
				Value:       poller.DefaultInterval,
				Destination: &f.interval,
			},
			&cli.StringFlag{
				Name:        "locale",
				Usage:       "toast language (en, vi)",
				Value:       "en",
				Destination: &f.locale,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("ALERTWATCH_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.logLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			lvl, err := zerolog.ParseLevel(f.logLevel)
			if err != nil {
				return ctx, fmt.Errorf("parse log level: %w", err)
			}
			zerolog.SetGlobalLevel(lvl)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
			return ctx, nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return watch(ctx, f, os.Stdout)
		},
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Initialize, poll once and print the resulting state as JSON",
				Action: func(ctx context.Context, c *cli.Command) error {
					f.once = true
					return watch(ctx, f, os.Stdout)
				},
			},
			{
				Name:      "preference",
				Usage:     "Turn alert notifications on or off for the user",
				ArgsUsage: "on|off",
				Action: func(ctx context.Context, c *cli.Command) error {
					var enabled bool
					switch c.Args().First() {
					case "on":
						enabled = true
					case "off":
					default:
						return errors.New("expected 'on' or 'off'")
					}
					api := agriapi.New(f.apiURL)
					if err := api.UpdateNotificationPreference(ctx, f.email, enabled); err != nil {
						return fmt.Errorf("update preference: %w", err)
					}
					fmt.Fprintf(os.Stdout, "notifications for %s: %s\n", f.email, c.Args().First())
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("alertwatch failed")
	}
}

func watch(ctx context.Context, f *flags, out io.Writer) error {
	api := agriapi.New(f.apiURL)
	p := poller.New(api, consoleNotifier{out: out}, poller.StaticIdentity(f.email),
		poller.WithInterval(f.interval),
		poller.WithLocale(f.locale),
		poller.WithLogger(log.With().Str("component", "poller").Str("email", f.email).Logger()),
	)
	defer p.Close()

	p.Initialize(ctx)
	snap := p.Snapshot()

	if f.once {
		p.Poll(ctx)
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p.Snapshot())
	}

	if !snap.Armed {
		return fmt.Errorf("poller not armed for %s (enabled=%t, lastSeenId=%d)", f.email, snap.Enabled, snap.LastSeenID)
	}

	log.Info().
		Int64("last_seen_id", snap.LastSeenID).
		Dur("interval", f.interval).
		Msg("watching for new alerts, ctrl-c to stop")

	<-ctx.Done()

	final := p.Snapshot()
	fmt.Fprintf(out, "stopped; %d unseen alerts since #%d\n", final.NewAlertsCount, final.LastSeenID)
	return nil
}
