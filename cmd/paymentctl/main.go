// Command paymentctl runs operator tasks against the Sep gateway and the
// payment idempotency store.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"digishop-be/internal/config"
	"digishop-be/internal/db"
	"digishop-be/internal/logger"
	"digishop-be/internal/notify"
	"digishop-be/internal/payment"

	"github.com/urfave/cli/v2"
)

// toolkit is what the commands operate on.
type toolkit struct {
	gateway payment.Gateway
	records payment.Repository
	now     func() time.Time
	close   func() error
}

type buildFunc func() (*toolkit, error)

func main() {
	if err := newApp(buildToolkit, os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildToolkit() (*toolkit, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.AppEnv)
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	conn, err := db.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	records := payment.NewRepository(conn)
	gateway := payment.NewSepGateway(payment.SepOptions{
		TerminalID:  cfg.SepTerminalID,
		CallbackURL: cfg.SepCallbackURL,
		BaseURL:     cfg.SepBaseURL,
		Runtime:     cfg.Runtime(),
		Records:     records,
		Alerter:     notify.Log{},
		Wage:        payment.SepWage{},
	})

	return &toolkit{
		gateway: gateway,
		records: records,
		now:     time.Now,
		close:   closer(conn),
	}, nil
}

func closer(conn *sql.DB) func() error {
	return func() error { return conn.Close() }
}

func newApp(build buildFunc, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "paymentctl",
		Usage:     "inspect Sep transactions and maintain verification records",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:  "inquiry",
				Usage: "show what Sep reports for a transaction",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "track-id", Usage: "gateway tracking id", Required: true},
				},
				Action: func(c *cli.Context) error {
					tk, err := build()
					if err != nil {
						return err
					}
					defer tk.close()

					res := tk.gateway.InquiryPayment(c.Context, c.String("track-id"))

					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(res); err != nil {
						return err
					}
					if res.Error != nil {
						return fmt.Errorf("inquiry failed: %s", res.Error.Kind)
					}
					return nil
				},
			},
			{
				Name:  "purge",
				Usage: "delete verification records too old to be replayed",
				Action: func(c *cli.Context) error {
					tk, err := build()
					if err != nil {
						return err
					}
					defer tk.close()

					before := tk.now().Add(-payment.VerificationWindow)
					n, err := tk.records.PurgeBefore(c.Context, before)
					if err != nil {
						return fmt.Errorf("purge: %w", err)
					}
					fmt.Fprintf(out, "purged %d records older than %s\n", n, before.UTC().Format(time.RFC3339))
					return nil
				},
			},
		},
	}
}
