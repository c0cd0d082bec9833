package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/PortNumber53/adlens/backend/internal/config"
	"github.com/PortNumber53/adlens/backend/internal/handlers"
	"github.com/PortNumber53/adlens/backend/internal/workers"
	_ "github.com/lib/pq"
)

func main() {
	if err := run(os.Args[1:], defaultDeps(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

type deps struct {
	loadConfig func() (*config.Config, error)
	openDB     func(driverName, dataSourceName string) (*sql.DB, error)
	// newBilling is replaced in tests with a service backed by a fake gateway.
	newBilling func(*sql.DB, *config.Config) *billing.Service
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.Load,
		openDB:     sql.Open,
		newBilling: func(db *sql.DB, cfg *config.Config) *billing.Service {
			return handlers.New(db, cfg, nil).Billing()
		},
	}
}

type options struct {
	userID  string
	all     bool
	plans   bool
	timeout time.Duration
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("report-usage", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.userID, "user", "", "Report usage for one user id")
	fs.BoolVar(&o.all, "all", false, "Report usage for every user with active ad-account subscriptions")
	fs.BoolVar(&o.plans, "plans", false, "Print the plan catalog and the configured Stripe prices, then exit")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if !o.plans && (o.userID == "") == !o.all {
		return options{}, errors.New("exactly one of -user or -all is required")
	}
	return o, nil
}

func printPlans(out io.Writer, svc *billing.Service) {
	for _, p := range svc.Catalog.Plans() {
		for _, cycle := range []string{billing.CycleMonthly, billing.CycleYearly} {
			price, err := svc.Catalog.Lookup(p.ID, cycle)
			if err != nil {
				continue
			}
			priceID := price.StripePriceID
			if priceID == "" {
				priceID = "(not configured)"
			}
			fmt.Fprintf(out, "%-8s %-8s $%d.%02d  %s\n", p.ID, cycle, price.AmountCents/100, price.AmountCents%100, priceID)
		}
	}
}

func run(args []string, d deps, out io.Writer) error {
	o, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := d.loadConfig()
	if err != nil {
		return err
	}
	if o.plans {
		printPlans(out, d.newBilling(nil, cfg))
		return nil
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL not set")
	}
	sqlDB, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	svc := d.newBilling(sqlDB, cfg)
	if !svc.Enabled() {
		return billing.ErrStripeDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if o.userID != "" {
		rep, err := svc.ReportUsage(ctx, o.userID)
		if err != nil {
			return fmt.Errorf("report usage for %s: %w", o.userID, err)
		}
		fmt.Fprintf(out, "Reported %d active ad accounts for %s (item %s)\n", rep.Quantity, rep.UserID, rep.ItemID)
		return nil
	}

	w := &workers.UsageReportWorker{Users: svc.Store, Billing: svc}
	stats, err := w.ReportAll(ctx)
	fmt.Fprintf(out, "Users: %d, reported: %d, skipped: %d, failed: %d\n", stats.Users, stats.Reported, stats.Skipped, stats.Failed)
	return err
}
