// Command servicing drives one daily servicing cycle (spec §4.8): create
// a run, read the external loan/investor/escrow snapshot from a JSON
// file (this engine reads that data but does not own it — spec §6), and
// fan the per-loan pipeline out across internal/servicing's worker pool.
//
// Intended to run as a cron job or one-shot operator command, in the
// same flag-driven style as cmd/proof-verify rather than a long-lived
// daemon like cmd/server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanserve/core/internal/config"
	"github.com/loanserve/core/internal/logging"
	"github.com/loanserve/core/internal/servicing"
	"github.com/loanserve/core/internal/tenant"
)

// loansFile is the external snapshot this command reads: one entry per
// loan, carrying exactly the fields internal/servicing.LoanData needs.
type loansFile struct {
	Loans []servicing.LoanData `json:"loans"`
}

func main() {
	tenantFlag := flag.String("tenant", "", "tenant UUID")
	valuationFlag := flag.String("valuation-date", "", "valuation date, YYYY-MM-DD (default: today)")
	loansPath := flag.String("loans-file", "", "path to a JSON snapshot of loans/payments/escrow/investors")
	dryRun := flag.Bool("dry-run", false, "compute every step but write no servicing events or exceptions")
	workers := flag.Int("workers", 0, "worker pool size (default: config ServicingWorkerPoolSize)")
	flag.Parse()

	if *tenantFlag == "" || *loansPath == "" {
		fmt.Fprintln(os.Stderr, "usage: servicing -tenant <uuid> -loans-file <path> [-valuation-date YYYY-MM-DD] [-dry-run] [-workers N]")
		os.Exit(2)
	}

	tenantID, err := tenant.ParseID(*tenantFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tenant:", err)
		os.Exit(2)
	}

	valuationDate := time.Now().UTC().Truncate(24 * time.Hour)
	if *valuationFlag != "" {
		valuationDate, err = time.Parse("2006-01-02", *valuationFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "valuation-date:", err)
			os.Exit(2)
		}
	}

	raw, err := os.ReadFile(*loansPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read loans-file:", err)
		os.Exit(2)
	}
	var lf loansFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		fmt.Fprintln(os.Stderr, "parse loans-file:", err)
		os.Exit(2)
	}

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ServicingWorkerTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := servicing.New(pool)

	loanIDs := make([]string, 0, len(lf.Loans))
	for _, l := range lf.Loans {
		loanIDs = append(loanIDs, l.Loan.LoanID)
	}

	run, err := store.CreateRun(ctx, tenantID, servicing.StartRequest{
		ValuationDate: valuationDate,
		LoanIDs:       loanIDs,
		DryRun:        *dryRun,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "create run:", err)
		os.Exit(1)
	}

	workerCount := *workers
	if workerCount <= 0 {
		workerCount = cfg.ServicingPoolSize
	}

	results, err := store.RunCycle(ctx, tenantID, run.ID, valuationDate, lf.Loans, workerCount, run.DryRun)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run cycle:", err)
		os.Exit(1)
	}

	var eventsTotal, exceptionsTotal int
	var failed int
	for _, r := range results {
		eventsTotal += r.EventsWritten
		exceptionsTotal += r.ExceptionsRaised
		if r.Err != nil {
			failed++
			fmt.Printf("%-24s FAILED  %v\n", r.LoanID, r.Err)
			continue
		}
		fmt.Printf("%-24s ok      events=%d exceptions=%d beneficiary_cents=%d investor_cents=%d\n",
			r.LoanID, r.EventsWritten, r.ExceptionsRaised, r.BeneficiaryCents, r.InvestorCents)
	}

	fmt.Printf("OK: run=%s loans=%d events=%d exceptions=%d failed=%d\n",
		run.ID, len(results), eventsTotal, exceptionsTotal, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
