package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/rl1809/ticket-ledger/internal/adapter/ledger"
	"github.com/rl1809/ticket-ledger/internal/adapter/storage"
	"github.com/rl1809/ticket-ledger/internal/core/domain"
	"github.com/rl1809/ticket-ledger/internal/core/service"
)

func main() {
	var (
		ticketCount     int
		buyersPerTicket int
		confirmationLag int
		verbose         bool
	)
	flagSet := pflag.NewFlagSet("stress_test", pflag.ExitOnError)
	flagSet.IntVar(&ticketCount, "tickets", 20, "ticket batches to issue")
	flagSet.IntVar(&buyersPerTicket, "buyers", 50, "concurrent buyers racing for each ticket")
	flagSet.IntVar(&confirmationLag, "lag", 1, "devnet rounds before a transaction confirms")
	flagSet.BoolVar(&verbose, "verbose", false, "print service logs")
	flagSet.Parse(os.Args[1:])

	logOutput := io.Discard
	if verbose {
		logOutput = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOutput, nil))

	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate platform key: %v\n", err)
		os.Exit(1)
	}
	platform := service.NewSigningAuthority(key)
	devnet := ledger.NewDevnet(platform, ledger.DevnetOptions{ConfirmationLag: confirmationLag})
	ops := storage.NewMemoryOperationStore()

	opts := service.DefaultOptions()
	opts.ReconcileRetryDelay = 10 * time.Millisecond
	opts.ReconcileSweepInterval = 100 * time.Millisecond
	svc := service.NewLedgerService(service.Dependencies{
		Ledger:     storage.NewMemoryLedger(),
		Operations: ops,
		Sequence:   ops,
		Client:     devnet,
		Signer:     platform,
		Logger:     logger,
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Reconciler.Run(ctx)

	// Issue tickets and opt every buyer in
	tickets := make([]service.BatchResult, ticketCount)
	buyers := make([][]domain.Address, ticketCount)
	for i := range tickets {
		batch, err := svc.CreateTicketBatch(ctx, service.BatchRequest{
			BatchKey:  uuid.NewString(),
			EventName: fmt.Sprintf("Stress %d", i),
			Capacity:  1,
		})
		if err != nil || batch.AssetID == nil {
			fmt.Fprintf(os.Stderr, "failed to issue ticket %d: %v\n", i, err)
			os.Exit(1)
		}
		tickets[i] = batch
		buyers[i] = make([]domain.Address, buyersPerTicket)
		for j := range buyers[i] {
			_, buyerKey, _ := ed25519.GenerateKey(nil)
			buyers[i][j] = service.NewSigningAuthority(buyerKey).Address()
			devnet.OptIn(buyers[i][j], *batch.AssetID)
		}
	}

	// Counters
	var successCount, pendingCount, failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i, ticket := range tickets {
		for _, buyer := range buyers[i] {
			wg.Add(1)
			go func(ticketID int64, buyer domain.Address) {
				defer wg.Done()

				result, err := svc.PurchaseTicket(ctx, ticketID, string(buyer))
				switch {
				case err == nil && result.Success:
					successCount.Add(1)
				case result.Status == domain.PurchaseStatusPending && domain.KindOf(err) == domain.KindLedgerTimeout:
					pendingCount.Add(1)
				default:
					failCount.Add(1)
				}
			}(ticket.TicketID, buyer)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Let the reconciler settle anything still pending
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		pending, _ := ops.List(ctx)
		if len(pending) == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	totalRequests := ticketCount * buyersPerTicket
	success := successCount.Load()
	pending := pendingCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Tickets:          %d\n", ticketCount)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Pending:          %d\n", pending)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Every ticket must end with exactly one holder, on both sides
	passed := true
	for i, ticket := range tickets {
		view, err := svc.TicketStatus(ctx, ticket.TicketID)
		if err != nil || view.Status != domain.PurchaseStatusSold {
			fmt.Printf("FAIL: ticket %d not sold (status=%s err=%v)\n", ticket.TicketID, view.Status, err)
			passed = false
			continue
		}
		holders := 0
		for _, buyer := range buyers[i] {
			holdings, _ := devnet.AccountHoldings(ctx, buyer)
			if h, ok := domain.HoldsAsset(holdings, *ticket.AssetID); ok && h.Amount > 0 {
				holders++
				if buyer != *view.CurrentHolder {
					fmt.Printf("FAIL: ticket %d recorded holder differs from ledger holder\n", ticket.TicketID)
					passed = false
				}
			}
		}
		if holders != 1 {
			fmt.Printf("FAIL: ticket %d has %d ledger holders\n", ticket.TicketID, holders)
			passed = false
		}
	}

	if success+pending > int32(ticketCount) {
		fmt.Printf("FAIL: %d purchases accepted for %d tickets\n", success+pending, ticketCount)
		passed = false
	}

	if passed {
		fmt.Printf("PASS: each of %d tickets sold exactly once\n", ticketCount)
	} else {
		os.Exit(1)
	}
}
