// Command venuelink is a console demo for the venue session engine: it
// connects with the session token from the environment, prints the account
// balance and asset catalog, and tails live quotes until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quantfeed/venuelink"
	"github.com/quantfeed/venuelink/config"
	"github.com/quantfeed/venuelink/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "venuelink:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config overrides")
		asset      = flag.String("asset", "EURUSD", "asset to stream quotes for")
		tail       = flag.Duration("tail", 30*time.Second, "how long to tail quotes")
	)
	flag.Parse()

	token := os.Getenv("VENUELINK_TOKEN")
	if token == "" {
		return fmt.Errorf("VENUELINK_TOKEN must be set to the browser session token")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	observability.SetLogger(observability.NewZapLogger(logger))
	observability.SetMetrics(observability.NewRuntimeMetrics())

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	client, err := venuelink.New(cfg, token)
	if err != nil {
		return err
	}
	client.OnError(func(err error) {
		logger.Warn("session error", zap.Error(err))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	fmt.Printf("connected in %s\n", result.Duration.Round(time.Millisecond))

	balance, err := client.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("balance: %s %s (%s ledger)\n", balance.Amount(), balance.Currency, balance.Mode)

	catalog, err := client.Assets(ctx)
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(catalog))
	for symbol, a := range catalog {
		if a.Open {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	fmt.Printf("%d tradable assets", len(symbols))
	if len(symbols) > 10 {
		symbols = symbols[:10]
	}
	fmt.Printf(": %v\n", symbols)

	if err := client.SubscribeQuotes(ctx, *asset); err != nil {
		return err
	}
	fmt.Printf("tailing %s quotes for %s\n", *asset, *tail)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(*tail)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			if quote, ok := client.LatestQuote(*asset); ok {
				fmt.Printf("%s  %s  %s\n",
					quote.At.Format(time.RFC3339), quote.Pair, quote.Price)
			}
		}
	}
}
