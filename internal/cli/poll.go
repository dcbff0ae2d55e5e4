package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/youmna-rabie/aegis/internal/api"
	"github.com/youmna-rabie/aegis/internal/config"
	"github.com/youmna-rabie/aegis/internal/poller"
	"github.com/youmna-rabie/aegis/internal/types"
)

func init() {
	rootCmd.AddCommand(pollCmd)
}

var pollCmd = &cobra.Command{
	Use:   "poll <request-id>",
	Short: "Follow the on-chain status of an aid request until it is fulfilled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid request id %q", args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return pollRequest(ctx, cmd.OutOrStdout(), cfg, newLogger(cfg.Logging), id)
	},
}

// pollRequest prints each status transition of request id and returns once a
// terminal status is seen or ctx is done.
func pollRequest(ctx context.Context, w io.Writer, cfg *config.Config, logger *slog.Logger, id int64) error {
	client, err := api.NewClient(api.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: rate.Limit(cfg.API.RateLimit),
		Burst:     cfg.API.Burst,
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	var (
		mu   sync.Mutex
		once sync.Once
		last types.Status
	)
	p := poller.New(poller.Options{
		Fetcher:      client,
		Interval:     cfg.Poller.Interval,
		FetchTimeout: cfg.Poller.FetchTimeout,
		Logger:       logger,
		// OnChange runs for every applied fetch; print transitions only.
		OnChange: func(st types.RequestStatus) {
			mu.Lock()
			defer mu.Unlock()
			if st.Status == last {
				return
			}
			last = st.Status
			printStatus(w, st)
			if st.Status.Terminal() {
				once.Do(func() { close(done) })
			}
		},
	})
	defer p.Stop()

	p.Start(&id)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if msg := p.LastError(); msg != nil {
			return fmt.Errorf("polling stopped: last error: %s", *msg)
		}
		return nil
	}
}

func printStatus(w io.Writer, st types.RequestStatus) {
	line := fmt.Sprintf("request %d  %-15s", st.RequestID, st.Status)
	if st.Provider != "" {
		line += fmt.Sprintf("  provider %s  $%.2f", st.Provider, st.CostUSD)
	}
	fmt.Fprintln(w, line)
}
