// Command bloodlink posts a blood request, runs a matching pass and prints the
// request log. With -serve it keeps running and exposes metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bloodlink/internal/app"
	"bloodlink/internal/config"
	"bloodlink/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	configPath    string
	seed          bool
	requesterID   string
	requesterName string
	bloodType     string
	units         int
	asJSON        bool
	history       bool
	purgeBefore   time.Duration
	serve         bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bloodlink", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to configuration yaml (BLOODLINK_* variables override it)")
	fs.BoolVar(&opts.seed, "seed", false, "register the demo donors and partner stock")
	fs.StringVar(&opts.requesterID, "requester", "district_clinic_id", "requesting facility id")
	fs.StringVar(&opts.requesterName, "requester-name", "District Clinic", "requesting facility display name")
	fs.StringVar(&opts.bloodType, "blood-type", "", "blood type to request, e.g. B-")
	fs.IntVar(&opts.units, "units", 1, "units required")
	fs.BoolVar(&opts.asJSON, "json", false, "print the request and run result as JSON")
	fs.BoolVar(&opts.history, "history", false, "print the requester's archived requests")
	fs.DurationVar(&opts.purgeBefore, "purge-before", 0, "delete the requester's archived requests older than this age")
	fs.BoolVar(&opts.serve, "serve", false, "keep running and serve metrics until interrupted")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "bloodlink: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	container, err := app.New(ctx, cfg, app.WithLogOutput(stderr))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = errors.Join(err, container.Close(shutdownCtx))
	}()

	if opts.seed {
		if err := app.SeedDemo(ctx, container.Service()); err != nil {
			return err
		}
	}
	if opts.bloodType != "" {
		if err := postAndMatch(ctx, container, opts, stdout); err != nil {
			return err
		}
	}
	if opts.purgeBefore > 0 {
		removed, err := container.Service().PurgeArchivedRequests(ctx, opts.requesterID, time.Now().Add(-opts.purgeBefore))
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "purged %d archived requests for %s\n", removed, opts.requesterID)
	}
	if opts.history {
		if err := printHistory(ctx, container, opts, stdout); err != nil {
			return err
		}
	}
	if opts.serve {
		return serve(ctx, container)
	}
	return nil
}

func postAndMatch(ctx context.Context, container *app.Container, opts options, stdout io.Writer) error {
	bt, err := domain.ParseBloodType(opts.bloodType)
	if err != nil {
		return err
	}
	svc := container.Service()
	req, err := svc.CreateRequest(ctx, opts.requesterID, opts.requesterName, bt, opts.units)
	if err != nil {
		return err
	}
	updated, result, err := svc.Match(ctx, req.ID)
	if err != nil {
		return err
	}
	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Request domain.Request   `json:"request"`
			Result  domain.RunResult `json:"result"`
		}{updated, result})
	}
	for _, line := range updated.Log {
		if _, err := fmt.Fprintln(stdout, line); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(stdout, "request %s: %d/%d units, status %s\n", updated.ID, updated.UnitsFulfilled, updated.UnitsRequired, updated.Status)
	return err
}

func printHistory(ctx context.Context, container *app.Container, opts options, stdout io.Writer) error {
	archived, err := container.Service().ArchivedRequests(ctx, opts.requesterID)
	if err != nil {
		return err
	}
	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(archived)
	}
	for _, req := range archived {
		if _, err := fmt.Fprintf(stdout, "%s %s %s %d/%d units, status %s\n",
			req.PostedAt.Format(time.RFC3339), req.ID, req.BloodType, req.UnitsFulfilled, req.UnitsRequired, req.Status); err != nil {
			return err
		}
	}
	return nil
}

func serve(ctx context.Context, container *app.Container) error {
	cfg := container.Config().Observability.Metrics
	handler := container.MetricsHandler()
	if handler == nil || cfg.Listen == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	container.Logger().Sugar().Infow("metrics listening", "addr", cfg.Listen)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
