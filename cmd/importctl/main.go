package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/bootstrap"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/config"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/dto"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:])
	case "submit":
		err = submitCommand(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "importctl:", err)
		os.Exit(1)
	}
}

// importFlags are shared by run and submit
type importFlags struct {
	integration   string
	components    string
	since         string
	until         string
	transformOnly bool
}

func (f *importFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.integration, "integration", "", "Integration ID (default: every active integration)")
	fs.StringVar(&f.components, "components", "", "Comma-separated components (default: all of the vendor)")
	fs.StringVar(&f.since, "since", "", "Window start, RFC3339 (default: cursor watermark)")
	fs.StringVar(&f.until, "until", "", "Window end, RFC3339 (default: now)")
	fs.BoolVar(&f.transformOnly, "transform-only", false, "Re-transform staged records without fetching")
}

func (f *importFlags) window() (since, until *time.Time, err error) {
	if since, err = parseTime("since", f.since); err != nil {
		return nil, nil, err
	}
	if until, err = parseTime("until", f.until); err != nil {
		return nil, nil, err
	}
	if since != nil && until != nil && !since.Before(*until) {
		return nil, nil, errors.New("-since must be before -until")
	}
	return since, until, nil
}

// runCommand executes imports in this process, one integration after another,
// and prints each run's ledger entry
func runCommand(ctx context.Context, args []string) error {
	var flags importFlags
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flags.bind(fs)
	_ = fs.Parse(args)

	since, until, err := flags.window()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	obs, err := bootstrap.NewObservability(ctx, cfg)
	if err != nil {
		return err
	}
	log := obs.Logger
	defer func() {
		_ = obs.Shutdown(context.Background())
	}()

	engine, err := bootstrap.NewEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = engine.Close()
	}()

	targets, err := runTargets(ctx, engine.Integrations, flags.integration)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		log.Info("No active integrations to import")
		return nil
	}

	jobID := uuid.New()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	var failed []string
	for _, id := range targets {
		if ctx.Err() != nil {
			break
		}
		run, err := engine.Orchestrator.RunImport(ctx, integration.RunRequest{
			JobID:         jobID,
			IntegrationID: id,
			Components:    parseComponents(flags.components),
			Since:         since,
			Until:         until,
			TransformOnly: flags.transformOnly,
			Trigger:       integration.RunTriggerCLI,
		})
		if run != nil {
			_ = enc.Encode(dto.ToRunResponse(run))
		}
		if err != nil {
			log.Error("Import failed", zap.String("integration_id", id.String()), zap.Error(err))
			failed = append(failed, id.String())
			continue
		}
		if run.Status != integration.RunStatusSucceeded {
			failed = append(failed, id.String())
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d imports did not succeed: %s", len(failed), len(targets), strings.Join(failed, ", "))
	}
	return ctx.Err()
}

// runTargets resolves the integrations to import: the given one, or every active one
func runTargets(ctx context.Context, repo integration.IntegrationRepository, raw string) ([]uuid.UUID, error) {
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("-integration: %w", err)
		}
		return []uuid.UUID{id}, nil
	}
	active, err := repo.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(active))
	for _, i := range active {
		ids = append(ids, i.ID)
	}
	return ids, nil
}

// submitCommand queues an import on a running server and prints the job id
func submitCommand(ctx context.Context, args []string) error {
	var (
		flags    importFlags
		server   string
		priority string
		timeout  time.Duration
	)
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	flags.bind(fs)
	fs.StringVar(&server, "server", envOr("AFP_SERVER_URL", "http://localhost:8080"), "Base URL of the AFP integration server")
	fs.StringVar(&priority, "priority", "", "Lane: high, normal or periodic (default: high for one integration, normal for all)")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	_ = fs.Parse(args)

	since, until, err := flags.window()
	if err != nil {
		return err
	}

	req := dto.SubmitImportRequest{
		Components:    componentStrings(parseComponents(flags.components)),
		Since:         since,
		Until:         until,
		TransformOnly: flags.transformOnly,
		Priority:      priority,
	}
	if flags.integration != "" {
		req.IntegrationID = &flags.integration
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := newAPIClient(server, nil).SubmitImport(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("-%s: expected RFC3339, got %q", name, raw)
	}
	t = t.UTC()
	return &t, nil
}

func parseComponents(raw string) []integration.Component {
	var out []integration.Component
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, integration.Component(part))
		}
	}
	return out
}

func componentStrings(components []integration.Component) []string {
	if len(components) == 0 {
		return nil
	}
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = string(c)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println(`AFP Integration import control

Usage:
  importctl <command> [flags]

Commands:
  run       Run imports in this process and print the run ledger entries
  submit    Queue an import on a running server and print the job id

Flags (run and submit):
  -integration string     Integration ID (default: every active integration)
  -components string      Comma-separated components, e.g. accounts,invoices
  -since string           Window start, RFC3339 (default: cursor watermark)
  -until string           Window end, RFC3339 (default: now)
  -transform-only         Re-transform staged records without fetching

Flags (submit):
  -server string          Server base URL (default: $AFP_SERVER_URL or http://localhost:8080)
  -priority string        high, normal or periodic
  -timeout duration       Request timeout (default: 30s)

Examples:
  # Import the invoices of one Xero integration since the start of the year
  importctl run -integration 3f0c... -components invoices -since 2026-01-01T00:00:00Z

  # Queue a full import of every active integration
  importctl submit -priority normal`)
}
