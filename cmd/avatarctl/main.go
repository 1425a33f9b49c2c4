package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/container"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/identity"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/repository"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/service"
	"github.com/lyzr/avatar-proxy/common/bootstrap"
	"github.com/lyzr/avatar-proxy/common/config"
	"github.com/lyzr/avatar-proxy/common/logger"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// app is the container a command runs against
type app struct {
	*container.Container
}

// newApp loads the service configuration and wires the same container the
// HTTP service uses. Logs go to stderr so stdout stays parseable. The
// caller must defer a.Close().
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load("avatarctl")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)

	components, err := bootstrap.Setup(ctx, "avatarctl",
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithCustomLogger(log),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping: %w", err)
	}

	c, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Shutdown(ctx)
		return nil, fmt.Errorf("initializing container: %w", err)
	}
	return &app{Container: c}, nil
}

func (a *app) Close() {
	_ = a.Components.Shutdown(context.Background())
}

// parseIdentities validates and canonicalises every argument
func parseIdentities(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, raw := range args {
		if !identity.Validate(raw) {
			return nil, fmt.Errorf("invalid identity %q: must be 64 hexadecimal characters", raw)
		}
		out = append(out, identity.Normalize(raw))
	}
	return out, nil
}

var rootCmd = &cobra.Command{
	Use:          "avatarctl",
	Short:        "Operate the avatar proxy cache",
	SilenceUsage: true,
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve IDENTITY",
	Short: "Resolve an avatar through the cache, refreshing it if stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetString("size")
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		ids, err := parseIdentities(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.AvatarService.Resolve(ctx, service.Request{
			Identity: ids[0],
			Size:     models.ParseSize(size),
			Format:   models.ParseFormat(format),
		})
		if err != nil {
			if ae, ok := service.AsAvatarError(err); ok {
				return fmt.Errorf("%d %s: %s", ae.StatusCode, ae.Kind, ae.Message)
			}
			return err
		}

		if out != "" {
			if err := os.WriteFile(out, resp.Body, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
		}

		fmt.Printf("Cache:         %s\n", resp.CacheStatus)
		fmt.Printf("Content-Type:  %s\n", resp.ContentType)
		fmt.Printf("ETag:          %s\n", resp.ETag)
		fmt.Printf("Last-Modified: %s\n", resp.LastModified.Format(time.RFC3339))
		fmt.Printf("Bytes:         %d\n", len(resp.Body))
		return nil
	},
}

// prime command
var primeCmd = &cobra.Command{
	Use:   "prime IDENTITY...",
	Short: "Record placeholders for a batch of identities with one relay query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIdentities(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Scanner.Prime(ctx, ids)
		if err != nil {
			return fmt.Errorf("priming: %w", err)
		}

		fmt.Printf("Profiles found: %d of %d\n", result.Events, len(ids))
		fmt.Printf("Discovered: %d  Updated: %d  Reset: %d  Skipped: %d\n",
			result.Discovered, result.Updated, result.Reset, result.Skipped)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one discovery pass over recent profile events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if limit <= 0 {
			limit = a.Components.Config.Scanner.Limit
		}

		result, err := a.Scanner.ScanRecent(ctx, limit)
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}

		fmt.Printf("Events: %d\n", result.Events)
		fmt.Printf("Discovered: %d  Updated: %d  Reset: %d  Skipped: %d\n",
			result.Discovered, result.Updated, result.Reset, result.Skipped)
		return nil
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune expired records, their blobs and orphaned blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAgeDays, _ := cmd.Flags().GetInt("max-age-days")

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if maxAgeDays <= 0 {
			maxAgeDays = a.Components.Config.Scanner.RetentionDays
		}

		result, err := a.Scanner.Cleanup(ctx, maxAgeDays)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}

		fmt.Printf("Scanned: %d  Expired: %d  Blobs deleted: %d  Orphans: %d  Failed: %d\n",
			result.Scanned, result.Expired, result.BlobsDeleted, result.Orphans, result.Failed)
		return nil
	},
}

// inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect IDENTITY",
	Short: "Print the stored cache record for an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIdentities(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		record, status := a.AvatarService.Inspect(ctx, ids[0])
		switch status {
		case repository.NotFound:
			fmt.Printf("No cache record for %s\n", ids[0])
			return nil
		case repository.Unavailable:
			return fmt.Errorf("metadata store unavailable")
		}

		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringP("size", "s", "", "Edge length: 200, 400 or 800")
	resolveCmd.Flags().StringP("format", "f", "", "Output format: webp, jpeg or png")
	resolveCmd.Flags().StringP("out", "o", "", "Write the image bytes to this file")

	rootCmd.AddCommand(primeCmd)

	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntP("limit", "n", 0, "Maximum events to read (default SCANNER_LIMIT)")

	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Int("max-age-days", 0, "Prune records older than this (default SCANNER_RETENTION_DAYS)")

	rootCmd.AddCommand(inspectCmd)
}
