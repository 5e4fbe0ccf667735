package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"zervios-cms/internal/seed"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the baseline records if they are missing",
		Long: `Create the admin user (ADMIN_EMAIL / ADMIN_PASSWORD) and the initial site
settings. Records that already exist are skipped, so the command can be run
any number of times.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
}

func runSeed(ctx context.Context, opts *RootOptions, out io.Writer) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	report := seed.New(app.Service, logger).Run(app.Context(ctx), seed.Records(cfg.Seed))
	if err := writeReport(out, opts.Format, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d seed record(s) failed", report.Failed)
	}
	return nil
}

func writeReport(out io.Writer, format string, report seed.Report) error {
	if format == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	for _, r := range report.Results {
		line := fmt.Sprintf("%-8s %s", r.Outcome, r.Target)
		if r.Key != "" {
			line += " (" + r.Key + ")"
		}
		if r.Error != "" {
			line += ": " + r.Error
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "created %d, skipped %d, failed %d\n", report.Created, report.Skipped, report.Failed)
	return err
}
