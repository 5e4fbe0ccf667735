// Package seed brings a fresh store to its baseline: an administrative user
// and the initial site settings. Every record is checked for existence on its
// own before it is written, so running the seeder again only performs the
// work a previous run did not finish.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zervios-cms/internal/collections"
	"zervios-cms/internal/config"
	"zervios-cms/internal/engine"
	"zervios-cms/internal/instrument"
	"zervios-cms/internal/metadata"
)

// Identity is the caller seeding runs as. It goes through the same access
// rules as any other admin.
var Identity = metadata.Identity{ID: "seed", Roles: []string{"admin"}}

// Record is one baseline document. Collection records name a natural key
// field; a global record is keyed by its own existence.
type Record struct {
	Target string
	Key    string
	Data   map[string]any
}

// Result is the outcome of one record.
type Result struct {
	Target  string `json:"target"`
	Key     string `json:"key,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	Results []Result `json:"results"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
}

// Records returns the baseline records for the given configuration. A missing
// admin password is passed through so the user record fails validation
// instead of being created with a made-up credential.
func Records(cfg config.SeedConfig) []Record {
	user := map[string]any{
		metadata.AuthEmailField: cfg.AdminEmail,
		"name":                  "Admin User",
		"roles":                 []any{"admin"},
	}
	if cfg.AdminPassword != "" {
		user[engine.PasswordField] = cfg.AdminPassword
	}
	return []Record{
		{Target: collections.UsersSlug, Key: metadata.AuthEmailField, Data: user},
		{Target: collections.SettingsSlug, Data: map[string]any{
			"siteName":        cfg.SiteName,
			"siteDescription": cfg.SiteDescription,
		}},
	}
}

type Seeder struct {
	svc    *engine.Service
	logger zerolog.Logger
}

func New(svc *engine.Service, logger zerolog.Logger) *Seeder {
	return &Seeder{svc: svc, logger: logger}
}

// Run applies each record independently. Failures are logged and reported;
// they never stop the remaining records.
func (s *Seeder) Run(ctx context.Context, records []Record) Report {
	start := time.Now()
	rec := instrument.GetRecorder(ctx)
	report := Report{Results: make([]Result, 0, len(records))}

	for _, r := range records {
		res := s.apply(ctx, r)
		rec.SeedRecord(r.Target, res.Outcome)
		report.Results = append(report.Results, res)

		event := s.logger.Info()
		switch res.Outcome {
		case instrument.OutcomeCreated:
			report.Created++
		case instrument.OutcomeSkipped:
			report.Skipped++
			event = s.logger.Debug()
		default:
			report.Failed++
			event = s.logger.Error().Str("error", res.Error)
		}
		event.Str("target", r.Target).Str("key", res.Key).Str("outcome", res.Outcome).Msg("seed record")
	}

	s.logger.Info().
		Int("created", report.Created).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("seed finished")
	return report
}

func (s *Seeder) apply(ctx context.Context, r Record) Result {
	res := Result{Target: r.Target}
	fail := func(err error) Result {
		res.Outcome = instrument.OutcomeFailed
		res.Error = describe(err)
		return res
	}

	schema, err := s.svc.Registry().Resolve(r.Target)
	if err != nil {
		return fail(err)
	}

	if schema.IsGlobal() {
		doc, err := s.svc.GetGlobal(ctx, Identity, r.Target, 0)
		if err != nil {
			return fail(err)
		}
		if engine.GlobalInitialized(doc) {
			res.Outcome = instrument.OutcomeSkipped
			return res
		}
		if _, err := s.svc.UpdateGlobal(ctx, Identity, r.Target, r.Data); err != nil {
			return fail(err)
		}
		res.Outcome = instrument.OutcomeCreated
		return res
	}

	if r.Key == "" {
		return fail(fmt.Errorf("seed record for %s has no natural key", r.Target))
	}
	value := r.Data[r.Key]
	res.Key, _ = value.(string)
	page, err := s.svc.Find(ctx, Identity, r.Target, engine.FindQuery{
		Where: []metadata.Condition{metadata.Eq(r.Key, value)},
		Limit: 1,
	})
	if err != nil {
		return fail(err)
	}
	if page.Total > 0 {
		res.Outcome = instrument.OutcomeSkipped
		return res
	}
	if _, err := s.svc.Create(ctx, Identity, r.Target, r.Data); err != nil {
		return fail(err)
	}
	res.Outcome = instrument.OutcomeCreated
	return res
}

// describe flattens validation details into the message.
func describe(err error) string {
	var appErr *engine.AppError
	if !errors.As(err, &appErr) || len(appErr.Details) == 0 {
		return err.Error()
	}
	parts := make([]string, len(appErr.Details))
	for i, d := range appErr.Details {
		parts[i] = d.Field + ": " + d.Message
	}
	return appErr.Message + " (" + strings.Join(parts, "; ") + ")"
}
