package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	identitytransfer "github.com/goliatone/go-identity-transfer"
	"github.com/goliatone/go-identity-transfer/adapters/gologger"
	"github.com/goliatone/go-identity-transfer/core"
	identitymigrations "github.com/goliatone/go-identity-transfer/migrations"
	"github.com/goliatone/go-identity-transfer/query"
	glog "github.com/goliatone/go-logger/glog"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type Globals struct {
	Config      string        `help:"YAML config file." type:"path" env:"IDENTITY_TRANSFER_CONFIG"`
	LogLevel    string        `help:"Log level: trace, debug, info, warn, error." default:"info"`
	LogFormat   string        `help:"Log format: json or text." default:"json" enum:"json,text"`
	StoreDriver string        `help:"Override store.driver (mongo, postgres, sqlite3)."`
	StoreDSN    string        `help:"Override store.dsn."`
	PageSize    int           `help:"Override run.page_size."`
	MaxAttempts int           `help:"Override run.max_attempts."`
	Timeout     time.Duration `help:"Abort the command after this long. Zero waits indefinitely."`
}

type CLI struct {
	Globals

	PhaseOne      PhaseOneCmd      `cmd:"" name:"phase-one" help:"Record transfer identifiers for users of the current team."`
	PhaseTwo      PhaseTwoCmd      `cmd:"" name:"phase-two" help:"Exchange transfer identifiers for the receiving team's identity."`
	MigrateSchema MigrateSchemaCmd `cmd:"" name:"migrate-schema" help:"Apply the SQL schema for the postgres and sqlite3 stores."`
	IssueToken    IssueTokenCmd    `cmd:"" name:"issue-token" help:"Check provider credentials by issuing one access token."`
	ListRuns      ListRunsCmd      `cmd:"" name:"list-runs" help:"List recorded migration runs."`
	GetUser       GetUserCmd       `cmd:"" name:"get-user" help:"Show the credential fields of one user."`
}

type app struct {
	globals Globals
	cfg     identitytransfer.Config
	logger  *gologger.SlogLogger
	out     io.Writer
}

func newApp(ctx context.Context, globals Globals, out io.Writer, errOut io.Writer) (*app, error) {
	logger, err := gologger.NewSlogLogger(errOut, gologger.Options{
		Format: globals.LogFormat,
		Level:  globals.LogLevel,
	})
	if err != nil {
		return nil, err
	}

	runtime := core.StaticConfigLoader{
		"store.driver":     globals.StoreDriver,
		"store.dsn":        globals.StoreDSN,
		"run.page_size":    globals.PageSize,
		"run.max_attempts": globals.MaxAttempts,
	}
	cfg, err := identitytransfer.LoadConfig(ctx, identitytransfer.ConfigSources{
		File:    core.FileConfigLoader{Path: globals.Config, Optional: globals.Config == ""},
		Env:     core.EnvConfigLoader{},
		Runtime: runtime,
	})
	if err != nil {
		return nil, err
	}
	return &app{globals: globals, cfg: cfg, logger: logger, out: out}, nil
}

func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.globals.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.globals.Timeout)
}

func (a *app) log() glog.Logger {
	return a.logger.Named(a.cfg.ServiceName)
}

func (a *app) open(ctx context.Context) (*identitytransfer.Facade, error) {
	return identitytransfer.New(ctx, a.cfg,
		identitytransfer.WithFacadeLoggerProvider(gologger.NewProvider(a.logger)),
	)
}

func (a *app) print(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

type runSummary struct {
	RunID           string `json:"run_id"`
	Phase           string `json:"phase"`
	Scanned         int    `json:"scanned"`
	Updated         int    `json:"updated"`
	AlreadyMigrated int    `json:"already_migrated"`
	Conflicts       int    `json:"conflicts"`
	Failed          int    `json:"failed"`
	Interrupted     bool   `json:"interrupted"`
	Duration        string `json:"duration"`
}

func summarize(report core.RunReport) runSummary {
	return runSummary{
		RunID:           report.RunID,
		Phase:           string(report.Phase),
		Scanned:         report.Scanned,
		Updated:         report.Updated,
		AlreadyMigrated: report.AlreadyMigrated,
		Conflicts:       report.Conflicts,
		Failed:          report.Failed,
		Interrupted:     report.Interrupted,
		Duration:        report.Duration().String(),
	}
}

type PhaseOneCmd struct{}

func (c *PhaseOneCmd) Run(ctx context.Context, a *app) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	facade, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer facade.Close(context.Background())

	bus, err := facade.Bus()
	if err != nil {
		return err
	}
	defer bus.Close()

	report, runErr := bus.RunPhaseOne(ctx)
	if report.RunID != "" {
		if err := a.print(summarize(report)); err != nil {
			return err
		}
	}
	return runErr
}

type PhaseTwoCmd struct {
	ConfirmTransferComplete bool   `name:"confirm-transfer-complete" help:"Attest that the team transfer has completed in App Store Connect."`
	ConfirmedBy             string `name:"confirmed-by" help:"Who confirmed the transfer. Defaults to $USER." env:"USER"`
}

func (c *PhaseTwoCmd) Run(ctx context.Context, a *app) error {
	if !c.ConfirmTransferComplete {
		return fmt.Errorf("phase-two requires --confirm-transfer-complete once the team transfer has completed")
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	facade, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer facade.Close(context.Background())

	bus, err := facade.Bus()
	if err != nil {
		return err
	}
	defer bus.Close()

	report, runErr := bus.RunPhaseTwo(ctx, core.TransferConfirmation{
		Confirmed:   true,
		ConfirmedBy: strings.TrimSpace(c.ConfirmedBy),
	})
	if report.RunID != "" {
		if err := a.print(summarize(report)); err != nil {
			return err
		}
	}
	return runErr
}

type MigrateSchemaCmd struct{}

func (c *MigrateSchemaCmd) Run(ctx context.Context, a *app) error {
	if _, err := identitymigrations.DialectForDriver(a.cfg.Store.Driver); err != nil {
		return err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	client, err := identitytransfer.OpenPersistence(a.cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	dialect, err := identitymigrations.Apply(ctx, client, a.cfg.Store.Driver)
	if err != nil {
		return err
	}
	a.log().Info("schema migrated", "dialect", dialect, "driver", a.cfg.Store.Driver)
	return nil
}

type IssueTokenCmd struct {
	ShowToken bool `name:"show-token" help:"Print the access token instead of a redacted prefix."`
}

func (c *IssueTokenCmd) Run(ctx context.Context, a *app) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	facade, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer facade.Close(context.Background())

	creds, err := facade.IssueToken(ctx)
	if err != nil {
		return err
	}
	token := creds.AccessToken
	if !c.ShowToken {
		token = redact(token)
	}
	return a.print(map[string]string{"access_token": token})
}

type ListRunsCmd struct {
	Phase string `help:"Only list runs of this phase (one, two)."`
	Limit int    `help:"Maximum runs to list." default:"20"`
}

func (c *ListRunsCmd) Run(ctx context.Context, a *app) error {
	var phase core.Phase
	if strings.TrimSpace(c.Phase) != "" {
		parsed, err := core.ParsePhase(c.Phase)
		if err != nil {
			return err
		}
		phase = parsed
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	facade, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer facade.Close(context.Background())

	bus, err := facade.Bus()
	if err != nil {
		return err
	}
	defer bus.Close()

	runs, err := bus.ListRuns(ctx, query.ListRunsMessage{Phase: phase, Limit: c.Limit})
	if err != nil {
		return err
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run))
	}
	return a.print(summaries)
}

type GetUserCmd struct {
	ID string `arg:"" help:"User id."`
}

func (c *GetUserCmd) Run(ctx context.Context, a *app) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	facade, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer facade.Close(context.Background())

	bus, err := facade.Bus()
	if err != nil {
		return err
	}
	defer bus.Close()

	record, err := bus.GetUser(ctx, c.ID)
	if err != nil {
		return err
	}
	return a.print(map[string]any{
		"id":            record.ID,
		"registered_at": record.RegisteredAt,
		"state":         record.State(),
		"sub":           record.ProviderSub,
		"transfer_sub":  record.TransferSub,
		"email":         record.ProviderEmail,
	})
}

func redact(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}
