package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"statuswatch-backend/lib/configutil"
	"statuswatch-backend/lib/logutil"
	"statuswatch-backend/lib/restyutil"
	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/lib/scrapers/vantage/catalog"
	"statuswatch-backend/lib/serviceutil"
	"statuswatch-backend/lib/telemetry"
	"statuswatch-backend/services/keychain"
	keychaindb "statuswatch-backend/services/keychain/db"
	"statuswatch-backend/services/notify"
	"statuswatch-backend/services/statusquery"
	statusquerydb "statuswatch-backend/services/statusquery/db"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	logutil.Init(*verbose)
	ctx := serviceutil.SignalContext()

	t, err := telemetry.SetupFromEnv(ctx, "statuswatchd")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8400
	}

	keychainDatabase, err := cfg.Keychain.OpenDB(keychaindb.Schema)
	if err != nil {
		serviceutil.Fatal("open keychain database", err)
	}
	keychainService := keychain.NewService(keychainDatabase)

	auditDatabase, err := cfg.Audit.OpenDB(statusquerydb.Schema)
	if err != nil {
		serviceutil.Fatal("open audit database", err)
	}

	notifier := notify.New(cfg.Smtp)

	cat, err := catalog.Load(cfg.Portal.CatalogFile)
	if err != nil {
		serviceutil.Fatal("load selector catalog", err)
	}

	var instrumentOutput restyutil.InstrumentOutput
	if *verbose {
		instrumentOutput = restyutil.NewFilesystemOutput(".dev/resty/vantage")
	}
	client, err := vantage.NewClient(vantage.ClientOptions{
		BaseUrl:          cfg.Portal.BaseUrl,
		CloudflareBypass: cfg.Portal.CloudflareBypass,
		InstrumentOutput: instrumentOutput,
	})
	if err != nil {
		serviceutil.Fatal("create portal client", err)
	}

	sessionOpts := vantage.DefaultSessionOptions(keychain.Source{
		Svc:  keychainService,
		Name: cfg.Portal.CredentialName,
	})
	if cfg.Portal.SessionLifetimeMinutes > 0 {
		sessionOpts.SessionLifetime = time.Duration(cfg.Portal.SessionLifetimeMinutes) * time.Minute
	}
	if cfg.Portal.KeepaliveSeconds > 0 {
		sessionOpts.KeepaliveInterval = time.Duration(cfg.Portal.KeepaliveSeconds) * time.Second
	}
	sessionOpts.OnChallenge = func(challenge vantage.ChallengeInfo) {
		err := notifier.ChallengeDetected(context.Background(), challenge)
		if err != nil {
			slog.Warn("failed to send challenge alert", "challenge_id", challenge.Id, "err", err)
		}
	}
	session := vantage.NewSession(client, sessionOpts)
	go session.RunKeepalive(ctx)

	runner := statusquery.PortalRunner{
		Session: session,
		Engine:  vantage.NewEngine(cat),
	}
	if cfg.Renderer.Enabled {
		renderer := vantage.NewRenderer(vantage.RendererOptions{
			Bin:        cfg.Renderer.Bin,
			ControlUrl: cfg.Renderer.ControlUrl,
			Headless:   cfg.Renderer.Headless,
		})
		defer renderer.Close()
		runner.Renderer = renderer
	}
	if cfg.DumpsDir != "" {
		dumps := restyutil.NewFilesystemOutput(cfg.DumpsDir)
		runner.Dumps = &dumps
	}

	queries := statusquery.NewService(ctx, auditDatabase, runner, statusquery.Options{
		QueueCapacity:  cfg.Queries.QueueCapacity,
		RequestTimeout: cfg.Queries.requestTimeout(),
		RetainCount:    cfg.Queries.RetainCount,
		RetainAge:      cfg.Queries.retainAge(),
		Notifier:       notifier,
	})

	api := apiServer{
		queries:  queries,
		session:  session,
		keychain: keychainService,
		insecure: cfg.InsecureNoAuth,
	}
	mux := http.NewServeMux()
	mux.Handle("/v1/", api.handler())

	go serviceutil.StartHttpServer(cfg.Port, mux)
	<-ctx.Done()
}
