// Command challengectld is the ChallengeCtl controller process: it wires
// every domain package together and serves the worker, receiver, and
// operator protocols over HTTP. Matches the teacher's
// cmd/cliaimonitor/main.go shape — everything constructed directly in
// main, no dependency-injection framework (spec.md §2).
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CLIAIMONITOR/internal/artifact"
	"github.com/CLIAIMONITOR/internal/assignment"
	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/enrollment"
	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/notify"
	"github.com/CLIAIMONITOR/internal/recording"
	"github.com/CLIAIMONITOR/internal/server"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/sweep"
	"github.com/CLIAIMONITOR/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/challengectl.yaml", "Configuration file")
	flag.Parse()

	log := logging.New("MAIN")

	cfgLoader, err := config.NewLoader(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgLoader.Current()

	boxKey, err := secretBoxMaterial(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	s, err := store.Open(cfg.DataDir + "/challengectl.db")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	eventDB, err := sql.Open("sqlite3", cfg.DataDir+"/events.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open event log: %v\n", err)
		os.Exit(1)
	}
	defer eventDB.Close()

	eventStore, err := events.NewSQLiteStore(eventDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init event log: %v\n", err)
		os.Exit(1)
	}
	bus := events.NewBus(eventStore)
	eventNotifier := server.NewEventNotifier(bus)

	authSvc := auth.NewService(s, boxKey, cfg.Issuer)
	enrollSvc := enrollment.NewService(s)

	artifactStore, err := artifact.NewStore(cfg.ArtifactDir, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open artifact store: %v\n", err)
		os.Exit(1)
	}

	catalog := buildCatalog(cfg.FreqRanges)
	engine := assignment.NewEngine(s, catalog, eventNotifier)
	coordinator := recording.NewCoordinator(s, eventNotifier, recording.DefaultThreshold)
	sweepRunner := sweep.NewRunner(s, eventNotifier, authSvc.Replay())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rejected := config.ImportChallenges(ctx, s, cfg.FreqRanges, cfg.Challenges); len(rejected) > 0 {
		for name, err := range rejected {
			log.Printf("rejected challenge %q from config: %v", name, err)
		}
	}

	sweepRunner.Start(ctx)

	var mirror *notify.Mirror
	if cfg.NATSURL != "" {
		client, err := notify.NewClient(cfg.NATSURL)
		if err != nil {
			log.Printf("NATS mirror disabled: %v", err)
		} else {
			defer client.Close()
			mirror = notify.NewMirror(client, bus)
			go mirror.Run(ctx)
		}
	}

	srv := server.New(server.Deps{
		Store:       s,
		Auth:        authSvc,
		Enrollment:  enrollSvc,
		Artifacts:   artifactStore,
		Engine:      engine,
		Recorder:    coordinator,
		Bus:         bus,
		Notifier:    eventNotifier,
		Config:      cfgLoader,
		BindAddress: cfg.BindAddress,
		Port:        cfg.Port,
	})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("starting on %s:%d", cfg.BindAddress, cfg.Port)
	if err := srv.Run(sigCtx); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("stopped")
}

// buildCatalog indexes the configured named frequency ranges by name for
// the Assignment Engine's named-range sampling form (spec.md §4.5.2).
func buildCatalog(ranges []types.NamedFreqRange) assignment.RangeCatalog {
	catalog := make(assignment.RangeCatalog, len(ranges))
	for _, r := range ranges {
		catalog[r.Name] = types.FreqRangeRaw{MinHz: r.MinHz, MaxHz: r.MaxHz}
	}
	return catalog
}

// secretBoxMaterial decodes the configured hex key, or falls back to a
// random one for an unconfigured dev install — TOTP secrets encrypted
// under a throwaway key will not decrypt after a restart, so a deployment
// meant to persist across restarts must set secret_key_hex.
func secretBoxMaterial(cfg *types.Config, log *logging.Logger) ([]byte, error) {
	if cfg.SecretKeyHex == "" {
		log.Printf("no secret_key_hex configured, generating an ephemeral key (TOTP secrets will not survive a restart)")
		return randomKey()
	}
	key, err := hex.DecodeString(cfg.SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("secret_key_hex is not valid hex: %w", err)
	}
	return key, nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate random secret key: %w", err)
	}
	return key, nil
}
