package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/DIMO-Network/shared"
	"github.com/DIMO-Network/updates-client/internal/app"
	"github.com/DIMO-Network/updates-client/internal/client/manifest"
	"github.com/DIMO-Network/updates-client/internal/config"
	"github.com/DIMO-Network/updates-client/internal/reload"
	"github.com/DIMO-Network/updates-client/internal/sink"
	"github.com/DIMO-Network/updates-client/internal/store"
	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	pkgconfig "github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/DIMO-Network/updates-client/pkg/server"
	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/DIMO-Network/updates-client/pkg/updates"
	"github.com/DIMO-Network/updates-client/pkg/wellknown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const updatesEnvPrefix = "UPDATES_"

func main() {
	logger := server.DefaultLogger("updates-client")

	// create a flag for the settings file
	settingsFile := flag.String("settings", "settings.yaml", "settings file")
	flag.Parse()
	settings, err := shared.LoadConfig[config.Settings](*settingsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't load settings.")
	}
	if err := server.SetLevel(settings.LogLevel); err != nil {
		logger.Fatal().Err(err).Msg("Invalid log level.")
	}
	updatesSettings, err := pkgconfig.FromEnvironment[pkgconfig.UpdatesSettings](updatesEnvPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't load updates settings.")
	}

	signing, err := codeSigningConfiguration(&updatesSettings.CodeSigning, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't create code signing configuration.")
	}

	db, err := store.Open(settings.DatabasePath, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't open database.")
	}
	defer db.Close() //nolint:errcheck // ignore error
	logPreviousSession(db, logger)

	var natsSink statemachine.EventSink
	if settings.NATSURL != "" {
		conn, err := sink.Connect(settings.NATSURL, "updates-client", *logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Couldn't connect to NATS.")
		}
		defer conn.Drain() //nolint:errcheck // ignore error
		natsSink = sink.NewNATSSink(conn, settings.NATSSubject, *logger)
	}

	latest := &statemachine.Latest{}
	machine := statemachine.NewMachine(statemachine.MultiSink{latest, db, natsSink}, statemachine.WithLogger(*logger))
	queue := statemachine.NewSerialExecutorQueue(machine, *logger)

	downloader, err := manifest.NewService(&updatesSettings.TLS)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't create manifest client.")
	}
	reloader := reload.NewCommandReloader(settings.ReloadCommand, settings.ReloadTimeout, *logger)
	service, err := updates.NewService(&updatesSettings, downloader, db, signing, reloader)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't create updates service.")
	}

	ctrl := app.NewController(service, queue, machine, latest, db, logger)
	webApp := app.CreateWebServer(logger, ctrl)
	wellknown.RegisterRoutes(webApp, wellknown.NewController(signing))
	monApp := CreateMonitoringServer(strconv.Itoa(settings.MonPort), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return queue.Start(groupCtx)
	})
	queue.QueueExecution(service.Startup())
	scheduleChecks(groupCtx, updatesSettings.CheckInterval, queue, service, logger)

	logger.Info().Str("port", strconv.Itoa(settings.MonPort)).Msgf("Starting monitoring server")
	server.RunFiber(groupCtx, monApp, ":"+strconv.Itoa(settings.MonPort), group)
	logger.Info().Str("port", strconv.Itoa(settings.Port)).Msgf("Starting web server")
	server.RunFiber(groupCtx, webApp, ":"+strconv.Itoa(settings.Port), group)

	err = group.Wait()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to run servers.")
	}
}

func codeSigningConfiguration(settings *pkgconfig.CodeSigningSettings, logger *zerolog.Logger) (*codesigning.Configuration, error) {
	if !settings.Enabled() {
		logger.Warn().Msg("Code signing is disabled, manifests will not be verified.")
		return nil, nil
	}
	certificate, err := settings.LoadCertificate()
	if err != nil {
		return nil, err
	}
	return codesigning.NewConfiguration(
		certificate,
		codesigning.Metadata{KeyID: settings.KeyID, Algorithm: settings.Algorithm},
		settings.IncludeManifestResponseCertificateChain,
		settings.AllowUnsignedManifests,
		codesigning.WithLogger(*logger),
	)
}

func logPreviousSession(db *store.Store, logger *zerolog.Logger) {
	snapshot, savedAt, err := db.LoadSnapshot()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to load previous state snapshot.")
		}
		return
	}
	logger.Info().
		Str("lastEvent", string(snapshot.EventType)).
		Int("restartCount", snapshot.Context.RestartCount).
		Time("savedAt", savedAt).
		Msg("Loaded state from previous session.")
}

// scheduleChecks enqueues a check-and-fetch every interval while the queue is idle.
func scheduleChecks(ctx context.Context, interval time.Duration, queue *statemachine.SerialExecutorQueue, service *updates.Service, logger *zerolog.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if queue.Len() > 0 {
					logger.Debug().Msg("Procedures pending, skipping scheduled check.")
					continue
				}
				queue.QueueExecution(service.CheckAndFetch())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func CreateMonitoringServer(port string, logger *zerolog.Logger) *fiber.App {
	monApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	monApp.Get("/", func(c *fiber.Ctx) error { return nil })
	monApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return monApp
}
