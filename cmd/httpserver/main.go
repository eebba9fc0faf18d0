package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/arcadia-cloud/tenant-split-backend/api/adminhandler"
	"github.com/arcadia-cloud/tenant-split-backend/api/migrationhandler"
	"github.com/arcadia-cloud/tenant-split-backend/auth"
	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/common"
	"github.com/arcadia-cloud/tenant-split-backend/datastore"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/httpserver"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/metrics"
	"github.com/arcadia-cloud/tenant-split-backend/orchestrator"
	"github.com/arcadia-cloud/tenant-split-backend/platform"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
	"github.com/arcadia-cloud/tenant-split-backend/statestore"
	"github.com/arcadia-cloud/tenant-split-backend/storage"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "platform-addr",
		Value: "http://127.0.0.1:9000",
		Usage: "base URL of the platform provisioning API",
	},
	&cli.StringFlag{
		Name:  "service-identity",
		Value: "tenant-split-service",
		Usage: "controller identity the service holds on instances until handoff",
	},
	&cli.StringFlag{
		Name:  "source-instance",
		Value: "shared-1",
		Usage: "identifier of the shared instance tenants are exported from",
	},
	&cli.StringFlag{
		Name:  "image-file",
		Value: "",
		Usage: "file with the program image installed on new instances (required)",
	},
	&cli.StringFlag{
		Name:  "data-fixture",
		Value: "",
		Usage: "JSON fixture to seed the in-memory tenant data store",
	},
	&cli.StringFlag{
		Name:  "state-file",
		Value: "tenant-split-state.json",
		Usage: "path of the persisted service state blob",
	},
	&cli.StringSliceFlag{
		Name:  "archive-uri",
		Usage: "archive backend URIs for export snapshots (file:// or s3://), may repeat",
	},
	&cli.StringSliceFlag{
		Name:  "admin",
		Usage: "caller identity allowed on the admin API, may repeat",
	},
	&cli.StringFlag{
		Name:  "funding-amount",
		Value: "1000000",
		Usage: "funding consumed from the reserve per instance created",
	},
	&cli.StringFlag{
		Name:  "initial-reserve",
		Value: "0",
		Usage: "reserve balance the ledger starts with",
	},
	&cli.StringFlag{
		Name:  "min-threshold",
		Value: "0",
		Usage: "reserve floor below which no new instance is admitted",
	},
	&cli.StringFlag{
		Name:  "checksum-algo",
		Value: checksum.AlgoSHA256,
		Usage: "checksum algorithm for manifests and import chunks",
	},
	&cli.Int64Flag{
		Name:  "max-chunk-size",
		Value: 4 << 20,
		Usage: "largest single import chunk accepted, in bytes",
	},
	&cli.Int64Flag{
		Name:  "max-session-bytes",
		Value: 1 << 30,
		Usage: "total bytes one import session may receive",
	},
	&cli.Int64Flag{
		Name:  "session-ttl-seconds",
		Value: 1800,
		Usage: "import session inactivity timeout in seconds",
	},
	&cli.IntFlag{
		Name:  "import-chunk-size",
		Value: 1 << 20,
		Usage: "chunk size used when driving imports into new instances",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "tenant-split-backend",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "tenant-split-server",
		Usage: "Serve the tenant splitting migration and admin APIs",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			serviceIdentity, err := interfaces.NewOwnerID(cCtx.String("service-identity"))
			if err != nil {
				logger.Error("Invalid service identity", "err", err)
				return err
			}

			fundingAmount, err := uint256.FromDecimal(cCtx.String("funding-amount"))
			if err != nil {
				logger.Error("Invalid funding-amount", "err", err)
				return fmt.Errorf("invalid funding-amount: %w", err)
			}
			initialReserve, err := uint256.FromDecimal(cCtx.String("initial-reserve"))
			if err != nil {
				logger.Error("Invalid initial-reserve", "err", err)
				return fmt.Errorf("invalid initial-reserve: %w", err)
			}
			minThreshold, err := uint256.FromDecimal(cCtx.String("min-threshold"))
			if err != nil {
				logger.Error("Invalid min-threshold", "err", err)
				return fmt.Errorf("invalid min-threshold: %w", err)
			}

			imageFile := cCtx.String("image-file")
			if imageFile == "" {
				logger.Error("image-file is required")
				return fmt.Errorf("image-file is required")
			}
			image, err := os.ReadFile(imageFile)
			if err != nil {
				logger.Error("Failed to read image file", "err", err)
				return err
			}

			hasher, err := checksum.New(cCtx.String("checksum-algo"))
			if err != nil {
				logger.Error("Invalid checksum-algo", "err", err)
				return err
			}

			var admins []interfaces.OwnerID
			for _, raw := range cCtx.StringSlice("admin") {
				admin, err := interfaces.NewOwnerID(raw)
				if err != nil {
					logger.Error("Invalid admin identity", "identity", raw, "err", err)
					return err
				}
				admins = append(admins, admin)
			}
			authorizer := auth.NewStaticAuthorizer(admins)

			// Optional archive for validated export snapshots and manifests.
			var archive interfaces.StorageBackend
			if uris := cCtx.StringSlice("archive-uri"); len(uris) > 0 {
				locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
				for _, uri := range uris {
					location, err := interfaces.NewStorageBackendLocation(uri)
					if err != nil {
						logger.Error("Invalid archive URI", "uri", uri, "err", err)
						return err
					}
					locations = append(locations, location)
				}

				storageFactory := storage.NewStorageBackendFactory(logger)
				archive, err = storageFactory.CreateMultiBackend(locations)
				if err != nil {
					logger.Error("Failed to create archive backends", "err", err)
					return err
				}
				logger.Info("Export archive enabled", "location", archive.LocationURI())
			}

			store := datastore.NewMemory(logger)
			if fixture := cCtx.String("data-fixture"); fixture != "" {
				if err := store.LoadFixture(fixture); err != nil {
					logger.Error("Failed to load data fixture", "err", err)
					return err
				}
			}

			ldgr := ledger.New(initialReserve, minThreshold, logger)
			reg := registry.New(logger)
			imp := importer.NewManager(importer.Config{
				MaxChunkSize:    cCtx.Int64("max-chunk-size"),
				MaxSessionBytes: cCtx.Int64("max-session-bytes"),
				SessionTTL:      time.Duration(cCtx.Int64("session-ttl-seconds")) * time.Second,
			}, hasher, logger)
			exporter := export.NewExporter(store, hasher, cCtx.String("source-instance"), logger)
			platformClient := platform.NewClient(cCtx.String("platform-addr"), logger)

			stateStore := statestore.NewStore(cCtx.String("state-file"), logger)
			persisted, err := stateStore.Load()
			if err != nil {
				logger.Error("Failed to load persisted state", "err", err)
				return err
			}
			if persisted != nil {
				if err := ldgr.Restore(persisted.Ledger); err != nil {
					logger.Error("Failed to restore ledger state", "err", err)
					return err
				}
				reg.Restore(persisted.Registry)
				imp.Restore(persisted.Sessions)
			}

			metricsSrv, err := metrics.New(common.PackageName, metricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}
			migrationMetrics := metrics.NewMigrationMetrics(common.PackageName, metricsSrv.Registry())

			// The orchestrator holds the persist callback, so the closure
			// captures it through a variable assigned after construction.
			var orch *orchestrator.Orchestrator
			persist := func() error {
				return stateStore.Save(&statestore.State{
					Ledger:     ldgr.Snapshot(),
					Migrations: orch.Records(),
					Registry:   reg.Snapshot(),
					Sessions:   imp.Snapshot(),
				})
			}

			orch, err = orchestrator.New(
				orchestrator.Config{
					ServiceIdentity: serviceIdentity,
					FundingAmount:   fundingAmount,
					Image:           image,
					ImportChunkSize: cCtx.Int("import-chunk-size"),
				},
				ldgr, reg, exporter, imp, platformClient, authorizer, hasher,
				archive, persist, migrationMetrics, logger,
			)
			if err != nil {
				logger.Error("Failed to create orchestrator", "err", err)
				return err
			}
			if persisted != nil {
				orch.Restore(persisted.Migrations)
			}

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(cfg,
				migrationhandler.NewHandler(orch, imp, logger),
				adminhandler.NewHandler(ldgr, reg, imp, authorizer, persist, logger),
				metricsSrv,
			)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()

			if err := persist(); err != nil {
				logger.Error("Failed to persist state on shutdown", "err", err)
			}
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
