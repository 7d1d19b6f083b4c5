package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"gopkg.in/yaml.v2"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/commands"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/devices"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/employees"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/ingest"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/notifications"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/reports"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/watchdog"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/router"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/internal/pkg/presentation/api"
	"github.com/toonwire/attendance-mgmt/internal/pkg/presentation/api/attest"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

const serviceName string = "attendance-mgmt"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	controlPort

	policiesFile
	configurationFile
	firmwareDir
	privateKeyFile

	dbHost
	dbUser
	dbPassword
	dbPort
	dbName
	dbSSLMode
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",
		controlPort:   "8000",

		policiesFile:      "/opt/toonwire/config/authz.rego",
		configurationFile: "/opt/toonwire/config/config.yaml",
		firmwareDir:       "/opt/toonwire/firmware",
		privateKeyFile:    "",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "attendance",
		dbSSLMode:  "disable",
	}
}

func main() {
	ctx, flags := parseExternalConfig(context.Background(), defaultFlags())

	serviceVersion := buildinfo.SourceVersion()
	ctx, logger, cleanup := o11y.Init(ctx, serviceName, serviceVersion, "json")
	defer cleanup()

	cfg, err := loadConfigFile(flags[configurationFile])
	exitIf(err, logger, "could not load configuration file")

	policies, err := os.Open(flags[policiesFile])
	exitIf(err, logger, "unable to open opa policy file")

	err = run(ctx, flags, cfg, policies)
	exitIf(err, logger, "failed to run service")
}

func run(ctx context.Context, flags flagMap, cfg *appConfig, policies io.ReadCloser) error {
	defer policies.Close()

	log := logging.GetFromContext(ctx)

	s, err := storage.New(ctx, storage.NewConfig(
		flags[dbHost], flags[dbUser], flags[dbPassword], flags[dbPort], flags[dbName], flags[dbSSLMode],
	))
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer s.Close()

	err = s.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}

	messenger, err := messaging.Initialize(ctx, messaging.LoadConfiguration(ctx, serviceName, log))
	if err != nil {
		return fmt.Errorf("failed to init messenger: %w", err)
	}
	messenger.Start()
	defer messenger.Close()

	signingKey, err := loadSigningKey(ctx, flags[privateKeyFile])
	if err != nil {
		return err
	}

	bus := hooks.New()
	bridgeHooks(bus, messenger)

	notifier := notifications.New(&notifications.Config{Notifications: cfg.Notifications})
	notifier.Register(bus)

	engine := ingest.New(s, bus)
	deviceSvc := devices.New(s, bus)
	registry := employees.New(s)
	reportSvc := reports.New(s, bus)

	cmdSvc, err := commands.New(s, bus, signingKey)
	if err != nil {
		return err
	}

	wd := watchdog.New(s, cfg.Watchdog.Interval)
	wd.Start(ctx)
	defer wd.Stop()

	pipeline := attest.NewPipeline(s, cfg.attestation())

	r := router.New(serviceName)
	api.RegisterDeviceHandlers(ctx, r, pipeline, engine, deviceSvc, cmdSvc, flags[firmwareDir])

	r, err = api.RegisterHandlers(ctx, r, policies, registry, reportSvc, deviceSvc, cmdSvc)
	if err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	go serveControl(ctx, flags[listenAddress]+":"+flags[controlPort])

	return serve(ctx, flags[listenAddress]+":"+flags[servicePort], r)
}

// serveControl exposes liveness and pprof on a port that is not meant
// to be reachable from outside the deployment.
func serveControl(ctx context.Context, addr string) {
	log := logging.GetFromContext(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	err := http.ListenAndServe(addr, mux)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("control endpoint failed", "err", err.Error())
	}
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	log := logging.GetFromContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting to listen for incoming connections", "address", addr)
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

// bridgeHooks republishes in-process hook events on the message bus so
// that other services can subscribe to them.
func bridgeHooks(bus hooks.Bus, messenger messaging.MsgContext) {
	now := func() time.Time { return time.Now().UTC() }

	bus.SubscribeAsync(types.HookEventIngested, func(ctx context.Context, payload any) error {
		event, ok := payload.(types.AttendanceEvent)
		if !ok {
			return nil
		}
		return messenger.PublishOnTopic(ctx, &types.EventIngested{
			EventID:    event.EventID,
			EmployeeID: event.EmployeeID,
			EventType:  event.EventType,
			DeviceID:   event.DeviceID,
			Tenant:     event.Tenant,
			Timestamp:  now(),
		})
	})

	bus.SubscribeAsync(types.HookDeviceRegistered, func(ctx context.Context, payload any) error {
		device, ok := payload.(types.Device)
		if !ok {
			return nil
		}
		return messenger.PublishOnTopic(ctx, &types.DeviceRegistered{
			DeviceID:   device.DeviceID,
			DeviceType: device.DeviceType,
			Tenant:     device.Tenant,
			Timestamp:  now(),
		})
	})

	bus.SubscribeAsync(types.HookDeviceRevoked, func(ctx context.Context, payload any) error {
		device, ok := payload.(types.Device)
		if !ok {
			return nil
		}
		return messenger.PublishOnTopic(ctx, &types.DeviceRevoked{
			DeviceID:  device.DeviceID,
			Tenant:    device.Tenant,
			Timestamp: now(),
		})
	})

	bus.SubscribeAsync(types.HookCommandAcknowledged, func(ctx context.Context, payload any) error {
		ack, ok := payload.(types.CommandAcknowledged)
		if !ok {
			return nil
		}
		return messenger.PublishOnTopic(ctx, &ack)
	})

	bus.SubscribeAsync(types.HookFirmwareFailure, func(ctx context.Context, payload any) error {
		failure, ok := payload.(types.FirmwareFailure)
		if !ok {
			return nil
		}
		return messenger.PublishOnTopic(ctx, &failure)
	})

	bus.SubscribeAsync(types.HookReportGenerated, func(ctx context.Context, payload any) error {
		report, ok := payload.(types.ReportGenerated)
		if !ok {
			return nil
		}
		return messenger.PublishOnTopic(ctx, &report)
	})
}

// loadSigningKey resolves the ed25519 key used for server-side command
// and firmware signatures. SERVER_PRIVATE_KEY may hold the PEM inline
// or base64 wrapped; otherwise the key is read from the configured
// file. An ephemeral key is generated when neither is set, which makes
// signatures worthless across restarts but keeps local development
// friction free.
func loadSigningKey(ctx context.Context, path string) (ed25519.PrivateKey, error) {
	log := logging.GetFromContext(ctx)

	if inline := os.Getenv("SERVER_PRIVATE_KEY"); inline != "" {
		if !strings.Contains(inline, "BEGIN") {
			decoded, err := base64.StdEncoding.DecodeString(inline)
			if err != nil {
				return nil, fmt.Errorf("SERVER_PRIVATE_KEY is neither PEM nor base64: %w", err)
			}
			inline = string(decoded)
		}
		return keys.DecodePrivateKeyPEM(inline)
	}

	if path == "" {
		log.Warn("no signing key configured, generating an ephemeral key")

		_, privPEM, genErr := keys.GenerateKeyPair()
		if genErr != nil {
			return nil, genErr
		}
		return keys.DecodePrivateKeyPEM(privPEM)
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read signing key: %w", err)
	}

	return keys.DecodePrivateKeyPEM(string(pemBytes))
}

type appConfig struct {
	Attestation struct {
		MaxClockSkew time.Duration           `yaml:"maxClockSkew"`
		NonceTTL     time.Duration           `yaml:"nonceTTL"`
		Limits       map[string]attest.Limit `yaml:"limits"`
		DefaultLimit *attest.Limit           `yaml:"defaultLimit"`
	} `yaml:"attestation"`

	Watchdog struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"watchdog"`

	Notifications []notifications.Notification `yaml:"notifications"`
}

// attestation merges configured overrides onto the defaults.
func (cfg *appConfig) attestation() attest.Config {
	c := attest.DefaultConfig()

	if cfg.Attestation.MaxClockSkew > 0 {
		c.MaxClockSkew = cfg.Attestation.MaxClockSkew
	}
	if cfg.Attestation.NonceTTL > 0 {
		c.NonceTTL = cfg.Attestation.NonceTTL
	}
	for endpoint, limit := range cfg.Attestation.Limits {
		c.Limits[endpoint] = limit
	}
	if cfg.Attestation.DefaultLimit != nil {
		c.DefaultLimit = *cfg.Attestation.DefaultLimit
	}

	return c
}

func loadConfigFile(path string) (*appConfig, error) {
	cfg := &appConfig{}
	cfg.Watchdog.Interval = 10 * time.Minute

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Watchdog.Interval <= 0 {
		cfg.Watchdog.Interval = 10 * time.Minute
	}

	return cfg, nil
}

func parseExternalConfig(ctx context.Context, flags flagMap) (context.Context, flagMap) {
	// Allow environment variables to override certain defaults
	envOrDef := env.GetVariableOrDefault

	flags[listenAddress] = envOrDef(ctx, "LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef(ctx, "SERVICE_PORT", flags[servicePort])
	flags[controlPort] = envOrDef(ctx, "CONTROL_PORT", flags[controlPort])

	flags[policiesFile] = envOrDef(ctx, "POLICIES_FILE", flags[policiesFile])
	flags[configurationFile] = envOrDef(ctx, "CONFIG_FILE", flags[configurationFile])
	flags[firmwareDir] = envOrDef(ctx, "FIRMWARE_ASSET_DIR", flags[firmwareDir])
	flags[privateKeyFile] = envOrDef(ctx, "SERVER_PRIVATE_KEY_FILE", flags[privateKeyFile])

	flags[dbHost] = envOrDef(ctx, "POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef(ctx, "POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef(ctx, "POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef(ctx, "POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef(ctx, "POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef(ctx, "POSTGRES_SSLMODE", flags[dbSSLMode])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("policies", "an authorization policy file", apply(policiesFile))
	flag.Func("config", "service configuration file", apply(configurationFile))
	flag.Func("firmware", "directory holding firmware bundles", apply(firmwareDir))
	flag.Func("signing-key", "server signing key in PEM format", apply(privateKeyFile))
	flag.Parse()

	return ctx, flags
}

func exitIf(err error, logger *slog.Logger, msg string, args ...any) {
	if err != nil {
		logger.With(args...).Error(msg, "err", err.Error())
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
