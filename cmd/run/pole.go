package run

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/tphakala/polecam/internal/api"
	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/buildinfo"
	"github.com/tphakala/polecam/internal/camera/simcam"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/datastore"
	"github.com/tphakala/polecam/internal/framestore"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/mqtt"
	"github.com/tphakala/polecam/internal/notification"
	"github.com/tphakala/polecam/internal/observability"
	"github.com/tphakala/polecam/internal/pole"
	"github.com/tphakala/polecam/internal/telemetry"
)

// Run wires the pole to its outputs and blocks until the pole terminates
func Run(ctx context.Context, settings *conf.Settings, opts Options) error {
	if settings == nil {
		return fmt.Errorf("settings not loaded")
	}

	central, err := setupLogging(settings)
	if err != nil {
		return err
	}
	defer func() { _ = central.Close() }()
	log := central.Module("main")

	logHostInfo(log, settings)

	info := buildinfo.Current(loadSystemID(log))
	if err := telemetry.InitSentry(settings, info); err != nil {
		log.Warn("error telemetry not available", logger.Error(err))
	}
	defer telemetry.Flush()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	// quit stops the HTTP servers; wg tracks them
	quit := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(quit)
		wg.Wait()
	}()

	startTelemetryEndpoint(&wg, settings, metrics, quit, log)

	store := datastore.New(settings, metrics.Datastore)
	if store != nil {
		if err := store.Open(); err != nil {
			return err
		}
		defer closeDataStore(store, log)
	}

	var alerter *notification.Alerter
	if settings.Notification.Enabled {
		alerter, err = notification.NewAlerter(&settings.Notification, central.Module("notification"))
		if err != nil {
			log.Warn("operator alerts disabled", logger.Error(err))
		}
	}

	sink, closeSink := buildSink(ctx, settings, store, alerter, metrics, central)
	defer closeSink()

	driver := simcam.NewDriver(settings.Pole.FrameSize())
	frames := framestore.NewOS(settings.Pole.WriteDir, settings.Pole.Name, central.Module("framestore"))

	p, err := pole.New(pole.ConfigFromSettings(settings), pole.Dependencies{
		Driver:  driver,
		Writer:  frames,
		Sink:    sink,
		Metrics: metrics.Pole,
		Logger:  central.Module("pole"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting pole",
		logger.String("pole", settings.Pole.Name),
		logger.Int("cameras", len(settings.Pole.Cameras)),
		logger.String("version", info.GetVersion()),
		logger.String("write_dir", settings.Pole.WriteDir))
	p.Start(ctx)

	if settings.API.Enabled {
		var archive api.EventArchive
		if store != nil {
			archive = store
		}
		if err := api.NewServer(settings, p, archive).Start(&wg, quit); err != nil {
			p.Stop()
			<-p.Done()
			return err
		}
	}

	if r := settings.Pole.Retention; r.Enabled {
		wg.Go(func() {
			frames.RunRetention(ctx, framestore.RetentionPolicy{
				MaxAge:       r.MaxAge,
				Interval:     r.Interval,
				MaxDeletions: r.MaxDeletions,
			})
		})
	}

	simCtx, stopSim := context.WithCancel(ctx)
	defer stopSim()
	if opts.Simulate {
		pulser := simcam.NewPulser(driver, simcam.PulserConfig{
			Interval: opts.TrainInterval,
			Spacing:  opts.TrainSpacing,
			Triggers: opts.TrainTriggers,
		}, central.Module("simcam"))
		wg.Go(func() {
			_ = pulser.Run(simCtx)
		})
		log.Info("simulated trains enabled",
			logger.Duration("interval", opts.TrainInterval),
			logger.Int("triggers", opts.TrainTriggers))
	}

	<-p.Done()
	stopSim()

	err = p.Err()
	switch {
	case err == nil:
		log.Info("pole stopped")
	case stderrors.Is(err, pole.ErrNoCameras):
		log.Error("pole terminated, no camera left in service", logger.String("pole", settings.Pole.Name))
		notifyTermination(alerter, settings.Pole.Name, log)
	default:
		log.Error("pole terminated", logger.Error(err))
	}
	return err
}

// buildSink composes the configured broker outputs. The returned func releases them.
func buildSink(ctx context.Context, settings *conf.Settings, store datastore.Interface, alerter *notification.Alerter,
	metrics *observability.Metrics, central *logger.CentralLogger) (broker.Sink, func()) {
	log := central.Module("broker")
	var sinks []broker.Sink
	closers := []func(){}

	if settings.Broker.MQTT.Enabled {
		client, err := mqtt.NewClient(mqtt.ConfigFromSettings(&settings.Broker.MQTT), metrics.MQTT)
		if err != nil {
			log.Error("mqtt client not created", logger.Error(err))
		} else {
			if err := client.Connect(ctx); err != nil {
				log.Warn("mqtt broker not reachable at startup", logger.Error(err))
			}
			sinks = append(sinks, broker.NewMQTTSink(client, settings.Broker.MQTT.Topic, log))
			closers = append(closers, client.Disconnect)
		}
	}
	if store != nil {
		sinks = append(sinks, broker.NewArchiveSink(store))
	}
	if alerter != nil {
		sinks = append(sinks, broker.NewAlertSink(alerter, settings.Pole.Name))
	}

	var sink broker.Sink
	switch len(sinks) {
	case 0:
		sink = broker.NewLogSink(log)
	case 1:
		sink = sinks[0]
	default:
		sink = broker.NewMulti(sinks...)
	}
	if settings.Broker.DedupWindow > 0 {
		sink = broker.NewDeduplicator(sink, settings.Broker.DedupWindow, log)
	}

	return sink, func() {
		for _, c := range closers {
			c()
		}
	}
}

func setupLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}

func logHostInfo(log logger.Logger, settings *conf.Settings) {
	info, err := host.Info()
	if err != nil {
		log.Warn("host info not available", logger.Error(err))
		return
	}
	log.Info("system details",
		logger.String("os", info.OS),
		logger.String("platform", info.Platform),
		logger.String("platform_version", info.PlatformVersion),
		logger.String("kernel_arch", info.KernelArch),
		logger.Bool("container", conf.RunningInContainer()),
		logger.String("driver", settings.Driver.Type))
}

// loadSystemID keeps the anonymous telemetry id next to the config file in use
func loadSystemID(log logger.Logger) string {
	dir := "."
	if used := viper.ConfigFileUsed(); used != "" {
		dir = filepath.Dir(used)
	}
	id, err := telemetry.LoadOrCreateSystemID(afero.NewOsFs(), dir)
	if err != nil {
		log.Warn("system id not available", logger.Error(err))
		return ""
	}
	return id
}

func startTelemetryEndpoint(wg *sync.WaitGroup, settings *conf.Settings, metrics *observability.Metrics, quit <-chan struct{}, log logger.Logger) {
	if !settings.Telemetry.Enabled {
		return
	}
	endpoint, err := observability.NewEndpoint(settings, metrics)
	if err != nil {
		log.Error("error initializing telemetry endpoint", logger.Error(err))
		return
	}
	if err := endpoint.Start(wg, quit); err != nil {
		log.Error("error starting telemetry endpoint", logger.Error(err))
	}
}

func closeDataStore(store datastore.Interface, log logger.Logger) {
	if err := store.Close(); err != nil {
		log.Error("failed to close database", logger.Error(err))
		return
	}
	log.Info("database closed")
}

func notifyTermination(alerter *notification.Alerter, poleName string, log logger.Logger) {
	if alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notification.DefaultTimeout)
	defer cancel()
	err := alerter.Notify(ctx, "polecam: pole "+poleName+" terminated",
		"All cameras of pole "+poleName+" were lost. The supervisor has stopped.")
	if err != nil {
		log.Warn("termination alert not sent", logger.Error(err))
	}
}
