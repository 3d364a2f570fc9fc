// homenet - KS X 4506 home network bridge
//
// This is the main entry point of the homenet bridge. It speaks the
// KS X 4506 wallpad protocol on an RS-485 line and mirrors every device
// on it to MQTT:
//   - Polls lights, gas valves and other devices as a master
//   - Or answers a wallpad on behalf of emulated devices as a slave
//   - Publishes committed property changes as retained MQTT state
//   - Optionally records changes to SQLite history and InfluxDB
//   - Optionally serves device state over a read-only HTTP API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/api"
	"github.com/nerrad567/gray-logic-homenet/internal/bridges/ksx"
	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
	"github.com/nerrad567/gray-logic-homenet/internal/history"
	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-homenet/internal/transport"
	"github.com/nerrad567/gray-logic-homenet/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when HOMENET_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// historyPruneInterval is how often old state history is deleted.
	historyPruneInterval = time.Hour

	// statsInterval is how often line counters go to InfluxDB.
	statsInterval = time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting homenet",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var (
		recorders     []ksx.ChangeRecorder
		historySource api.HistorySource
	)

	// Open state history database (optional)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		store := history.NewStore(db.DB)
		store.SetLogger(log.Component("history"))
		recorders = append(recorders, store)
		historySource = store
		if retention := cfg.Database.GetHistoryRetention(); retention > 0 {
			go store.RunPruner(ctx, historyPruneInterval, retention)
		}
	} else {
		log.Info("state history disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker. The will is the bridge's offline health
	// message so a crash shows up on the health topic.
	willPayload, err := json.Marshal(ksx.NewLWTMessage(ksx.Protocol))
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Options{
		Will: &mqtt.Will{Topic: ksx.HealthTopic(), Payload: willPayload, QoS: 1, Retained: true},
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Event loop, device network and line transport
	loop := eventloop.New()
	loop.SetLogger(log.Component("eventloop"))
	loop.Start(ctx)
	defer loop.Stop()

	network, err := buildNetwork(ctx, loop, &cfg.KSX, log.Component("ksx"))
	if err != nil {
		return err
	}
	network.Start(ctx)
	defer network.Stop()

	dialer, err := transport.NewDialer(cfg.KSX.Transport)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	link := transport.NewLink(transport.LinkConfig{
		Dialer:            dialer,
		Handler:           network.LinkHandler(),
		ReconnectInterval: cfg.KSX.Transport.GetReconnectInterval(),
		Logger:            log.Component("transport"),
	})
	link.Start(ctx)
	defer func() {
		log.Info("closing line transport")
		link.Stop()
	}()
	log.Info("line transport started", "endpoint", link.Endpoint(), "role", cfg.KSX.Role)

	// Start the MQTT bridge
	candidates, err := discoveryCandidates(&cfg.KSX)
	if err != nil {
		return err
	}
	bridge, err := ksx.NewBridge(ksx.BridgeOptions{
		BridgeID:            ksx.Protocol,
		Version:             version,
		Network:             network,
		MQTTClient:          &mqttBridgeAdapter{client: mqttClient},
		Link:                link,
		Endpoint:            link.Endpoint(),
		HealthInterval:      cfg.KSX.GetHealthInterval(),
		Recorders:           recorders,
		DiscoveryCandidates: candidates,
		AutoAddDiscovered:   cfg.KSX.AutoAddDiscovered,
		DiscoveryTimeout:    cfg.KSX.GetDiscoveryTimeout(),
		Logger:              log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating ksx bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting ksx bridge: %w", err)
	}
	defer func() {
		log.Info("stopping ksx bridge")
		bridge.Stop()
	}()

	if influxClient != nil {
		go recordStats(ctx, influxClient, network, link)
	}

	// Read-only HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Devices: network,
			History: historySource,
			Link:    link,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, line, network,
	// loop, MQTT, InfluxDB, database.
	log.Info("homenet stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMENET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMENET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openHistory opens the SQLite database and applies migrations.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)
	return db, nil
}

// buildNetwork creates the device network and adds the configured devices.
// Devices are added on the loop; the call waits until they are in place.
//
// Parameters:
//   - ctx: Cancels the wait for the loop
//   - loop: Running event loop the network is bound to
//   - cfg: ksx section of the configuration
//   - log: Logger instance
//
// Returns:
//   - *ksx.Network: Network holding every configured device
//   - error: If the range policy or a device address is invalid
func buildNetwork(ctx context.Context, loop eventloop.Queue, cfg *config.KSXConfig, log *logging.Logger) (*ksx.Network, error) {
	policy, err := ksx.ParseRangePolicy(cfg.RangePolicy)
	if err != nil {
		return nil, fmt.Errorf("ksx range policy: %w", err)
	}

	specs, err := deviceSpecs(cfg)
	if err != nil {
		return nil, err
	}

	network := ksx.NewNetwork(loop, ksx.WithRangePolicy(policy))
	network.SetLogger(log)
	if interval := cfg.GetPollInterval(); interval > 0 {
		network.SetPollInterval(interval)
	}

	added := make(chan error, 1)
	network.Post(func() {
		for _, spec := range specs {
			if _, addErr := network.AddDevice(spec); addErr != nil {
				added <- fmt.Errorf("adding device %s: %w", spec.Address, addErr)
				return
			}
		}
		added <- nil
	})
	select {
	case err := <-added:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("adding devices: %w", ctx.Err())
	}
	log.Info("ksx devices configured", "devices", len(specs), "policy", cfg.RangePolicy)
	return network, nil
}

// deviceSpecs converts the configured device list. In the slave role every
// configured device is emulated.
func deviceSpecs(cfg *config.KSXConfig) ([]ksx.DeviceSpec, error) {
	specs := make([]ksx.DeviceSpec, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		addr, err := ksx.ParseAddress(d.Address)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.Name, err)
		}
		specs = append(specs, ksx.DeviceSpec{
			Address: addr,
			Name:    d.Name,
			Area:    d.Area,
			Slave:   cfg.Role == config.RoleSlave,
		})
	}
	return specs, nil
}

// discoveryCandidates converts the configured default scan list.
func discoveryCandidates(cfg *config.KSXConfig) ([]ksx.DeviceSpec, error) {
	specs := make([]ksx.DeviceSpec, 0, len(cfg.Discovery))
	for _, s := range cfg.Discovery {
		addr, err := ksx.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("discovery address %q: %w", s, err)
		}
		specs = append(specs, ksx.DeviceSpec{Address: addr})
	}
	return specs, nil
}

// statsSource is satisfied by *ksx.Network.
type statsSource interface {
	Stats() ksx.NetworkStats
}

// linkStatsSource is satisfied by *transport.Link.
type linkStatsSource interface {
	Stats() transport.LinkStats
}

// statsWriter is satisfied by *influxdb.Client.
type statsWriter interface {
	WriteNetworkStats(bridgeID string, fields map[string]interface{})
}

// recordStats writes line counters to InfluxDB until ctx is cancelled.
func recordStats(ctx context.Context, w statsWriter, net statsSource, link linkStatsSource) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteNetworkStats(ksx.Protocol, statsFields(net.Stats(), link.Stats()))
		}
	}
}

// statsFields flattens the counters into InfluxDB fields.
func statsFields(ns ksx.NetworkStats, ls transport.LinkStats) map[string]interface{} {
	return map[string]interface{}{
		"frames_rx":       int64(ns.FramesRx),
		"frames_tx":       int64(ns.FramesTx),
		"suppressed":      int64(ns.Suppressed),
		"write_errors":    int64(ns.WriteErrors),
		"stream_frames":   int64(ns.Stream.Frames),
		"stream_skipped":  int64(ns.Stream.Skipped),
		"stream_cleared":  int64(ns.Stream.Cleared),
		"bytes_rx":        int64(ls.BytesRx),
		"bytes_tx":        int64(ls.BytesTx),
		"link_connects":   int64(ls.Connects),
		"link_dial_error": int64(ls.DialErrors),
		"link_connected":  ls.Connected,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: HTTP API server to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	// The line may still be dialing; its state is reported by the bridge
	// health messages instead.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the ksx
// bridge's MQTTClient interface. The difference is the Subscribe handler
// signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - ksx bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements ksx.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ksx.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements ksx.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
