package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/collarmesh/locator"
)

// sweepInterval is how often lost tracks are flipped while the service runs
const sweepInterval = time.Second

// maxReplayLine bounds a single JSON line in a replay capture
const maxReplayLine = 1 << 20

// App holds the state of one collarmesh process
type App struct {
	Options AppOptions

	Config     *locator.Config
	Tracker    *locator.Tracker
	MQTTClient *locator.MQTTClient
	Publisher  *locator.Publisher

	out io.Writer
	now func() time.Time
}

// NewApp creates an App with default options
func NewApp() *App {
	return &App{
		Options: AppOptions{
			DataDir:    ".",
			ConfigFile: "config.yaml",
			MqttMode:   true,
			HttpPort:   8080,
			Format:     "raster",
		},
		out: os.Stdout,
		now: time.Now,
	}
}

// ApplyOptions stores the parsed command line options
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts
}

// resolvePath places relative paths under the data directory
func (a *App) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || a.Options.DataDir == "" || a.Options.DataDir == "." {
		return p
	}
	return filepath.Join(a.Options.DataDir, p)
}

// loadConfig reads the config file and, when registryUrl is set, replaces the
// beacon list with the one served by the registry API
func (a *App) loadConfig(ctx context.Context) error {
	path := a.resolvePath(a.Options.ConfigFile)
	config, err := locator.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("loading config (looked at %s): %w", path, err)
	}
	log.Printf("Loaded config from %s", path)

	if config.RegistryURL != "" {
		beacons, err := locator.FetchRegistryFromAPI(ctx, config.RegistryURL)
		switch {
		case err == nil:
			log.Printf("Fetched %d beacons from %s", len(beacons), config.RegistryURL)
			config.Beacons = beacons
		case len(config.Beacons) > 0:
			log.Printf("Warning: registry fetch failed, using %d configured beacons: %v", len(config.Beacons), err)
		default:
			return fmt.Errorf("fetching beacon registry: %w", err)
		}
	}

	a.Config = config
	return nil
}

// buildTracker wires registry, engine, mapper and zones from the configuration
func buildTracker(config *locator.Config) (*locator.Tracker, error) {
	registry, err := locator.RegistryFromConfig(config.Beacons, config.Engine)
	if err != nil {
		return nil, fmt.Errorf("building beacon registry: %w", err)
	}

	engine, err := locator.NewEngine(config.Engine, registry)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	fp := config.FloorPlan
	mapper, err := locator.NewCoordinateMapper(locator.FloorPlanBounds(fp, registry), fp.TargetAspect, fp.FlipY)
	if err != nil {
		return nil, fmt.Errorf("creating coordinate mapper: %w", err)
	}

	zones, err := locator.NewZoneTracker(config.Zones)
	if err != nil {
		return nil, fmt.Errorf("creating zones: %w", err)
	}

	tracker := locator.NewTracker(engine, mapper, zones)
	for _, cc := range config.Collars {
		if cc.Color != "" {
			tracker.SetColor(cc.ID, cc.Color)
		}
	}
	return tracker, nil
}

// setup loads the configuration and builds the tracker
func (a *App) setup(ctx context.Context) error {
	if err := a.loadConfig(ctx); err != nil {
		return err
	}
	tracker, err := buildTracker(a.Config)
	if err != nil {
		return err
	}
	a.Tracker = tracker

	b := tracker.Mapper().Bounds()
	log.Printf("Tracking %d collars with %d beacons on a %.1fx%.1fm plan, %d zones",
		len(a.Config.Collars), tracker.Engine().Registry().Len(),
		b.Max[0]-b.Min[0], b.Max[1]-b.Min[1], len(tracker.Zones().Zones()))
	return nil
}

// handleBatch is the MQTT message handler: one scan report runs one update cycle
func (a *App) handleBatch(collarID string, batch *locator.ObservationBatch, err error) {
	if err != nil {
		log.Printf("[MQTT] %s: dropping payload: %v", collarID, err)
		return
	}

	nowMs := a.now().UnixMilli()
	batch.Rebase(nowMs)
	pos, events := a.Tracker.Process(collarID, batch.Observations, nowMs)
	if pos.TrackID == "" {
		// no fix yet, nothing worth publishing
		return
	}
	a.publish(pos, events)
}

func (a *App) publish(pos locator.LivePosition, events []locator.ZoneEvent) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishPosition(pos); err != nil {
		log.Printf("Error publishing position for %s: %v", pos.CollarID, err)
	}
	for _, ev := range events {
		if err := a.Publisher.PublishZoneEvent(ev); err != nil {
			log.Printf("Error publishing zone event for %s: %v", ev.CollarID, err)
		}
	}
}

// sweep flips tracks that went silent and publishes their lost state
func (a *App) sweep(nowMs int64) {
	for _, pos := range a.Tracker.Sweep(nowMs) {
		a.publish(pos, nil)
	}
}

func (a *App) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			a.sweep(t.UnixMilli())
		}
	}
}

// RunService runs MQTT ingestion, the lost-track sweeper and the optional
// HTTP server until interrupted
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.setup(ctx); err != nil {
		return err
	}
	config := a.Config

	if a.Options.MqttMode {
		mqttClient, err := locator.InitMQTT(config, a.handleBatch)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured in config.yaml or MQTT_BROKER")
		}
		a.MQTTClient = mqttClient
		a.Publisher = locator.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		log.Println("[MQTT] position publisher initialized")
	}

	go a.runSweeper(ctx, sweepInterval)

	var server *http.Server
	if a.Options.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.Options.HttpPort),
			Handler:           newHTTPServer(a.Tracker, config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
				stop()
			}
		}()
	}

	a.printServiceInfo()

	<-ctx.Done()

	_, _ = fmt.Fprintln(a.out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	_, _ = fmt.Fprintln(a.out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	w := a.out
	_, _ = fmt.Fprintln(w, "\nService Running")
	_, _ = fmt.Fprintln(w, "===============")

	if a.Publisher != nil {
		_, _ = fmt.Fprintln(w, "\nMQTT:")
		_, _ = fmt.Fprintln(w, "  Subscribed topics:")
		for _, cc := range a.Config.Collars {
			_, _ = fmt.Fprintf(w, "    - %s (%s)\n", cc.Topic, cc.ID)
		}
		prefix := a.Publisher.Prefix()
		_, _ = fmt.Fprintf(w, "  Publishing to: %s/{collarId}\n", prefix)
		_, _ = fmt.Fprintf(w, "  Zone events: %s/{collarId}/zone\n", prefix)
		_, _ = fmt.Fprintf(w, "  Combined positions: %s/positions\n", prefix)
	}

	if a.Options.HttpMode {
		_, _ = fmt.Fprintf(w, "\nHTTP endpoints (port %d):\n", a.Options.HttpPort)
		_, _ = fmt.Fprintln(w, "  GET /health          - Health check")
		_, _ = fmt.Fprintln(w, "  GET /positions       - Live positions of all collars")
		_, _ = fmt.Fprintln(w, "  GET /positions/{id}  - One collar with data-quality counters")
		_, _ = fmt.Fprintln(w, "  GET /beacons         - Beacon registry")
		_, _ = fmt.Fprintln(w, "  GET /map.geojson     - Plan, beacons, zones and collars as GeoJSON")
		_, _ = fmt.Fprintln(w, "  GET /floorplan.svg   - Static floor plan")
		_, _ = fmt.Fprintln(w, "  GET /live.svg        - Floor plan with live positions")
		_, _ = fmt.Fprintln(w, "  GET /live.png        - Raster floor plan with live positions")
		_, _ = fmt.Fprintln(w, "  GET /ws              - Websocket stream of position updates")
	}

	_, _ = fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}

// replayRecord is one line of replay output
type replayRecord struct {
	Position  *locator.LivePosition `json:"position,omitempty"`
	ZoneEvent *locator.ZoneEvent    `json:"zoneEvent,omitempty"`
}

// replay feeds each JSON line of r through the tracker, using the batch
// timestamps as the clock, and writes positions and zone events to w
func (a *App) replay(r io.Reader, w io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	enc := json.NewEncoder(w)

	emit := func(rec replayRecord) error {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing replay output: %w", err)
		}
		return nil
	}

	var lineNo, cycles int
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		batch, err := locator.DecodeObservations([]byte(line))
		if err != nil {
			log.Printf("[REPLAY] line %d: %v", lineNo, err)
			continue
		}
		collarID := batch.CollarID
		if collarID == "" {
			collarID = a.Options.Collar
		}
		if collarID == "" {
			log.Printf("[REPLAY] line %d: no collarId and no --collar given", lineNo)
			continue
		}

		nowMs := batch.TimestampMs
		for _, o := range batch.Observations {
			nowMs = max(nowMs, o.TimestampMs)
		}
		if nowMs == 0 {
			log.Printf("[REPLAY] line %d: batch has no timestamps", lineNo)
			continue
		}

		for _, lost := range a.Tracker.Sweep(nowMs) {
			if err := emit(replayRecord{Position: &lost}); err != nil {
				return cycles, err
			}
		}

		pos, events := a.Tracker.Process(collarID, batch.Observations, nowMs)
		cycles++
		if pos.TrackID != "" {
			if err := emit(replayRecord{Position: &pos}); err != nil {
				return cycles, err
			}
		}
		for i := range events {
			if err := emit(replayRecord{ZoneEvent: &events[i]}); err != nil {
				return cycles, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return cycles, fmt.Errorf("reading replay input: %w", err)
	}
	return cycles, nil
}

// replayFile replays the --replay capture into w
func (a *App) replayFile(w io.Writer) error {
	path := a.resolvePath(a.Options.ReplayFile)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening replay file: %w", err)
	}
	defer func() { _ = f.Close() }()

	cycles, err := a.replay(f, w)
	if err != nil {
		return err
	}
	log.Printf("[REPLAY] %s: %d cycles", path, cycles)
	a.logStats()
	return nil
}

func (a *App) logStats() {
	positions := a.Tracker.GetPositions()
	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s, ok := a.Tracker.Stats(id)
		if !ok {
			continue
		}
		log.Printf("[REPLAY] %s: cycles=%d estimates=%d fallbacks=%d noData=%d invalid=%d stale=%d duplicates=%d unknownBeacons=%d trackLosses=%d",
			id, s.Cycles, s.Estimates, s.Fallbacks, s.NoData,
			s.Ingest.InvalidReadings, s.Ingest.Stale, s.Ingest.Duplicates,
			s.UnknownBeacons, s.TrackLosses)
	}
}

// RunReplay runs a capture through the engine offline
func (a *App) RunReplay() error {
	if err := a.setup(context.Background()); err != nil {
		return err
	}

	if a.Options.Output == "" {
		return a.replayFile(a.out)
	}

	path := a.resolvePath(a.Options.Output)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := a.replayFile(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	_, _ = fmt.Fprintf(a.out, "Saved replay output to %s\n", path)
	return nil
}

// defaultRenderOutput returns the output file name for a render format
func defaultRenderOutput(format string) string {
	switch format {
	case "svg":
		return "collarmesh.svg"
	case "geojson":
		return "collarmesh.geojson"
	default:
		return "collarmesh.png"
	}
}

// render writes the floor plan with the tracker's positions in the chosen format
func (a *App) render(w io.Writer) error {
	t := a.Tracker
	registry := t.Engine().Registry()
	positions := t.GetPositions()

	spacing := a.Options.GridSpacing
	if spacing == 0 && a.Config != nil {
		spacing = a.Config.FloorPlan.GridSpacing
	}

	switch a.Options.Format {
	case "geojson":
		fc := locator.BuildFeatureCollection(registry, t.Zones(), t.Mapper(), positions)
		data, err := json.MarshalIndent(fc, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding GeoJSON: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "svg":
		vr := locator.NewVectorRenderer(t.Mapper(), registry, t.Zones())
		vr.GridSpacing = spacing
		return vr.RenderToSVG(w, positions)
	case "vector":
		vr := locator.NewVectorRenderer(t.Mapper(), registry, t.Zones())
		vr.GridSpacing = spacing
		return vr.RenderToPNG(w, positions)
	default:
		rr := locator.NewRasterRenderer(t.Mapper(), registry, t.Zones())
		rr.GridSpacing = spacing
		return rr.WritePNG(w, positions)
	}
}

// RunRender renders the floor plan to a file, after replaying a capture when
// --replay is given
func (a *App) RunRender() error {
	if err := a.setup(context.Background()); err != nil {
		return err
	}

	if a.Options.ReplayFile != "" {
		if err := a.replayFile(io.Discard); err != nil {
			return err
		}
	}

	output := a.Options.Output
	if output == "" {
		output = defaultRenderOutput(a.Options.Format)
	}
	path := a.resolvePath(output)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := a.render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("rendering %s: %w", a.Options.Format, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}

	_, _ = fmt.Fprintf(a.out, "Saved %s render to %s\n", a.Options.Format, path)
	return nil
}
