package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line settings passed to the App
type AppOptions struct {
	DataDir     string
	ConfigFile  string
	MqttMode    bool
	HttpMode    bool
	HttpPort    int
	ReplayFile  string
	Collar      string
	RenderMode  bool
	Output      string
	Format      string
	GridSpacing float64
}

// Runner is implemented by App; tests substitute a mock
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunService() error
	RunReplay() error
	RunRender() error
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("collarmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory holding config.yaml and outputs")
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.MqttMode, "mqtt", true, "Subscribe to collar topics and publish positions over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve positions, maps and the live stream over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Feed a JSON-lines capture of scan batches through the engine")
	fs.StringVar(&opts.Collar, "collar", "", "Collar id for replayed batches without a collarId")
	fs.BoolVar(&opts.RenderMode, "render", false, "Render the floor plan (after an optional replay) and exit")
	fs.StringVar(&opts.Output, "output", "", "Output file for --render or --replay (default: stdout for replay)")
	fs.StringVar(&opts.Format, "format", "raster", "Render format: raster, vector, svg or geojson")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 0, "Grid spacing in meters (0 = use config)")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(out, "Usage of collarmesh:\n\n")
		_, _ = fmt.Fprintf(out, "  collarmesh [flags]              run the positioning service\n")
		_, _ = fmt.Fprintf(out, "  collarmesh --replay scans.jsonl replay a capture and print positions\n")
		_, _ = fmt.Fprintf(out, "  collarmesh --render --format svg --output plan.svg\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch opts.Format {
	case "raster", "png", "vector", "svg", "geojson":
	default:
		return fmt.Errorf("unknown format %q (want raster, vector, svg or geojson)", opts.Format)
	}
	if opts.HttpPort <= 0 || opts.HttpPort > 65535 {
		return fmt.Errorf("invalid --http-port %d", opts.HttpPort)
	}
	if opts.GridSpacing < 0 {
		return fmt.Errorf("--grid-spacing must not be negative")
	}

	app.ApplyOptions(opts)

	switch {
	case opts.RenderMode:
		return app.RunRender()
	case opts.ReplayFile != "":
		return app.RunReplay()
	}

	_, _ = fmt.Fprintf(out, "collarmesh version: %s\n", Version)
	_, _ = fmt.Fprintln(out, "collarmesh service starting...")
	return app.RunService()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Error: %v", err)
	}
}
