// Command exitguide runs the evacuation guidance loop: it reads detections
// from a camera or a recorded scenario, plans routes to the nearest exit for
// every indicator, drives the LED controller and serves status over HTTP
// and gRPC.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/exit.guide/internal/api"
	"github.com/banshee-data/exit.guide/internal/config"
	"github.com/banshee-data/exit.guide/internal/db"
	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/guide/pipeline"
	"github.com/banshee-data/exit.guide/internal/httputil"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/recorder"
	"github.com/banshee-data/exit.guide/internal/security"
	"github.com/banshee-data/exit.guide/internal/serialmux"
	"github.com/banshee-data/exit.guide/internal/status"
	"github.com/banshee-data/exit.guide/internal/stream"
	"github.com/banshee-data/exit.guide/internal/timeutil"
	"github.com/banshee-data/exit.guide/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the guide config JSON")
	layoutPath = flag.String("layout", "", "Layout YAML (overrides config)")
	scenario   = flag.String("scenario", "", "Scenario file or directory to replay instead of the camera")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcAddr   = flag.String("grpc", "", "gRPC listen address (overrides config)")
	port       = flag.String("serial", "", "LED controller serial port (overrides config)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
	pgDSN      = flag.String("postgres", "", "Postgres DSN for recorder events")
	mockSerial = flag.Bool("mock-serial", false, "Use a mock LED controller")
	noRestore  = flag.Bool("no-restore-lock", false, "Start unlocked even if a lock was persisted")
	camDevice  = flag.Int("camera", 0, "Camera device index when no camera URL is configured")
	verbose    = flag.Bool("v", false, "Add diagnostic logging from the grid and pipeline to the default warnings")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] [command]

Commands:
  (none)          run the guidance daemon
  migrate ...     manage the SQLite schema (see "migrate help")
  backup <file>   write a consistent copy of the SQLite database
  status [url]    print the daemon's current summary
  toggle [url]    request a wall lock toggle
  version         print build information

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.NArg() > 0 {
		if err := runCommand(flag.Args(), cfg); err != nil {
			log.Fatal(err)
		}
		return
	}

	ops, diag := logWriters(*verbose, os.Stderr)
	pipeline.SetLogWriters(ops, diag, nil)
	l2grid.SetLogWriters(ops, diag, nil)

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.GuideConfig, error) {
	cfg := config.EmptyGuideConfig()
	if *configPath != "" {
		loaded, err := config.LoadGuideConfig(*configPath)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist) && *configPath == config.DefaultConfigPath:
			log.Printf("no config at %s, using built-in defaults", *configPath)
		default:
			return nil, err
		}
	}
	cfg.Apply(config.Overrides{
		ListenAddr:   *listen,
		GRPCAddr:     *grpcAddr,
		SerialPort:   *port,
		DBPath:       *dbPath,
		ScenarioPath: *scenario,
		LayoutPath:   *layoutPath,
		DisableLock:  *noRestore,
	})
	if *pgDSN != "" {
		cfg.PostgresDSN = pgDSN
	}
	return cfg, cfg.Validate()
}

func runCommand(args []string, cfg *config.GuideConfig) error {
	switch args[0] {
	case "migrate":
		return db.RunMigrateCommand(args[1:], cfg.GetDBPath(), os.Stdout)
	case "version":
		fmt.Println(version.Current())
		return nil
	case "backup":
		if len(args) != 2 {
			return fmt.Errorf("usage: backup <file>")
		}
		if err := security.ValidateOutputPath(args[1]); err != nil {
			return err
		}
		d, err := db.OpenDB(cfg.GetDBPath())
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Backup(args[1]); err != nil {
			return err
		}
		fmt.Printf("backed up %s to %s\n", d.Path(), args[1])
		return nil
	case "status", "toggle":
		base := "http://localhost" + cfg.GetListenAddr()
		if len(args) > 1 {
			base = args[1]
		}
		client := api.NewClient(base, httputil.StandardClient{Client: &http.Client{Timeout: 5 * time.Second}})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if args[0] == "toggle" {
			locked, pending, err := client.ToggleLock(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("toggle queued: locked=%t pending=%d\n", locked, pending)
			return nil
		}
		sum, err := client.Status(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// logWriters returns the ops and diag streams for the grid and pipeline
// loggers. Ops warnings always reach w; diag needs verbose.
func logWriters(verbose bool, w io.Writer) (ops, diag io.Writer) {
	if verbose {
		return w, w
	}
	return w, nil
}

// runConfigJSON renders cfg for the run record without the Postgres DSN,
// which may carry credentials. It returns "" if cfg cannot be encoded.
func runConfigJSON(cfg *config.GuideConfig) string {
	recorded := *cfg
	recorded.PostgresDSN = nil
	data, err := json.Marshal(recorded)
	if err != nil {
		log.Printf("failed to encode run config: %v", err)
		return ""
	}
	return string(data)
}

// adminRoutes mounts several admin route sets on one mux.
type adminRoutes []api.AdminRoutes

func (a adminRoutes) AttachAdminRoutes(mux *http.ServeMux) {
	for _, r := range a {
		r.AttachAdminRoutes(mux)
	}
}

func run(cfg *config.GuideConfig) error {
	layout, err := config.LoadLayout(cfg.GetLayoutPath())
	if err != nil {
		return err
	}
	log.Printf("exitguide %s: layout %q with %d indicators and %d surveyed exits",
		version.Current(), layout.Name, len(layout.Points), len(layout.Exits))

	sqlite, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlite.Close()

	var events recorder.Store = sqlite
	if dsn := cfg.GetPostgresDSN(); dsn != "" {
		pg, err := db.NewPostgresStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pg.Close()
		events = pg
		log.Printf("recording events to postgres")
	}

	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Width:       cfg.GetMapWidth(),
		Height:      cfg.GetMapHeight(),
		CellSize:    cfg.GetCellSize(),
		FirePadding: cfg.GetFirePaddingPx(),
		Lookahead:   cfg.GetLookaheadIndex(),
		Points:      layout.Points,
		Store:       sqlite,
	})
	if err != nil {
		return err
	}
	if cfg.GetRestoreLock() {
		restored, err := engine.RestoreLock()
		if err != nil {
			log.Printf("failed to restore wall lock: %v", err)
		} else if restored {
			log.Printf("restored locked wall layer from %s", sqlite.Path())
		}
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	src = l1detect.WithStaticExits(src, layout.Exits)

	leds, err := openLEDs(cfg, len(layout.Points))
	if err != nil {
		return err
	}
	defer leds.Close()
	if err := leds.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize LED controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := status.NewPublisher()
	stats := monitoring.NewCycleStats(256)

	rec := recorder.New(events, engine.RunID())
	if err := rec.Begin(recorder.Run{
		Version:    version.Current().Version,
		ConfigJSON: runConfigJSON(cfg),
		PointCount: len(layout.Points),
	}); err != nil {
		log.Printf("failed to record run start: %v", err)
	}

	var wg sync.WaitGroup
	goRun := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", name, err)
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	goRun("serial monitor", func() error { return leds.Monitor(ctx) })
	goRun("button listener", func() error { return serialmux.ListenButtons(ctx, leds, engine) })

	recUpdates, recCancel := pub.Subscribe(cfg.GetRecorderBuffer())
	goRun("recorder", func() error {
		defer recCancel()
		return rec.Run(ctx, recUpdates)
	})

	ledUpdates, ledCancel := pub.Subscribe(4)
	goRun("signal writer", func() error {
		defer ledCancel()
		return serialmux.NewSignalWriter(leds).Run(ctx, ledUpdates)
	})

	srv := api.NewServer(api.Options{
		Publisher: pub,
		Lock:      engine,
		Stats:     stats,
		Admin:     adminRoutes{sqlite, leds},
	})
	goRun("HTTP server", func() error { return srv.ListenAndServe(ctx, cfg.GetListenAddr()) })

	if addr := cfg.GetGRPCAddr(); addr != "" {
		goRun("gRPC server", func() error { return stream.NewServer(pub, 8).Serve(ctx, addr) })
	}

	runner := &pipeline.Runner{
		Engine:    engine,
		Source:    src,
		Publisher: pub,
		Clock:     timeutil.RealClock{},
		Interval:  cfg.GetCycleInterval(),
		Stats:     stats,
	}
	runErr := runner.Run(ctx)
	if runErr == nil && ctx.Err() == nil {
		// Scenario exhausted: keep serving the final state until interrupted.
		log.Printf("source finished after %d cycles; serving last snapshot", stats.Summary().Cycles)
		<-ctx.Done()
	}
	stop()
	pub.Close()

	if err := engine.PersistLock("shutdown"); err != nil {
		log.Printf("failed to persist wall lock: %v", err)
	}

	wg.Wait()
	written, failed := rec.Stats()
	log.Printf("Graceful shutdown complete (recorded %d rows, %d failures)", written, failed)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func openSource(cfg *config.GuideConfig) (l1detect.Source, error) {
	if path := cfg.GetScenarioPath(); path != "" {
		sc, err := l1detect.LoadScenario(path)
		if err != nil {
			return nil, err
		}
		log.Printf("replaying scenario %s", path)
		return l1detect.NewScenarioSource(sc)
	}
	cam, err := l1detect.OpenCamera(l1detect.CameraConfig{
		Device:     *camDevice,
		URL:        cfg.GetCameraURL(),
		Width:      cfg.GetMapWidth(),
		Height:     cfg.GetMapHeight(),
		Thresholds: l1detect.DefaultColorThresholds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open camera (use -scenario to run without one): %w", err)
	}
	return cam, nil
}

// ledController is what the daemon needs from the LED controller link.
type ledController interface {
	serialmux.SerialMuxInterface
	api.AdminRoutes
}

func openLEDs(cfg *config.GuideConfig, points int) (ledController, error) {
	initLine := serialmux.InitCommand(points)
	switch {
	case *mockSerial:
		return serialmux.NewMockSerialMux([]byte("PING\n"), 5*time.Second, initLine)
	case cfg.GetSerialPort() == "":
		log.Printf("no serial port configured, LED controller disabled")
		return serialmux.NewDisabledSerialMux(), nil
	default:
		mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetSerialBaud()}, initLine)
		if err != nil {
			return nil, fmt.Errorf("failed to open LED controller %s: %w", cfg.GetSerialPort(), err)
		}
		log.Printf("LED controller on %s at %d baud", cfg.GetSerialPort(), cfg.GetSerialBaud())
		return mux, nil
	}
}
