// Command erobot captures a measurement session from a serial-connected
// sensor board: it synchronizes with the device, learns the record schema
// from the format announcement, streams data lines into durable storage, and
// writes a session summary with sampling-quality statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jesseheckman/erobot/internal/capture"
	"github.com/jesseheckman/erobot/internal/config"
	"github.com/jesseheckman/erobot/internal/fsutil"
	"github.com/jesseheckman/erobot/internal/metrics"
	"github.com/jesseheckman/erobot/internal/monitoring"
	"github.com/jesseheckman/erobot/internal/serialport"
	"github.com/jesseheckman/erobot/internal/session"
	"github.com/jesseheckman/erobot/internal/stats"
	"github.com/jesseheckman/erobot/internal/store"
	"github.com/jesseheckman/erobot/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON capture config (optional)")
	portPath    = flag.String("port", "", "Serial port path (empty: first USB port)")
	baudRate    = flag.Int("baud", 0, "Baud rate (0: config or 115200)")
	bufferSize  = flag.Int("buffer-size", 0, "Ingestion buffer capacity (0: config or 100)")
	durationArg = flag.Duration("duration", 0, "Capture duration (0: until stop token)")
	dbPath      = flag.String("db", "", "SQLite database path (selects the SQLite store)")
	csvPath     = flag.String("csv", "", "CSV output path (default data.csv)")
	summaryPath = flag.String("summary", "", "Summary JSON path (default log.json)")
	listen      = flag.String("listen", "", "Metrics listen address (empty: disabled)")
	listPorts   = flag.Bool("list-ports", false, "List available serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	devMode     = flag.Bool("dev", false, "Run against a scripted port instead of hardware")
	fixtures    = flag.String("fixtures", "fixtures.txt", "Fixture lines for dev mode")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := buildConfig()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *devMode, *fixtures); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// buildConfig loads the optional config file and applies flag overrides on
// top. Flags that were not set on the command line leave the file values
// alone.
func buildConfig() (*config.Capture, error) {
	cfg := &config.Capture{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyOverrides(cfg, set)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Capture, set map[string]bool) {
	if set["port"] {
		cfg.Port = portPath
	}
	if set["baud"] {
		cfg.BaudRate = baudRate
	}
	if set["buffer-size"] {
		cfg.BufferSize = bufferSize
	}
	if set["duration"] {
		d := durationArg.String()
		cfg.Duration = &d
	}
	if set["db"] {
		cfg.DatabasePath = dbPath
	}
	if set["csv"] {
		cfg.CSVPath = csvPath
	}
	if set["summary"] {
		cfg.SummaryPath = summaryPath
	}
	if set["listen"] {
		cfg.Listen = listen
	}
}

// run acquires the transport and drives one full session over it.
func run(ctx context.Context, cfg *config.Capture, dev bool, fixturesPath string) error {
	var port serialport.Porter
	if dev {
		scripted, err := scriptedPortFromFixtures(fixturesPath, cfg.Tokens().Stop)
		if err != nil {
			return err
		}
		port = scripted
	} else {
		path := cfg.GetPort()
		if path == "" {
			discovered, err := serialport.FindUSBPort()
			if err != nil {
				return err
			}
			monitoring.Logf("using discovered port %s", discovered)
			path = discovered
		}
		opened, err := serialport.Open(path, cfg.PortOptions())
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrConnect, err)
		}
		port = opened
	}

	return pipeline(ctx, port, cfg)
}

// pipeline runs the three phases of a session strictly in order: protocol,
// ingestion, statistics. Every exit path closes the transport, and buffered
// records are flushed before it is closed.
func pipeline(ctx context.Context, port serialport.Porter, cfg *config.Capture) error {
	sess, err := session.Attach(port, session.WithTokens(cfg.Tokens()))
	if err != nil {
		port.Close()
		return err
	}
	defer sess.Close()

	captureMetrics := metrics.NewCapture()
	if addr := cfg.GetListen(); addr != "" {
		go serveMetrics(ctx, addr, captureMetrics)
	}

	if err := sess.AwaitHandshake(cfg.GetHandshakeTimeout()); err != nil {
		return err
	}
	if err := sess.ProcessFormatMessage(cfg.GetFormatTimeout()); err != nil {
		return err
	}
	schema := sess.Schema()

	fs := fsutil.OSFileSystem{}
	var recordStore store.Store
	var summarySink store.SummarySink
	if path := cfg.GetDatabasePath(); path != "" {
		sqliteStore, err := store.OpenSQLite(path, sess.ID().String(), schema)
		if err != nil {
			return err
		}
		recordStore, summarySink = sqliteStore, sqliteStore
	} else {
		csvStore, err := store.CreateCSV(fs, cfg.GetCSVPath(), schema)
		if err != nil {
			return err
		}
		recordStore = csvStore
		summarySink = store.NewJSONSummarySink(fs, cfg.GetSummaryPath())
	}
	defer recordStore.Close()

	ingestor := capture.New(schema, sess.Reader(), recordStore,
		capture.WithBufferSize(cfg.GetBufferSize()),
		capture.WithStopToken(cfg.Tokens().Stop),
		capture.WithObserver(captureMetrics),
	)

	result, runErr := ingestor.Run(ctx, cfg.GetDuration())

	// Close the transport before deriving statistics; the captured sequence
	// is final once the session ends.
	if err := sess.Close(); err != nil && runErr == nil {
		runErr = err
	}

	if err := summarize(sess.ID().String(), cfg, recordStore, summarySink, result); err != nil {
		// A failed computation is reported, not fatal: the captured data is
		// already durable.
		monitoring.Logf("no summary produced: %v", err)
	}

	return runErr
}

// summarize re-reads the captured sequence and writes the session summary.
func summarize(sessionID string, cfg *config.Capture, recordStore store.Store, sink store.SummarySink, result capture.Result) error {
	schema, records, err := recordStore.ReadAll(context.Background())
	if err != nil {
		return err
	}

	engine := stats.Engine{Unit: cfg.GetTimestampUnit()}
	summary, err := engine.Compute(sessionID, schema, records, stats.Window{
		Start: result.Start,
		Stop:  result.Stop,
	})
	if err != nil {
		return err
	}

	if err := sink.WriteSummary(summary); err != nil {
		return err
	}
	monitoring.Logf("summary: %d records, %.2f Hz, %d missing, %d duplicated",
		summary.DataPointsCount, summary.AverageSamplingFrequencyHz,
		summary.MissingDataPoints, summary.DuplicatedDataPoints)
	return nil
}

// scriptedPortFromFixtures builds a dev-mode port replaying the fixture
// lines, ensuring the script ends with the stop token so the run terminates.
func scriptedPortFromFixtures(path, stopToken string) (*serialport.ScriptedPort, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}

	port := serialport.NewScriptedPort()
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	sawStop := false
	for _, line := range lines {
		port.PushLine(line)
		if line == stopToken {
			sawStop = true
		}
	}
	if !sawStop {
		port.PushLine(stopToken)
	}
	return port, nil
}

func serveMetrics(ctx context.Context, addr string, captureMetrics *metrics.Capture) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", captureMetrics.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		monitoring.Logf("metrics server failed: %v", err)
	}
}
