package main

import (
	"context"
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

	"github.com/banshee-data/groundlink/internal/catalog"
	"github.com/banshee-data/groundlink/internal/config"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/session"
	"github.com/banshee-data/groundlink/internal/station"
	"github.com/banshee-data/groundlink/internal/transport"
	"github.com/banshee-data/groundlink/internal/version"
)

// runOptions are the run subcommand's flags. Flags that were set on the
// command line override the config file.
type runOptions struct {
	configPath  string
	transport   string
	port        int
	serial      string
	baud        int
	framing     string
	pcap        string
	listen      string
	sessions    string
	catalogPath string
	noCatalog   bool
	connect     bool
	quiet       bool
	trace       bool
}

func newRunFlags(opts *runOptions) *flag.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "JSON config file")
	fs.StringVar(&opts.transport, "transport", config.TransportUDP, "Vehicle transport: udp, serial or pcap")
	fs.IntVar(&opts.port, "port", transport.DefaultPort, "UDP port the vehicle sends to")
	fs.StringVar(&opts.serial, "serial", "", "Serial device of the telemetry radio")
	fs.IntVar(&opts.baud, "baud", transport.DefaultBaudRate, "Serial baud rate")
	fs.StringVar(&opts.framing, "framing", transport.DefaultFraming, "Serial data bits, parity and stop bits")
	fs.StringVar(&opts.pcap, "pcap", "", "Capture file to replay instead of a live link")
	fs.StringVar(&opts.listen, "listen", "localhost:8090", "Debug HTTP listen address")
	fs.StringVar(&opts.sessions, "sessions", session.DefaultRoot, "Directory for recorded sessions")
	fs.StringVar(&opts.catalogPath, "catalog", catalog.DefaultPath, "Session catalog database")
	fs.BoolVar(&opts.noCatalog, "no-catalog", false, "Do not index sessions in the catalog")
	fs.BoolVar(&opts.connect, "connect", true, "Start connecting immediately")
	fs.BoolVar(&opts.quiet, "quiet", false, "Only log warnings and link loss")
	fs.BoolVar(&opts.trace, "trace", false, "Log every decoded packet")
	return fs
}

// resolveConfig loads the config file (if any) and applies explicitly set
// flags on top of it.
func resolveConfig(fs *flag.FlagSet, opts *runOptions) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = &opts.transport
		case "port":
			cfg.Port = &opts.port
		case "serial":
			cfg.SerialDevice = &opts.serial
		case "baud":
			cfg.BaudRate = &opts.baud
		case "framing":
			cfg.SerialFraming = &opts.framing
		case "pcap":
			cfg.PcapFile = &opts.pcap
		case "listen":
			cfg.ListenAddr = &opts.listen
		case "sessions":
			cfg.SessionsDir = &opts.sessions
		case "catalog":
			cfg.CatalogPath = &opts.catalogPath
		}
	})
	// -pcap alone implies the pcap transport.
	if cfg.Transport == nil && cfg.GetPcapFile() != "" {
		t := config.TransportPcap
		cfg.Transport = &t
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func logWriters(opts runOptions) monitoring.LogWriters {
	w := monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr}
	if opts.quiet {
		w.Diag = nil
	}
	if opts.trace {
		w.Trace = os.Stderr
	}
	return w
}

func buildConnector(cfg *config.Config) (transport.Connector, error) {
	switch cfg.GetTransport() {
	case config.TransportUDP:
		return transport.NewUDPConnector(transport.UDPConnectorConfig{}), nil
	case config.TransportSerial:
		return &transport.SerialConnector{
			Path:    cfg.GetSerialDevice(),
			Options: cfg.SerialOptions(),
		}, nil
	case config.TransportPcap:
		return &transport.PcapConnector{
			Path:     cfg.GetPcapFile(),
			Realtime: cfg.GetPcapRealtime(),
		}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.GetTransport())
}

func stationConfig(cfg *config.Config, conn transport.Connector, indexer session.Indexer) station.Config {
	return station.Config{
		Connector:         conn,
		Link:              cfg.LinkTiming(),
		Control:           cfg.ControlSettings(),
		BufferCapacity:    cfg.GetBufferCapacity(),
		StatusCapacity:    cfg.GetStatusCapacity(),
		AttitudeInterval:  cfg.GetAttitudeInterval(),
		AltitudeInterval:  cfg.GetAltitudeInterval(),
		Recorder:          session.Config{Root: cfg.GetSessionsDir(), Indexer: indexer},
		ParamRequestDelay: cfg.GetParamRequestDelay(),
		ParamRefreshDelay: cfg.GetParamRefreshDelay(),
	}
}

func handleRun(args []string) {
	var opts runOptions
	fs := newRunFlags(&opts)
	fs.Parse(args)

	cfg, err := resolveConfig(fs, &opts)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	monitoring.SetLogWriters(logWriters(opts))
	log.Printf("%s starting", version.String())

	conn, err := buildConnector(cfg)
	if err != nil {
		log.Fatalf("transport: %v", err)
	}

	var cat *catalog.Catalog
	var indexer session.Indexer
	if !opts.noCatalog {
		cat, err = catalog.Open(cfg.GetCatalogPath())
		if err != nil {
			log.Fatalf("failed to open session catalog: %v", err)
		}
		defer cat.Close()
		indexer = cat
	}

	st := station.New(stationConfig(cfg, conn, indexer))
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.connect {
		st.Connect(cfg.GetPort())
	}

	var wg sync.WaitGroup

	// log link state changes until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		states, unwatch := st.Watch()
		defer unwatch()
		for {
			select {
			case s := <-states:
				monitoring.Opsf("link %s", s)
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		st.AttachAdminRoutes(mux)
		if cat != nil {
			cat.AttachAdminRoutes(mux)
		}
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			http.Redirect(w, r, "/debug/", http.StatusFound)
		})
		serve(ctx, cfg.GetListenAddr(), mux)
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// serve runs an HTTP server until ctx is done.
func serve(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}
	go func() {
		log.Printf("debug server listening on http://%s/debug/", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}
