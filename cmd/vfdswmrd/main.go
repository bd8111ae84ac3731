// Command vfdswmrd drives the VFD SWMR coordination core as a standalone
// process: it opens a shadow file in either writer or reader mode, lets
// the process-wide end-of-tick scheduler fire on its own cadence, and
// optionally exposes the diagnostics HTTP endpoint.
//
// The page buffer, metadata cache, shadow free-space manager, and primary
// file's space-management surface are all external collaborators that a
// real HDF5 library process supplies; this binary stands in the
// collab package's in-memory fakes for them, which is enough to observe
// end-of-tick cycles happen against a real, on-disk shadow file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hdfgroup/vfdswmr/collab"
	"github.com/hdfgroup/vfdswmr/config"
	"github.com/hdfgroup/vfdswmr/diag"
	"github.com/hdfgroup/vfdswmr/eot"
	"github.com/hdfgroup/vfdswmr/logger"
	"github.com/hdfgroup/vfdswmr/shadow"
)

// Version and BuildDate are overridden at link time via -ldflags.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func init() {
	// All domain and ambient options are configured via VFDSWMR_* environment
	// variables (see package config); the flags below cover the essentials
	// that don't belong in the environment.
	flag.Bool("v", false, "print version and exit")
	flag.Bool("version", false, "print version and exit")
	flag.Bool("h", false, "print usage and exit")
	flag.Bool("help", false, "print usage and exit")
}

func main() {
	flag.Parse()

	if flag.Lookup("v").Value.String() == "true" || flag.Lookup("version").Value.String() == "true" {
		fmt.Printf("vfdswmrd v%s (built %s)\n", Version, BuildDate)
		os.Exit(0)
	}
	if flag.Lookup("h").Value.String() == "true" || flag.Lookup("help").Value.String() == "true" {
		fmt.Printf("vfdswmrd v%s\n\n", Version)
		fmt.Println("Usage: vfdswmrd [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nAll options are set via environment variables; see the config package.")
		os.Exit(0)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "vfdswmrd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Configure()
	logger.InitLogBridge()
	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		logger.Fatal("invalid log level: %v", err)
	}

	if traceSubsystems := os.Getenv("VFDSWMR_TRACE_SUBSYSTEMS"); traceSubsystems != "" {
		subsystems := strings.Split(traceSubsystems, ",")
		for i, s := range subsystems {
			subsystems[i] = strings.TrimSpace(s)
		}
		logger.EnableTrace(subsystems...)
		logger.Info("trace subsystems enabled: %s", strings.Join(subsystems, ", "))
	}

	logger.Info("starting vfdswmrd with log level %s", strings.ToUpper(logger.GetLogLevel()))

	sched := eot.Get()

	var (
		writer *shadow.Writer
		reader *shadow.Reader
		err    error
	)

	if cfg.Writer {
		writer, err = openWriter(cfg, sched)
		if err != nil {
			logger.Fatal("open writer: %v", err)
		}
		logger.Info("writer open: shadow file %s, tick %d", cfg.MDFilePath, writer.Tick())
	} else {
		reader, err = openReader(cfg, sched)
		if err != nil {
			logger.Fatal("open reader: %v", err)
		}
		logger.Info("reader open: shadow file %s", cfg.MDFilePath)
	}

	done := make(chan struct{})
	go pumpScheduler(sched, cfg.TickDuration(), done)

	var diagServer *diag.Server
	if cfg.DiagAddr != "" {
		var provider diag.StatsProvider
		if writer != nil {
			provider = writer
		} else {
			provider = readerStats{reader}
		}
		diagServer = diag.NewServer(cfg.DiagAddr, provider)
		diagServer.Start()
		logger.Info("diagnostics endpoint listening on %s", cfg.DiagAddr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received, closing")
	close(done)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if diagServer != nil {
		if err := diagServer.Shutdown(ctx); err != nil {
			logger.Error("diagnostics server shutdown: %v", err)
		}
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("writer close: %v", err)
			os.Exit(1)
		}
	} else if reader != nil {
		reader.Close()
	}

	logger.Info("vfdswmrd stopped")
}

// pumpScheduler polls the process-wide scheduler for due entries at a
// quarter of the configured tick length (capped at 100ms on the low end so
// a very short tick length doesn't spin the goroutine), until done closes.
// In a real HDF5 library process, a public API call such as
// shadow.Writer.DelayWrite gives the scheduler a chance to fire on its
// outermost (non-reentrant) call, per §5; this standalone daemon has no
// application issuing those calls, so it supplies its own pump instead.
func pumpScheduler(sched *eot.Scheduler, tickLen time.Duration, done <-chan struct{}) {
	interval := tickLen / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if err := sched.ProcessDue(now); err != nil {
				logger.Error("end-of-tick: %v", err)
			}
		case <-done:
			return
		}
	}
}

// openWriter constructs a shadow.Writer backed by the collab package's
// in-memory fakes standing in for the page buffer, metadata cache, shadow
// free-space manager, and primary file's space-management surface.
func openWriter(cfg *config.Config, sched *eot.Scheduler) (*shadow.Writer, error) {
	deps := shadow.WriterDeps{
		PageBuffer:      collab.NewFakePageBuffer(),
		MetaCache:       collab.NewFakeMetaCache(),
		ShadowFreeSpace: collab.NewFakeShadowFreeSpace(cfg.MDPagesReserved*cfg.PageSize, cfg.PageSize),
		PrimaryFS:       collab.NewFakePrimaryFS(),
	}
	wcfg := shadow.WriterConfig{
		MDFilePath:      cfg.MDFilePath,
		PageSize:        cfg.PageSize,
		MDPagesReserved: cfg.MDPagesReserved,
		TickLen:         cfg.TickDuration(),
		MaxLag:          uint64(cfg.MaxLag),
		FlushRawData:    cfg.FlushRawData,
	}
	return shadow.OpenWriter(wcfg, deps, sched)
}

// openReader constructs a shadow.Reader against the real, file-backed
// shadow.FileVFD, so a reader process launched against a writer's
// MDFilePath observes actual on-disk publications.
func openReader(cfg *config.Config, sched *eot.Scheduler) (*shadow.Reader, error) {
	vfd, err := shadow.OpenFileVFD(cfg.MDFilePath)
	if err != nil {
		return nil, err
	}
	deps := shadow.ReaderDeps{
		VFD:        vfd,
		PageBuffer: collab.NewFakePageBuffer(),
		MetaCache:  collab.NewFakeMetaCache(),
	}
	rcfg := shadow.ReaderConfig{TickLen: cfg.TickDuration()}
	return shadow.OpenReader(rcfg, deps, sched), nil
}

// readerStats adapts *shadow.Reader to diag.StatsProvider: a reader has no
// index capacity or delayed-list depth of its own (those belong to the
// writer that publishes the shadow file), so it reports zero for both.
type readerStats struct {
	r *shadow.Reader
}

func (s readerStats) Tick() uint64        { return s.r.Tick() }
func (s readerStats) IndexLen() int       { return 0 }
func (s readerStats) IndexCap() int       { return 0 }
func (s readerStats) DelayedListLen() int { return 0 }
