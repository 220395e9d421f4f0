// Command multipathd wires the reconciliation core into a long-running
// process: it loads configuration, opens the device-mapper control
// device, and replays path-admission events from its feed into one
// engine.Engine, applying the resulting device-mapper actions as they're
// decided.
//
// The udev monitor loop that would normally produce that feed, and the
// signal-driven event thread that watches devmap state between passes,
// are external collaborators out of scope here (see pathfeed); this
// binary only owns the wiring between an already-decided path event and
// the kernel. It also exposes the engine's prometheus collectors on
// /metrics.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opensvc/multipath-tools-sub000/internal/blacklist"
	"github.com/opensvc/multipath-tools-sub000/internal/config"
	"github.com/opensvc/multipath-tools-sub000/internal/dmclient"
	"github.com/opensvc/multipath-tools-sub000/internal/engine"
	"github.com/opensvc/multipath-tools-sub000/internal/pathfeed"
	"github.com/opensvc/multipath-tools-sub000/internal/store"
	"github.com/opensvc/multipath-tools-sub000/internal/topology"
	"github.com/opensvc/multipath-tools-sub000/internal/xlog"
)

var log = xlog.For("multipathd")

func main() {
	mainPath := flag.String("config", "/etc/multipath.conf", "path to the main configuration file")
	confDir := flag.String("configdir", "/etc/multipath/conf.d", "directory of *.conf overlay files")
	feedPath := flag.String("feed", "", "path-event feed to tail (NDJSON); defaults to stdin")
	logLevel := flag.String("loglevel", "info", "logrus level name")
	metricsAddr := flag.String("metrics-addr", ":9200", "listen address for /metrics; empty disables it")
	flag.Parse()

	initLog(*logLevel)
	log.WithField("run_id", uuid.NewString()).Info("multipathd starting")

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr)
	}

	if err := run(*mainPath, *confDir, *feedPath); err != nil {
		log.WithError(err).Fatal("multipathd exiting")
	}
}

// serveMetrics exposes the engine's prometheus collectors on /metrics in
// the background; a failure to bind is logged, not fatal, since metrics
// scraping is an operational nicety and shouldn't keep the daemon from
// reconciling paths.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithField("addr", addr).WithError(err).Error("metrics listener exited")
		}
	}()
}

func initLog(level string) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	xlog.SetRoot(logrus.NewEntry(l))
}

func run(mainPath, confDir, feedPath string) error {
	cfg, err := config.Load(mainPath, confDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	dm, err := dmclient.Open()
	if err != nil {
		return fmt.Errorf("opening device-mapper control: %w", err)
	}
	defer dm.Close()

	bl := blacklist.NewList()
	wwids := store.NewWWIDStore(cfg.Defaults.WWIDsFile)
	bindings := store.NewBindingStore(cfg.Defaults.BindingsFile)
	prkeys := store.NewPRKeyStore(cfg.Defaults.PRKeysFile)

	// The PR broadcaster's ScsiExecutor (raw PRIN/PROUT ioctl transport)
	// is out of scope, so reservation handling stays disabled; an engine
	// wired with a real executor would pass it here instead of nil.
	e := engine.New(topology.NewVectors(), cfg, bl, dm, nil, wwids, bindings, prkeys)

	feed := os.Stdin
	if feedPath != "" {
		f, err := os.Open(feedPath)
		if err != nil {
			return fmt.Errorf("opening feed %s: %w", feedPath, err)
		}
		defer f.Close()
		feed = f
	}

	return serve(e, feed)
}

// serve decodes the whole feed, then applies its events in order, logging
// and continuing past a single event's failure rather than aborting the
// whole process -- matching the daemon's "one bad path doesn't take
// down the others" expectation.
func serve(e *engine.Engine, r *os.File) error {
	events, err := pathfeed.Decode(r)
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, ev := range events {
		switch ev.Kind {
		case pathfeed.Add:
			if err := e.AddPath(ev.Path()); err != nil {
				log.WithField("devnode", ev.Devnode).WithError(err).Error("failed to admit path")
				errs = multierror.Append(errs, err)
			}
		case pathfeed.Remove:
			if err := e.RemovePath(ev.Devnode); err != nil {
				log.WithField("devnode", ev.Devnode).WithError(err).Error("failed to remove path")
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}
