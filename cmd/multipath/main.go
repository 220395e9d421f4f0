// Command multipath wires the same reconciliation core into a one-shot
// invocation: it replays a single batch of path-admission events read
// from a feed file (or stdin) through one engine.Engine pass and exits.
//
// Real command-line option parsing, usage text and sysfs enumeration of
// attached devices are external collaborators out of scope here; this
// binary's only argument is the feed to replay (see pathfeed).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
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

var log = xlog.For("multipath")

func main() {
	mainPath := flag.String("config", "/etc/multipath.conf", "path to the main configuration file")
	confDir := flag.String("configdir", "/etc/multipath/conf.d", "directory of *.conf overlay files")
	feedPath := flag.String("feed", "", "path-event batch to replay (NDJSON); defaults to stdin")
	logLevel := flag.String("loglevel", "info", "logrus level name")
	flag.Parse()

	initLog(*logLevel)
	log.WithField("run_id", uuid.NewString()).Info("multipath starting")

	if err := run(*mainPath, *confDir, *feedPath); err != nil {
		log.WithError(err).Error("multipath run failed")
		os.Exit(1)
	}
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

	events, err := pathfeed.Decode(feed)
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
