// Package xlog provides the shared logrus root logger for the multipath
// core. Each package obtains its own *logrus.Entry tagged with a
// "subsystem" field, following the same SetLogger/package-logger split used
// throughout the codebase this one was adapted from.
package xlog

import "github.com/sirupsen/logrus"

var root = logrus.NewEntry(logrus.New())

// SetRoot replaces the root logger. The daemon and CLI entrypoints call
// this once at startup to inject formatting, level and output
// configuration; library packages never touch the underlying
// *logrus.Logger directly.
func SetRoot(logger *logrus.Entry) {
	root = logger
}

// For returns a logger scoped to subsystem, carrying it as a field.
func For(subsystem string) *logrus.Entry {
	return root.WithField("subsystem", subsystem)
}
