// Package logging sets up the process-wide logrus logger and the small
// per-component sub-logger convention used across the driver and bridge
// packages: every long-lived component carries a *logrus.Entry tagged with
// contextual fields rather than a bare *logrus.Logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Root is the process-wide logger. Callers configure it once at startup
// (Init) and then derive scoped entries via For.
var Root = logrus.New()

func init() {
	Root.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	Root.SetOutput(os.Stderr)
	Root.SetLevel(logrus.InfoLevel)
}

// Init configures the root logger's level and output. level follows
// logrus's level names ("debug", "info", "warning", "error"); an unknown
// name is treated as "info".
func Init(levelName string, out io.Writer) {
	lvl, err := logrus.ParseLevel(levelName)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Root.SetLevel(lvl)
	if out != nil {
		Root.SetOutput(out)
	}
}

// For returns a component-scoped logger, e.g. logging.For("gsusb", "bus0").
func For(component, instance string) *logrus.Entry {
	return Root.WithFields(logrus.Fields{
		"component": component,
		"instance":  instance,
	})
}
