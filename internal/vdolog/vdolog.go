// Package vdolog centralizes structured logging for the rest of this tree,
// upgrading the teacher's bare log.Fatal/fmt.Printf diagnostics (see e.g.
// biscuit/src/kernel/chentry.go) to per-zone structured fields.
package vdolog

import (
	"os"

	"github.com/sirupsen/logrus"

	"vdo/internal/zone"
)

// New returns a base *logrus.Entry for the whole volume, configured the way
// a long-running daemon rather than a one-shot CLI tool wants: full
// timestamps, text output to stderr unless VDO_LOG_JSON is set.
func New(volumeName string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if os.Getenv("VDO_LOG_JSON") != "" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("VDO_LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	}
	return l.WithField("volume", volumeName)
}

// ForZone tags base with the zone identity every per-zone goroutine's log
// lines should carry, so a zone's own lifecycle (dispatch, admin
// transitions, read-only trips) is attributable in a multi-zone volume.
func ForZone(base *logrus.Entry, id zone.ID) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"zone_type":  id.Type.String(),
		"zone_index": id.Index,
	})
}
