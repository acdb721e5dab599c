package log

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// newRotatedFile opens a log file that rotates every RotatePeriod, named
// <dir>/<prefix>_<timestamp>.log with a <prefix>.log link to the current one.
func newRotatedFile(cfg *FileConfig) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "harvester"
	}

	period := cfg.RotatePeriod
	if period <= 0 {
		period = 6 * time.Hour
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(period),
		rotatelogs.WithLinkName(filepath.Join(cfg.Dir, prefix+".log")),
	}
	if cfg.MaxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(cfg.MaxAge))
	} else {
		// rotatelogs defaults to a 7 days max age
		opts = append(opts, rotatelogs.WithMaxAge(-1))
	}

	return rotatelogs.New(
		fmt.Sprintf("%s_%s.log", filepath.Join(cfg.Dir, prefix), "%Y%m%d%H%M%S"),
		opts...,
	)
}
