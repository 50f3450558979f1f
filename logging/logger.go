package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is replaced by BootstrapLogger; the default keeps packages usable in tests.
var Log = logrus.New()

func BootstrapLogger(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.DebugLevel
	}

	Log = &logrus.Logger{
		Out:   os.Stdout,
		Hooks: make(logrus.LevelHooks),
		Formatter: &logrus.TextFormatter{
			DisableColors:    false,
			DisableQuote:     false,
			DisableTimestamp: false,
			FullTimestamp:    true,
			TimestampFormat:  "",
		},
		ReportCaller: true,
		Level:        lvl,
		ExitFunc:     os.Exit,
	}

	if err != nil && level != "" {
		Log.Warnf("unknown log level '%s', falling back to debug", level)
	}
}
