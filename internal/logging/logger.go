package logging

import (
	"io"
	"os"

	"github.com/agux/roscrape/internal/conf"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Logger the global logger for this project
var Logger = logrus.New()

const (
	//DateFormat is project-standard date format.
	DateFormat = "2006-01-02"
	//TimeFormat is project-standard time format.
	TimeFormat = "15:04:05"
	//DateTimeFormat is project-standard datetime format.
	DateTimeFormat = "2006-01-02 15:04:05"
)

func init() {
	if lvl, e := logrus.ParseLevel(conf.Args.Logging.LogLevel); e == nil {
		Logger.SetLevel(lvl)
	} else {
		Logger.Warnf("unknown log level %q, falling back to info", conf.Args.Logging.LogLevel)
	}

	Logger.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: DateTimeFormat,
		FullTimestamp:   true,
		ForceFormatting: true,
	})

	path := conf.Args.Logging.LogFilePath
	if path == "" {
		return
	}
	logFile, e := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if e != nil {
		Logger.Panicln("failed to open log file", e)
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	logrus.RegisterExitHandler(func() {
		logFile.Close()
	})
}
