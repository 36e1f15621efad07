package logger

import (
	"log/slog"
	"time"
)

func fatalRecord(msg string) slog.Record {
	r := slog.NewRecord(time.Now(), slog.LevelError+4, msg, 0)
	r.AddAttrs(slog.Bool("fatal", true))
	return r
}
