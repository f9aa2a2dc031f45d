package logger

import (
	"log"
	"os"
)

// NewLogger writes to stdout, or to a file when running under env 'prod'
func NewLogger(env string, logPath string) (l *log.Logger) {
	l = log.New(os.Stdout, "", log.LstdFlags|log.Lshortfile)
	if env == "prod" {
		if logPath == "" {
			log.Fatal("LOG_PATH is empty")
		}
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
		if err != nil {
			log.Fatalf("failed to create log file, err: %v", err)
		}
		// NOTE Don't close it
		l.SetOutput(f)
	}
	return
}
