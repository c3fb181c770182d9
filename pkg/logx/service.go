package logx

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./cadence.log"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	// Path defaults to ./cadence.log.
	Path string
}

var setGlobals sync.Once

// Service owns the sinks behind every Logger it hands out.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
}

// NewService applies cfg and returns the service with its root logger. If the
// log file cannot be opened, logging stays on the console and the failure is
// logged there.
func NewService(cfg Config) (*Service, Logger) {
	setGlobals.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
	s := &Service{}
	s.store(consoleWriter(os.Stdout), cfg.Level)
	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log file unavailable; using console", Err(err))
	}
	return s, log
}

// Apply swaps level and sinks. Loggers from this service see the change on
// their next event. On error the previous sinks stay in place.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		writers []io.Writer
		file    *os.File
	)
	if cfg.File.Enabled {
		path := cmp.Or(strings.TrimSpace(cfg.File.Path), defaultFilePath)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		file = f
		writers = append(writers, zerolog.SyncWriter(f))
	}
	if cfg.Console || len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	s.store(zerolog.MultiLevelWriter(writers...), cfg.Level)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
	return nil
}

func (s *Service) store(w io.Writer, level string) {
	zl := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close releases the log file. Events written afterwards to a file-only
// service are lost.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
