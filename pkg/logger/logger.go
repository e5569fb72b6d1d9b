package logger

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultService = "alphabot"

type Options struct {
	Service string // поле service в каждой записи
	Account string // пусто — общий логгер процесса
	Dir     string // пусто — только консоль
	Level   string // debug|info|warn|error
}

// New собирает логгер: консоль всегда, плюс текстовый файл <Dir>/<account>.log.
// Глобальных логгеров нет, каждый аккаунт получает свой экземпляр.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, errors.Wrapf(err, "log level %q", opts.Level)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "log dir")
		}
		name := opts.Account
		if name == "" {
			name = serviceName(opts)
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, FileName(name)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).
		With(zap.String("service", serviceName(opts)))
	if opts.Account != "" {
		log = log.With(zap.String("account", opts.Account))
	}
	return log, nil
}

func serviceName(opts Options) string {
	if opts.Service == "" {
		return defaultService
	}
	return opts.Service
}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// FileName — имя файла лога для аккаунта, без разделителей пути.
func FileName(account string) string {
	return unsafeChars.ReplaceAllString(account, "_") + ".log"
}
