package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/richardliu001/order-service/internal/config"
)

// NewLogger builds the process logger. Every entry carries the component
// name, e.g. "order-server" or "order-poller".
func NewLogger(cfg config.LogConfig, component string) (*zap.SugaredLogger, error) {
	return build(cfg, component, zapcore.Lock(os.Stdout))
}

func build(cfg config.LogConfig, component string, out zapcore.WriteSyncer) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	enc, err := encoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(lvl))
	if cfg.Sampling {
		// first 100 identical messages per second, then every 100th
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
	}
	l := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
	if component != "" {
		l = l.With(zap.String("component", component))
	}
	return l.Sugar(), nil
}

func encoder(name string) (zapcore.Encoder, error) {
	switch name {
	case "", "json":
		c := zap.NewProductionEncoderConfig()
		c.TimeKey = "ts"
		c.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(c), nil
	case "console":
		c := zap.NewDevelopmentEncoderConfig()
		c.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		return zapcore.NewConsoleEncoder(c), nil
	}
	return nil, fmt.Errorf("unknown log encoding %q", name)
}
