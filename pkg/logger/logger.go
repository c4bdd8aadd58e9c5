package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/subledger/pkg/config"
)

func New(c *config.Config) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if c != nil && c.Env == config.EnvDev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "time"
	l, err := cfg.Build(zap.Fields(zap.String("service", "subledger")))
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Sync flushes buffered entries on shutdown.
func registerSync(lc fx.Lifecycle, l *zap.SugaredLogger) {
	lc.Append(fx.StopHook(func() {
		_ = l.Sync()
	}))
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerSync),
)
