package bootstrap

import (
	"fmt"
	"os"

	"argus/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output at level.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the configuration, builds the logger at the configured
// level and logs the masked settings.
func InitConfig(path string) (*config.Config, *zap.Logger, *zap.SugaredLogger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, sugar, err := InitLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	masked := cfg.Masked()
	sugar.Infow("Config loaded",
		"elasticsearch", masked.Elasticsearch.Addresses,
		"workers", cfg.Engine.Workers,
		"rule_timeout", cfg.Engine.RuleTimeout,
		"schedule_interval", cfg.Engine.ScheduleInterval,
		"dedup_backend", cfg.Alerts.DedupBackend,
		"clickhouse_enabled", cfg.ClickHouse.Enabled,
		"rules_dir", cfg.Rules.Dir,
		"state_db", cfg.Rules.StateDB)
	return cfg, logger, sugar, nil
}
