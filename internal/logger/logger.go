package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger = zap.NewNop()

// Init initializes the global Zap logger.
// jsonOutput controls whether logs are formatted as JSON.
func Init(debug bool, jsonOutput bool) error {
	l, err := Build(debug, jsonOutput)
	if err != nil {
		return err
	}
	Log = l
	Log.Info("Logger initialized",
		zap.Bool("debug_mode", debug),
		zap.Bool("json_output", jsonOutput),
	)
	return nil
}

// Build constructs a logger without touching the global one.
func Build(debug bool, jsonOutput bool) (*zap.Logger, error) {
	var config zap.Config
	var encoderConfig zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.DisableCaller = true
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.NameKey = "logger"
	encoderConfig.MessageKey = "msg"
	encoderConfig.StacktraceKey = "stacktrace"
	if !config.DisableCaller {
		encoderConfig.CallerKey = "caller"
	}
	if jsonOutput {
		// Colour codes make no sense inside JSON.
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
	}

	config.EncoderConfig = encoderConfig
	config.DisableStacktrace = !debug
	// stdout carries resolved secrets in dotenv form, so logs go to stderr only.
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return l, nil
}
