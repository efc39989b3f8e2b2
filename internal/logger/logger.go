package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel は名前からレベルを返す
func ParseLevel(name string) (Level, bool) {
	var z zapcore.Level
	if err := z.UnmarshalText([]byte(name)); err != nil {
		return LevelInfo, false
	}
	return fromZap(z), true
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZap(z zapcore.Level) Level {
	switch {
	case z <= zapcore.DebugLevel:
		return LevelDebug
	case z == zapcore.InfoLevel:
		return LevelInfo
	case z == zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// Logger はスレッドセーフなロガー
type Logger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New はコンソール形式で出力するロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	config := encoderConfig()
	config.EncodeLevel = bracketLevel
	config.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}
	config.EncodeTime = zapcore.TimeEncoderOfLayout("[2006-01-02 15:04:05.000]")
	config.ConsoleSeparator = " "
	return newLogger(zapcore.NewConsoleEncoder(config), out, minLevel)
}

// NewJSON はJSON形式で出力するロガーを作成する
func NewJSON(out io.Writer, minLevel Level) *Logger {
	config := encoderConfig()
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	return newLogger(zapcore.NewJSONEncoder(config), out, minLevel)
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "worker",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func bracketLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

func newLogger(enc zapcore.Encoder, out io.Writer, minLevel Level) *Logger {
	level := zap.NewAtomicLevelAt(minLevel.zap())
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	return &Logger{
		level: level,
		sugar: zap.New(core).Sugar(),
	}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

// Level は現在のログレベルを返す
func (l *Logger) Level() Level {
	return fromZap(l.level.Level())
}

// Sync はバッファされたログを書き出す
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// named は id を名前に持つロガーを返す
func (l *Logger) named(id string) *zap.SugaredLogger {
	if id == "" {
		return l.sugar
	}
	return l.sugar.Named(id)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(id string, format string, args ...any) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.named(id).Debugf(format, args...)
	}
}

// Info は情報ログを出力する
func (l *Logger) Info(id string, format string, args ...any) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.named(id).Infof(format, args...)
	}
}

// Warn は警告ログを出力する
func (l *Logger) Warn(id string, format string, args ...any) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.named(id).Warnf(format, args...)
	}
}

// Error はエラーログを出力する
func (l *Logger) Error(id string, format string, args ...any) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.named(id).Errorf(format, args...)
	}
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(id string, format string, args ...any) {
	Default.Debug(id, format, args...)
}

// Info は情報ログを出力する
func Info(id string, format string, args ...any) {
	Default.Info(id, format, args...)
}

// Warn は警告ログを出力する
func Warn(id string, format string, args ...any) {
	Default.Warn(id, format, args...)
}

// Error はエラーログを出力する
func Error(id string, format string, args ...any) {
	Default.Error(id, format, args...)
}
