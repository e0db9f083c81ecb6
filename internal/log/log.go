package log

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const levelEnv = "HANJANG_LOG_LEVEL"

// New builds the process logger. JSON goes to stderr unless stderr is a
// terminal, in which case a console encoder is used.
func New() *zap.Logger {
	return NewWithLevel(os.Getenv(levelEnv))
}

func NewWithLevel(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.DisableStacktrace = true
	if isatty.IsTerminal(os.Stderr.Fd()) {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build(zap.WrapCore(MaskCore))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// ParseLevel maps debug|info|warn|error to a zap level; unknown values are info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var secretKeys = []string{"key", "token", "secret", "password", "authorization", "bearer"}

// Secret returns a string field whose value is redacted when the key or the
// value looks like a credential.
func Secret(key, val string) zap.Field {
	return zap.String(key, Mask(key, val))
}

// Mask redacts val when key names a credential or val looks like one.
func Mask(key, val string) string {
	lk := strings.ToLower(key)
	for _, p := range secretKeys {
		if strings.Contains(lk, p) {
			return redact(val)
		}
	}
	if strings.HasPrefix(strings.ToLower(val), "bearer ") {
		parts := strings.SplitN(val, " ", 2)
		return "Bearer " + redact(parts[1])
	}
	if strings.HasPrefix(val, "sk-") || strings.HasPrefix(val, "AKIA") || looksSecret(val) {
		return redact(val)
	}
	return val
}

var secretLike = regexp.MustCompile(`^[A-Za-z0-9_\-+/=]{32,}$`)

// looksSecret reports long opaque tokens. URL paths and UUIDs are not
// secrets.
func looksSecret(s string) bool {
	if strings.HasPrefix(s, "/") || !secretLike.MatchString(s) {
		return false
	}
	_, err := uuid.Parse(s)
	return err != nil
}

// MaskCore wraps c so every string field passes through Mask, whether or not
// the caller used Secret.
func MaskCore(c zapcore.Core) zapcore.Core { return maskCore{c} }

type maskCore struct{ zapcore.Core }

func (m maskCore) With(fields []zapcore.Field) zapcore.Core {
	return maskCore{m.Core.With(maskFields(fields))}
}

func (m maskCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if m.Enabled(ent.Level) {
		return ce.AddCore(ent, m)
	}
	return ce
}

func (m maskCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return m.Core.Write(ent, maskFields(fields))
}

func maskFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if f.Type != zapcore.StringType {
			continue
		}
		v := Mask(f.Key, f.String)
		if v == f.String {
			continue
		}
		if out == nil {
			out = append([]zapcore.Field(nil), fields...)
		}
		out[i].String = v
	}
	if out == nil {
		return fields
	}
	return out
}

func redact(s string) string {
	n := len(s)
	if n <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***%s", s[:4], s[n-4:])
}
