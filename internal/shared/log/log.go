package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a console logger tagged with the component name. The
// tag is rendered upper-case in its own column and excluded from the
// trailing field list. GATEHOUSE_LOG_LEVEL overrides the default
// info level ("debug" is the useful alternative when chasing sweep
// or reconciliation behavior).
func New(module string) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:           os.Stderr,
		TimeFormat:    "15:04",
		PartsOrder:    []string{"time", "level", "module", "message"},
		FieldsExclude: []string{"module"},
	}

	out.FormatPartValueByName = func(i any, s string) string {
		if s == "module" && i != nil {
			return strings.ToUpper(fmt.Sprintf("%s", i))
		}
		return ""
	}

	out.FormatFieldName = func(i any) string {
		return fmt.Sprintf("\n         \033[30m- \033[36m%s: \033[0m", i)
	}

	out.FormatErrFieldName = func(i any) string {
		return fmt.Sprintf("\n         \033[30m- \033[31m%s: \033[0m", i)
	}

	level := zerolog.InfoLevel
	if raw := os.Getenv("GATEHOUSE_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("module", module).
		Logger()

	return logger
}
