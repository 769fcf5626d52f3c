package lumen

import (
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger installs the application's default slog logger.
func InitLogger(config *Config) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := getProjectRoot(filename)

	// Rewrite source paths relative to the project root so log lines stay
	// readable.
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source, ok := a.Value.Any().(*slog.Source)
			if !ok {
				return a
			}
			if projectRoot != "" && strings.HasPrefix(source.File, projectRoot) {
				source.File = source.File[len(projectRoot)+1:]
			}
			return slog.Any(a.Key, source)
		}
		return a
	}

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:       config.GetSlogLevel(),
		AddSource:   true,
		NoColor:     false,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})

	slog.SetDefault(slog.New(handler))
}

// getProjectRoot infers the project root from this file's path.
func getProjectRoot(filepath string) string {
	dir := filepath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == os.PathSeparator {
			return dir[:i]
		}
	}
	return ""
}
