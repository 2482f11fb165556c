// Package version хранит сборочные метаданные shopcore.
package version

import (
	"fmt"
	"runtime/debug"
)

// Переменные заполняются через -ldflags при релизной сборке; при запуске
// через go run или go test commit и date подхватываются из build info.
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func Version() string { return version }

func Commit() string {
	if commit != "" {
		return commit
	}
	return buildSetting("vcs.revision")
}

func Date() string {
	if date != "" {
		return date
	}
	return buildSetting("vcs.time")
}

// String — однострочное описание сборки для логов и health checks.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version(), Commit(), Date())
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, setting := range info.Settings {
		if setting.Key == key && setting.Value != "" {
			return setting.Value
		}
	}
	return "unknown"
}
