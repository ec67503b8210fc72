// Package version хранит сведения о сборке, выставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/foodorder/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает коммит сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields: сведения о сборке для стартовой строки лога.
func Fields() log.Fields {
	return log.Fields{"version": version, "commit": commit, "build_date": date}
}
