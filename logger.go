package impersonate

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

const defaultLoggerName = "impersonate"

// ResolveLogger picks the logger for a component: a named logger from the
// provider wins, then the explicit logger, then a pretty glog default.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if name == "" {
		name = defaultLoggerName
	}

	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return provider, named
		}
	}

	if logger != nil {
		return glog.ProviderFromLogger(logger), logger
	}

	base := defaultLogger(name)
	return glog.ProviderFromLogger(base), base
}

func defaultLogger(name string) Logger {
	base := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName(defaultLoggerName),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
	return base.GetLogger(name)
}
