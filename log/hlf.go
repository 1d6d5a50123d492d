package log

import (
	"fmt"

	"github.com/hyperledger/fabric-sdk-go/pkg/core/logging/api"
	"go.uber.org/zap"
)

// HLFLoggerProvider routes fabric-sdk-go logging into the application logger.
type HLFLoggerProvider struct{}

func (HLFLoggerProvider) GetLogger(module string) api.Logger {
	return &hlfLogger{
		SugaredLogger: Named(module),
	}
}

// hlfLogger adds the Print family the SDK expects on top of zap.
type hlfLogger struct {
	*zap.SugaredLogger
}

func (l *hlfLogger) Print(v ...interface{}) {
	l.Info(v...)
}

func (l *hlfLogger) Printf(format string, v ...interface{}) {
	l.Infof(format, v...)
}

func (l *hlfLogger) Println(v ...interface{}) {
	l.Info(fmt.Sprintln(v...))
}
