package session

import (
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
)

var (
	ErrNotConnected  = errors.New("session is not connected")
	ErrConnectFailed = errors.New("connect failed")
	ErrSessionEnded  = errors.New("session ended")
	ErrDisconnecting = errors.New("session is disconnecting")
	ErrInvalidConfig = errors.New("invalid connection config")
	ErrRejected      = errors.New("rejected by broker")
)

func logDebug(name string, format string, v ...interface{}) {
	logger.DebugF("[%s] %s", name, fmt.Sprintf(format, v...))
}

func logInfo(name string, format string, v ...interface{}) {
	logger.InfoF("[%s] %s", name, fmt.Sprintf(format, v...))
}

func logWarn(name string, format string, v ...interface{}) {
	logger.WarnF("[%s] %s", name, fmt.Sprintf(format, v...))
}
