package ipc

import (
	"time"

	"github.com/sirupsen/logrus"
)

// quietCommands are polled by clients and only logged at debug level
var quietCommands = map[CommandType]bool{
	CmdStatus:   true,
	CmdGetQueue: true,
	CmdHistory:  true,
}

// logRequest records an incoming command
func logRequest(logger logrus.FieldLogger, req *Request) {
	entry := logger.WithField("cmd", req.Cmd)
	if quietCommands[req.Cmd] {
		entry.Debug("Command")
		return
	}
	entry.Info("Command")
}

// logResponse records the outcome of a command and how long it took
func logResponse(logger logrus.FieldLogger, req *Request, resp *Response, elapsed time.Duration) {
	entry := logger.WithFields(logrus.Fields{"cmd": req.Cmd, "duration": elapsed})
	if !resp.Success {
		entry.WithField("error", resp.Error).Warn("Command failed")
		return
	}
	entry.Debug("Command done")
}
