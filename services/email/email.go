package emailsvc

import (
	"os"

	"github.com/trezcool/shuttle/core"
)

// NewService sends through SendGrid when an API key is configured, to stdout otherwise.
func NewService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey != "" && !conf.TestMode {
		return NewSendgridService(conf, logger)
	}
	return NewConsoleService(conf, logger, os.Stdout)
}

// syncService delivers every message before SendMessages returns.
type syncService struct {
	send func(msg *core.EmailMessage)
}

func (svc syncService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		svc.send(msg)
	}
}

// NewSyncService is NewService for short-lived processes, which would exit before a background send completes.
func NewSyncService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey != "" && !conf.TestMode {
		return syncService{send: newSendgridService(conf, logger).sendMessage}
	}
	return syncService{send: NewConsoleService(conf, logger, os.Stdout).(*consoleService).sendMessage}
}
