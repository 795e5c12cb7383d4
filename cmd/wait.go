package cmd

import (
	"context"
	"io"

	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/daemon"
	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/pkg/errors"
)

// waitForEvent reads the stream until one of the given event types arrives.
// ERROR events are logged and returned if they are not awaited.
func waitForEvent(ctx context.Context, stream *daemon.EventStream, until ...events.EventType) (events.WorkspaceStatusEvent, error) {
	var lastError events.WorkspaceStatusEvent
	for {
		event, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return event, errors.Wrap(ctx.Err(), "wait for workspace")
			} else if err == io.EOF {
				return event, errors.New("daemon closed the event stream")
			}
			return event, err
		}

		log.Default.Debugf("workspace %s: %s %s", event.WorkspaceID, event.EventType, event.Error)
		for _, eventType := range until {
			if event.EventType == eventType {
				if lastError.Error != "" && event.Error == "" {
					event.Error = lastError.Error
				}
				return event, nil
			}
		}
		if event.EventType == events.EventTypeError {
			lastError = event
			log.Default.Warnf("workspace %s: %s", event.WorkspaceID, event.Error)
		}
	}
}
