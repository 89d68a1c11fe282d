package statemachine

import (
	"encoding/json"
	"time"
)

// EventType names an event delivered to the state machine and to event sinks.
type EventType string

const (
	EventTypeStartStartup                 EventType = "startStartup"
	EventTypeEndStartup                   EventType = "endStartup"
	EventTypeCheck                        EventType = "check"
	EventTypeCheckCompleteWithUpdate      EventType = "checkCompleteWithUpdate"
	EventTypeCheckCompleteWithRollback    EventType = "checkCompleteWithRollback"
	EventTypeCheckCompleteUnavailable     EventType = "checkCompleteUnavailable"
	EventTypeCheckError                   EventType = "checkError"
	EventTypeDownload                     EventType = "download"
	EventTypeDownloadProgress             EventType = "downloadProgress"
	EventTypeDownloadComplete             EventType = "downloadComplete"
	EventTypeDownloadCompleteWithUpdate   EventType = "downloadCompleteWithUpdate"
	EventTypeDownloadCompleteWithRollback EventType = "downloadCompleteWithRollback"
	EventTypeDownloadError                EventType = "downloadError"
	EventTypeRestart                      EventType = "restart"

	// EventTypeReset is only sent to sinks after ResetAndIncrementRestartCount. It is not an Event.
	EventTypeReset EventType = "reset"
)

// Event is an input to the state machine. The set of implementations is closed;
// Reduce and the transition tables switch over every one of them.
type Event interface {
	Type() EventType
	isEvent()
}

type StartStartupEvent struct{}

type EndStartupEvent struct{}

type CheckEvent struct{}

// CheckCompleteWithUpdateEvent reports a new manifest from the update server.
type CheckCompleteWithUpdateEvent struct {
	Manifest json.RawMessage
}

// CheckCompleteWithRollbackEvent reports a rollBackToEmbedded directive.
type CheckCompleteWithRollbackEvent struct {
	CommitTime time.Time
}

type CheckCompleteUnavailableEvent struct{}

type CheckErrorEvent struct {
	Message string
}

type DownloadEvent struct{}

// DownloadProgressEvent reports download progress between 0 and 1.
type DownloadProgressEvent struct {
	Progress float64
}

// DownloadCompleteEvent finishes a download whose manifest was already reported.
type DownloadCompleteEvent struct{}

type DownloadCompleteWithUpdateEvent struct {
	Manifest json.RawMessage
}

type DownloadCompleteWithRollbackEvent struct{}

type DownloadErrorEvent struct {
	Message string
}

type RestartEvent struct{}

func (StartStartupEvent) Type() EventType              { return EventTypeStartStartup }
func (EndStartupEvent) Type() EventType                { return EventTypeEndStartup }
func (CheckEvent) Type() EventType                     { return EventTypeCheck }
func (CheckCompleteWithUpdateEvent) Type() EventType   { return EventTypeCheckCompleteWithUpdate }
func (CheckCompleteWithRollbackEvent) Type() EventType { return EventTypeCheckCompleteWithRollback }
func (CheckCompleteUnavailableEvent) Type() EventType  { return EventTypeCheckCompleteUnavailable }
func (CheckErrorEvent) Type() EventType                { return EventTypeCheckError }
func (DownloadEvent) Type() EventType                  { return EventTypeDownload }
func (DownloadProgressEvent) Type() EventType          { return EventTypeDownloadProgress }
func (DownloadCompleteEvent) Type() EventType          { return EventTypeDownloadComplete }
func (DownloadCompleteWithUpdateEvent) Type() EventType {
	return EventTypeDownloadCompleteWithUpdate
}
func (DownloadCompleteWithRollbackEvent) Type() EventType {
	return EventTypeDownloadCompleteWithRollback
}
func (DownloadErrorEvent) Type() EventType { return EventTypeDownloadError }
func (RestartEvent) Type() EventType       { return EventTypeRestart }

func (StartStartupEvent) isEvent()                 {}
func (EndStartupEvent) isEvent()                   {}
func (CheckEvent) isEvent()                        {}
func (CheckCompleteWithUpdateEvent) isEvent()      {}
func (CheckCompleteWithRollbackEvent) isEvent()    {}
func (CheckCompleteUnavailableEvent) isEvent()     {}
func (CheckErrorEvent) isEvent()                   {}
func (DownloadEvent) isEvent()                     {}
func (DownloadProgressEvent) isEvent()             {}
func (DownloadCompleteEvent) isEvent()             {}
func (DownloadCompleteWithUpdateEvent) isEvent()   {}
func (DownloadCompleteWithRollbackEvent) isEvent() {}
func (DownloadErrorEvent) isEvent()                {}
func (RestartEvent) isEvent()                      {}
