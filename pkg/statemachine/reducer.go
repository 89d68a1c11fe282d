package statemachine

import (
	"fmt"
	"time"
)

// Reduce returns the context that results from applying e to c. It does not check
// whether e is legal in the current state; that is the Machine's job. Every
// reduction increments SequenceNumber. Reduce panics on an event type it does not
// know, such as a pointer to one of the event structs.
func Reduce(c Context, e Event, now time.Time) Context {
	next, ok := reduce(c, e, now)
	if !ok {
		panic(fmt.Sprintf("statemachine: unhandled event %T", e))
	}
	return next
}

func reduce(c Context, e Event, now time.Time) (Context, bool) {
	next := c
	next.SequenceNumber = c.SequenceNumber + 1

	switch e := e.(type) {
	case StartStartupEvent:
		next.IsStartupProcedureRunning = true
	case EndStartupEvent:
		next.IsStartupProcedureRunning = false
	case CheckEvent:
		next.IsChecking = true
		next.CheckError = nil
	case CheckCompleteUnavailableEvent:
		next.IsChecking = false
		next.CheckError = nil
		next.LatestManifest = nil
		next.Rollback = nil
		next.IsUpdateAvailable = false
		next.LastCheckForUpdateTime = &now
	case CheckCompleteWithUpdateEvent:
		next.IsChecking = false
		next.CheckError = nil
		next.LatestManifest = e.Manifest
		next.Rollback = nil
		next.IsUpdateAvailable = true
		next.LastCheckForUpdateTime = &now
	case CheckCompleteWithRollbackEvent:
		next.IsChecking = false
		next.CheckError = nil
		next.LatestManifest = nil
		next.Rollback = &Rollback{CommitTime: e.CommitTime}
		next.IsUpdateAvailable = true
		next.LastCheckForUpdateTime = &now
	case CheckErrorEvent:
		next.IsChecking = false
		next.CheckError = &ErrorInfo{Message: e.Message}
		next.LastCheckForUpdateTime = &now
	case DownloadEvent:
		next.IsDownloading = true
		next.DownloadError = nil
		next.DownloadProgress = 0
	case DownloadProgressEvent:
		next.DownloadProgress = e.Progress
	case DownloadCompleteEvent:
		next.IsDownloading = false
		next.DownloadError = nil
		next.IsUpdatePending = true
		next.DownloadProgress = 1
	case DownloadCompleteWithUpdateEvent:
		next.IsDownloading = false
		next.DownloadError = nil
		next.LatestManifest = e.Manifest
		next.DownloadedManifest = e.Manifest
		next.Rollback = nil
		next.IsUpdatePending = true
		next.IsUpdateAvailable = true
		next.DownloadProgress = 1
	case DownloadCompleteWithRollbackEvent:
		next.IsDownloading = false
		next.DownloadError = nil
		next.DownloadedManifest = nil
		next.IsUpdatePending = true
		next.DownloadProgress = 1
	case DownloadErrorEvent:
		next.IsDownloading = false
		next.DownloadError = &ErrorInfo{Message: e.Message}
	case RestartEvent:
		next.IsRestarting = true
	default:
		return c, false
	}
	return next, true
}
