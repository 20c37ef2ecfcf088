package engine

import (
	"context"

	"meetingsync/internal/models"
	"meetingsync/internal/observability/logging"
	"meetingsync/internal/pipeline"
)

// process drives one Ingest row through NEW -> IN_PROGRESS -> {FINISHED,
// WARNING}, per spec §4.4. It never returns an error to its caller;
// outcomes are reflected in the store and in the broker ack.
func (e *Engine) process(ctx context.Context, item jobItem) {
	ctx = logging.ContextWithIngestID(ctx, item.ingestID)
	log := logging.WithContext(ctx, e.logger)

	transitioned, err := e.store.TransitionIngest(ctx, item.ingestID, []models.Status{models.StatusNew}, models.StatusInProgress)
	if err != nil {
		log.Error("transition to in-progress failed", "error", err)
		e.ack(item, err)
		return
	}
	if !transitioned {
		// Already claimed by another worker, or not in NEW (e.g. a reaper
		// re-delivery racing a broker delivery). Ack and move on.
		e.ack(item, nil)
		return
	}

	ing, err := e.store.GetIngest(ctx, item.ingestID)
	if err != nil {
		log.Error("load ingest failed", "error", err)
		e.ack(item, err)
		return
	}

	result, fallback, err := e.runPipeline(ctx, ing)
	if err != nil {
		log.Error("ingest pipeline failed", "uuid", item.uuid, "error", err, "retryable", pipeline.IsRetryable(err))
		if e.metrics != nil && pipeline.IsRetryable(err) {
			e.metrics.IncIngestRetried()
		}
		if pipeline.IsRetryable(err) {
			if rerr := e.store.ReturnToNew(ctx, item.ingestID); rerr != nil {
				log.Error("return ingest to new failed", "error", rerr)
			}
		}
		e.ack(item, err)
		return
	}

	status := models.StatusFinished
	if fallback {
		status = models.StatusWarning
	}
	if err := e.store.FinishIngest(ctx, item.ingestID, status, result.MediaPackageID, result.WorkflowInstanceID); err != nil {
		log.Error("finish ingest failed", "error", err)
		e.ack(item, err)
		return
	}
	if e.metrics != nil {
		if fallback {
			e.metrics.IncIngestWarning()
		} else {
			e.metrics.IncIngestFinished()
		}
	}
	e.ack(item, nil)
}

func (e *Engine) runPipeline(ctx context.Context, ing models.Ingest) (IngestResult, bool, error) {
	files, err := e.source.GetRecordingFiles(ctx, ing.RecordingUUID)
	if err != nil {
		return IngestResult{}, false, err
	}

	selected, err := SelectTrack(files)
	if err != nil {
		return IngestResult{}, false, err
	}

	videoExt := extensionOf(selected.File.FileType)
	videoPath := downloadTarget(e.downloadRoot, selected.File.ID, videoExt)
	if err := ensureDownloaded(ctx, e.source, selected.File.DownloadURL, videoPath, selected.File.FileSize); err != nil {
		return IngestResult{}, false, err
	}

	var chatPath string
	if chat, ok := FindChatFile(files); ok {
		chatPath = downloadTarget(e.downloadRoot, chat.ID, "TXT")
		if err := ensureDownloaded(ctx, e.source, chat.DownloadURL, chatPath, chat.FileSize); err != nil {
			return IngestResult{}, false, err
		}
	}

	req := IngestRequest{
		WorkflowID:    ing.Params.WorkflowID,
		EpisodeDC:     ing.Params.DC,
		Duration:      ing.Params.Duration,
		ExtensionDC:   ing.Params.Extension,
		ACLID:         ing.Params.ACLID,
		ChatPath:      chatPath,
		VideoPath:     videoPath,
		VideoFileName: selected.File.ID + "." + videoExt,
	}
	result, err := e.sink.Ingest(ctx, req)
	if err != nil {
		return IngestResult{}, false, err
	}

	cleanupFiles(videoPath, chatPath)
	return result, selected.Fallback, nil
}

func extensionOf(fileType string) string {
	if fileType == "" {
		return "mp4"
	}
	return fileType
}
