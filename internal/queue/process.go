package queue

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/relannis/internal/timing"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/importer"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

// Pipeline is the part of importer.Pipeline the queue handlers drive.
type Pipeline interface {
	Import(ctx context.Context, req importer.Request) (importer.Result, error)
	Delete(ctx context.Context, names []string) ([]int64, error)
}

// Handler processes queue messages against one import pipeline.
type Handler struct {
	Pipeline Pipeline
	Events   Publisher
	// DB receives import timing samples. Optional.
	DB       store.Conn
}

func (h *Handler) ProcessImportMessage(ctx context.Context, body []byte) error {
	msg := new(ImportMessage)
	if err := decode(body, msg); err != nil {
		return err
	}

	size, err := timing.DirSize(msg.Path)
	if err != nil {
		logger.Warn("[Queue] Could not measure corpus size", "path", msg.Path, "err", err)
	}
	if h.DB != nil && size > 0 {
		predicted, err := timing.PredictImportTime(ctx, h.DB, size)
		if err != nil {
			logger.Warn("[Queue] Could not predict import time", "err", err)
		} else if predicted > 0 {
			logger.Info("[Queue] Predicted import time", "path", msg.Path, "duration", predicted.Round(time.Second))
		}
	}

	res, err := h.Pipeline.Import(ctx, importer.Request{
		Path:      msg.Path,
		Overwrite: msg.Overwrite,
		Alias:     msg.Alias,
	})
	if err != nil {
		h.publish(ctx, TopicImportFailed, ImportFailedEvent{
			Path:  msg.Path,
			Code:  common.Classify(err),
			Error: err.Error(),
		})
		return err
	}

	if h.DB != nil {
		sample := timing.Sample{Corpus: res.Name, Nodes: res.Nodes, Bytes: size, Duration: res.Duration}
		if err := timing.AddImportTime(context.WithoutCancel(ctx), h.DB, sample); err != nil {
			logger.Warn("[Queue] Could not record import time", "err", err)
		}
	}

	h.publish(ctx, TopicImported, ImportedEvent{
		CorpusID:   res.CorpusID,
		Name:       res.Name,
		Version:    res.Version.String(),
		Nodes:      res.Nodes,
		MediaFiles: res.MediaFiles,
		DurationMs: res.Duration.Milliseconds(),
	})
	return nil
}

func (h *Handler) ProcessDeleteMessage(ctx context.Context, body []byte) error {
	msg := new(DeleteMessage)
	if err := decode(body, msg); err != nil {
		return err
	}

	ids, err := h.Pipeline.Delete(ctx, msg.Names)
	if err != nil {
		return err
	}

	h.publish(ctx, TopicDeleted, DeletedEvent{Names: msg.Names, IDs: ids})
	return nil
}

// publish emits an event. The work it reports is already committed, so a
// failure is only logged.
func (h *Handler) publish(ctx context.Context, topic string, event any) {
	if h.Events == nil {
		return
	}
	data, err := encode(event)
	if err == nil {
		err = PublishTopic(context.WithoutCancel(ctx), h.Events, topic, data)
	}
	if err != nil {
		logger.Warn("[Queue] Failed to publish event", "topic", topic, "err", err)
	}
}
