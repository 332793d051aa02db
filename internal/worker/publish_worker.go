package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/internal/service"
	"github.com/makeasinger/musicgen/internal/store"
)

const maxArtifactBytes = 50 << 20

var audioExtensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mp4":   ".m4a",
	"audio/ogg":   ".ogg",
}

// ArtifactNotifier is told once the audio is published
type ArtifactNotifier interface {
	BroadcastComplete(msgType string, job *model.Job)
}

// PublishWorker re-hosts generated audio in object storage
type PublishWorker struct {
	store      store.JobStore
	storage    client.StorageClient
	httpClient *http.Client
	hub        ArtifactNotifier
}

// NewPublishWorker creates a new publish worker. A nil storage keeps the
// provider URL as the artifact.
func NewPublishWorker(jobStore store.JobStore, storage client.StorageClient, hub ArtifactNotifier) *PublishWorker {
	return &PublishWorker{
		store:   jobStore,
		storage: storage,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		hub: hub,
	}
}

// ProcessTask handles publish task processing
func (w *PublishWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PublishPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal publish payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" || payload.ResultURL == "" {
		return fmt.Errorf("publish payload missing job id or result url: %w", asynq.SkipRetry)
	}

	log := logger.WithJob(payload.JobID)
	log.Info("[Publish] starting")

	artifactURL := payload.ResultURL
	if w.storage != nil {
		hosted, err := w.rehost(ctx, &payload)
		if err != nil {
			log.Warnf("[Publish] failed: %v", err)
			return err
		}
		artifactURL = hosted
	}

	if err := w.store.RecordArtifact(ctx, payload.JobID, artifactURL); err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return fmt.Errorf("job %s: %w", payload.JobID, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to record artifact: %w", err)
	}

	job, err := w.store.Get(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("failed to reload job: %w", err)
	}
	if w.hub != nil {
		w.hub.BroadcastComplete(model.WSMessageTypeArtifact, job)
	}

	log.WithField("artifact_url", artifactURL).Info("[Publish] completed")
	return nil
}

func (w *PublishWorker) rehost(ctx context.Context, p *service.PublishPayload) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ResultURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid result url: %v: %w", err, asynq.SkipRetry)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			// provider URL expired
			return "", fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return "", err
	}

	// PutObject needs a seekable body
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) > maxArtifactBytes {
		return "", fmt.Errorf("audio exceeds %d bytes: %w", maxArtifactBytes, asynq.SkipRetry)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	key := ArtifactKey(p.ChannelID, p.JobID, p.ResultURL, contentType)
	return w.storage.Upload(ctx, key, bytes.NewReader(data), contentType)
}

// ArtifactKey builds the object key, e.g. generations/ch-1/<jobId>.mp3
func ArtifactKey(channelID, jobID, resultURL, contentType string) string {
	var ext string
	if u, err := url.Parse(resultURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" || len(ext) > 5 {
		ext = ".mp3"
		if e, ok := audioExtensions[strings.ToLower(strings.SplitN(contentType, ";", 2)[0])]; ok {
			ext = e
		}
	}
	if channelID == "" {
		channelID = "default"
	}
	return fmt.Sprintf("generations/%s/%s%s", channelID, jobID, ext)
}
