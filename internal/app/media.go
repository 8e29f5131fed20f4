package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/router"
	"github.com/mossy-p/huddle/internal/settings"
	"github.com/mossy-p/huddle/internal/swarm"
	"github.com/mossy-p/huddle/internal/transcribe"
)

// TranscribeAudio runs audio through the transcription gate. A kept line is
// published to the UI, added to the call transcript and shared with peers.
func (a *App) TranscribeAudio(ctx context.Context, audio transcribe.Audio, speaker string) (transcribe.Result, error) {
	if strings.TrimSpace(speaker) == "" {
		speaker = a.DisplayName()
	}

	res, err := a.gate.MaybeTranscribe(ctx, audio, speaker)
	if err != nil || res.Text == "" {
		return res, err
	}

	at := a.now()
	a.transcript.AddLine(speaker, res.Text, at.UnixMilli())
	a.bus.Publish(events.TranscriptionResult, router.TranscriptLine{
		PeerID:    a.OwnID(),
		Speaker:   speaker,
		Text:      res.Text,
		Timestamp: at.UnixMilli(),
		Local:     true,
	})

	if a.manager.State() == swarm.StateActive {
		data, err := json.Marshal(models.NewTranscriptEnvelope(speaker, res.Text, at))
		if err == nil {
			_, err = a.manager.Broadcast(data)
		}
		if err != nil {
			a.logger.Warn("Failed to share transcript line", zap.Error(err))
		}
	}
	return res, nil
}

func (a *App) UpdateAudioThreshold(v float64) (models.Settings, error) {
	doc, err := a.settings.Update(func(s *models.Settings) { s.AudioThreshold = v })
	return maskSettings(doc), err
}

func (a *App) UpdateTranscriptionThreshold(v float64) (models.Settings, error) {
	doc, err := a.settings.Update(func(s *models.Settings) { s.TranscriptionThreshold = v })
	return maskSettings(doc), err
}

// UpdateTranscriptionModel stores model; unknown names fall back to the
// default model.
func (a *App) UpdateTranscriptionModel(model string) (models.Settings, error) {
	doc, err := a.settings.Update(func(s *models.Settings) { s.TranscriptionModel = strings.TrimSpace(model) })
	return maskSettings(doc), err
}

// UpdateAPIKey stores the hosted API key. An empty key clears it.
func (a *App) UpdateAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.ContainsAny(key, " \t\r\n") {
		return "", apperr.Validation("update api key", errors.New("API key must not contain whitespace"))
	}

	doc, err := a.settings.Update(func(s *models.Settings) { s.OpenAIAPIKey = key })
	if err != nil {
		return "", err
	}
	return settings.MaskKey(doc.OpenAIAPIKey), nil
}

// MaskedAPIKey never returns the raw key.
func (a *App) MaskedAPIKey() string {
	return a.settings.MaskedAPIKey()
}

// Settings is the settings document as the UI sees it.
func (a *App) Settings() models.Settings {
	return maskSettings(a.settings.Get())
}

func maskSettings(doc models.Settings) models.Settings {
	doc.OpenAIAPIKey = settings.MaskKey(doc.OpenAIAPIKey)
	return doc
}
