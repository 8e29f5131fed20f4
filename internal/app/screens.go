package app

import (
	"context"
	"errors"
	"strings"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/events"
)

// ScreenSource is a screen or window the UI can capture.
type ScreenSource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	DisplayID string `json:"displayId,omitempty"`
}

// ScreenProvider lists capturable sources.
type ScreenProvider interface {
	Sources(ctx context.Context) ([]ScreenSource, error)
}

// StaticScreens is a fixed list of sources.
type StaticScreens []ScreenSource

func (s StaticScreens) Sources(context.Context) ([]ScreenSource, error) {
	return append([]ScreenSource(nil), s...), nil
}

// DefaultScreens offers the whole primary display; the renderer enumerates
// individual windows itself.
func DefaultScreens() StaticScreens {
	return StaticScreens{
		{ID: "screen:0:0", Name: "Entire Screen", Kind: "screen", DisplayID: "0"},
	}
}

func (a *App) ScreenSources(ctx context.Context) ([]ScreenSource, error) {
	sources, err := a.screens.Sources(ctx)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "list screen sources", err)
	}
	return sources, nil
}

// StartScreenShare selects a source and tells the UI to start capturing it.
func (a *App) StartScreenShare(ctx context.Context, sourceID string) (ScreenSource, error) {
	const op = "start screen share"
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return ScreenSource{}, apperr.Validation(op, errors.New("source id is required"))
	}

	sources, err := a.ScreenSources(ctx)
	if err != nil {
		return ScreenSource{}, err
	}
	for _, src := range sources {
		if src.ID != sourceID {
			continue
		}
		a.mu.Lock()
		selected := src
		a.screen = &selected
		a.mu.Unlock()

		a.bus.Publish(events.ScreenShareStarted, src)
		return src, nil
	}
	return ScreenSource{}, apperr.NotFound(op, apperr.ErrUnknownSource)
}

// ScreenShare returns the selected source, if any.
func (a *App) ScreenShare() (ScreenSource, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.screen == nil {
		return ScreenSource{}, false
	}
	return *a.screen, true
}
