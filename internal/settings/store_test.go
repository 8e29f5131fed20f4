package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

func TestOpenWithoutFileUsesDefaults(t *testing.T) {
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, models.DefaultSettings(), store.Get())
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestUpdateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	_, err = store.Update(func(doc *models.Settings) {
		doc.AudioThreshold = 0.3
		doc.TranscriptionThreshold = 0.05
		doc.TranscriptionModel = models.TranscriptionModelGPT4oMini
		doc.OpenAIAPIKey = "  sk-abcdefghijkl  "
	})
	require.NoError(t, err)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	got := reopened.Get()
	assert.Equal(t, 0.3, got.AudioThreshold)
	assert.Equal(t, 0.05, got.TranscriptionThreshold)
	assert.Equal(t, models.TranscriptionModelGPT4oMini, got.TranscriptionModel)
	assert.Equal(t, "sk-abcdefghijkl", got.OpenAIAPIKey)
}

func TestUpdateRejectsOutOfRangeThreshold(t *testing.T) {
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	_, err = store.Update(func(doc *models.Settings) {
		doc.TranscriptionThreshold = 1.5
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, models.DefaultSettings().TranscriptionThreshold, store.Get().TranscriptionThreshold)
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	store, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	doc, err := store.Update(func(doc *models.Settings) {
		doc.TranscriptionModel = "whisper-9000"
	})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTranscriptionModel, doc.TranscriptionModel)
}

func TestOpenIgnoresCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("{oops"), 0o600))

	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), store.Get())
}

func TestOpenFillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(`{"audioThreshold":0.4}`), 0o600))

	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	got := store.Get()
	assert.Equal(t, 0.4, got.AudioThreshold)
	assert.Equal(t, models.DefaultSettings().TranscriptionThreshold, got.TranscriptionThreshold)
	assert.Equal(t, models.DefaultTranscriptionModel, got.TranscriptionModel)
}

func TestMaskKey(t *testing.T) {
	key := "sk-proj-1234567890abcdef"
	masked := MaskKey(key)

	assert.Equal(t, "sk-p...cdef", masked)
	assert.NotContains(t, masked, key)
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "********", MaskKey("12345678"))
	assert.Equal(t, "1234...6789", MaskKey("123456789"))
}

func TestWatchReloadsExternalEdits(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan models.Settings, 1)
	require.NoError(t, store.Watch(ctx, func(doc models.Settings) {
		select {
		case changed <- doc:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"audioThreshold":0.7,"transcriptionThreshold":0.2,"transcriptionModel":"gpt-4o-transcribe"}`), 0o600))

	select {
	case doc := <-changed:
		assert.Equal(t, 0.7, doc.AudioThreshold)
		assert.Equal(t, models.TranscriptionModelGPT4o, doc.TranscriptionModel)
	case <-time.After(5 * time.Second):
		t.Fatal("settings change was not observed")
	}
	assert.Equal(t, 0.2, store.Get().TranscriptionThreshold)
}

func TestReloadDoesNotUndoConcurrentUpdate(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Update(func(doc *models.Settings) { doc.AudioThreshold = 0 })
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			v := float64(i) / 100
			_, err := store.Update(func(doc *models.Settings) { doc.AudioThreshold = v })
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := store.Reload()
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.Equal(t, 1.0, store.Get().AudioThreshold)

	onDisk, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, onDisk.Get(), store.Get())
}
