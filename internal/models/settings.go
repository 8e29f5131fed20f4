package models

// Transcription models accepted by the hosted API.
const (
	TranscriptionModelWhisper   = "whisper-1"
	TranscriptionModelGPT4o     = "gpt-4o-transcribe"
	TranscriptionModelGPT4oMini = "gpt-4o-mini-transcribe"

	DefaultTranscriptionModel = TranscriptionModelWhisper
)

// Settings is the persisted preferences document.
type Settings struct {
	OpenAIAPIKey           string  `json:"openaiApiKey"`
	AudioThreshold         float64 `json:"audioThreshold" validate:"gte=0,lte=1"`
	TranscriptionThreshold float64 `json:"transcriptionThreshold" validate:"gte=0,lte=1"`
	TranscriptionModel     string  `json:"transcriptionModel"`
}

// DefaultSettings is used when no document exists yet.
func DefaultSettings() Settings {
	return Settings{
		AudioThreshold:         0.02,
		TranscriptionThreshold: 0.01,
		TranscriptionModel:     DefaultTranscriptionModel,
	}
}

// IsTranscriptionModel reports whether model is one the hosted API accepts.
func IsTranscriptionModel(model string) bool {
	switch model {
	case TranscriptionModelWhisper, TranscriptionModelGPT4o, TranscriptionModelGPT4oMini:
		return true
	}
	return false
}
