package telescribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/telescribe/telescribe/pkg/configutil"
	"github.com/telescribe/telescribe/pkg/recognizer"
	"github.com/telescribe/telescribe/pkg/recognizer/deepgram"
	"github.com/telescribe/telescribe/pkg/recognizer/mock"
)

type deepgramSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type mockSettings struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	Loop              *bool  `mapstructure:"loop"`
}

// RegisterProviders installs the built-in recognizer factories.
func RegisterProviders(reg *recognizer.Registry) {
	reg.Register("mock", mockProvider)
	reg.Register("deepgram", deepgramProvider)
}

func mockProvider(_ context.Context, rc recognizer.Config) (recognizer.Recognizer, error) {
	var settings mockSettings
	if err := configutil.DecodeSettings(rc.Settings, &settings); err != nil {
		return nil, err
	}
	var steps []mock.Step
	if settings.InterimTranscript != "" {
		steps = append(steps, mock.Step{Text: settings.InterimTranscript})
	}
	if settings.Transcript != "" {
		steps = append(steps, mock.Step{Text: settings.Transcript, Final: true})
	}
	return mock.New(mock.Config{
		Steps: steps,
		Loop:  configutil.BoolValue(settings.Loop, false),
	}), nil
}

func deepgramProvider(ctx context.Context, rc recognizer.Config) (recognizer.Recognizer, error) {
	var settings deepgramSettings
	if err := configutil.DecodeSettings(rc.Settings, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "recognizer.settings.api_key"); err != nil {
		return nil, err
	}
	language := settings.Language
	if language == "" {
		language = rc.Language
	}
	return deepgram.New(ctx, deepgram.Config{
		APIKey:     settings.APIKey,
		Model:      settings.Model,
		Language:   language,
		SampleRate: rc.SampleRate,
		SessionID:  rc.SessionID,
	})
}

// ValidateProviderSettings checks a provider's settings map at startup so a
// misconfiguration fails the process instead of every call.
func ValidateProviderSettings(cfg RecognizerConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "mock":
		return configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Optional: []string{"transcript", "interim_transcript", "loop"},
		})
	case "deepgram":
		if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language"},
		}); err != nil {
			return fmt.Errorf("recognizer.settings: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("recognizer.provider not supported: %s", cfg.Provider)
	}
}
