// Package config loads the bridge's runtime settings.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// VADConfig holds the energy-based voice-activity thresholds.
type VADConfig struct {
	SpeechStartRMS   int     `mapstructure:"speech_start_rms"`
	SilenceRMS       int     `mapstructure:"silence_rms"`
	SilenceHangSec   float64 `mapstructure:"silence_hang"`
	MinSpeechSec     float64 `mapstructure:"min_speech_duration"`
	MaxSegmentSec    float64 `mapstructure:"max_segment_duration"`
	SegmentRejectRMS int     `mapstructure:"segment_reject_rms"`
	StartupGuardSec  float64 `mapstructure:"startup_guard"`
}

// RecordingConfig controls the dual-format WAV recorder.
type RecordingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// STTConfig selects and configures the speech-to-text backend.
type STTConfig struct {
	Backend                string   `mapstructure:"backend"` // "batch" | "streaming"
	Language               string   `mapstructure:"language"`
	EmitInterim            bool     `mapstructure:"emit_interim"`
	BatchURL               string   `mapstructure:"batch_url"`
	StreamURL              string   `mapstructure:"stream_url"`
	HallucinationPhrases   []string `mapstructure:"hallucination_phrases"`
	BatchTimeoutSec        float64  `mapstructure:"batch_timeout"`
	StreamConnectTimeoutSec float64 `mapstructure:"stream_connect_timeout"`
	StreamKeepaliveSec      float64 `mapstructure:"stream_keepalive"`
}

// SessionConfig controls session-level timeouts.
type SessionConfig struct {
	IdleTimeoutSec  float64 `mapstructure:"session_idle_timeout"`
	CloseGraceSec   float64 `mapstructure:"session_close_grace"`
}

// GatewayConfig controls the HTTP/WS listener.
type GatewayConfig struct {
	Addr               string `mapstructure:"addr"`
	MediaStreamPath    string `mapstructure:"media_stream_path"`
	TranscriptionPath  string `mapstructure:"transcription_path"`
}

// AgentPipelineConfig points at the external collaborator that receives
// final transcripts. The agent pipeline's own behavior is out of scope;
// only its submit contract is consumed here.
type AgentPipelineConfig struct {
	SubmitURL string `mapstructure:"submit_url"`
}

// Settings aggregates every configurable knob of the bridge.
type Settings struct {
	Env           string              `mapstructure:"env"`
	Debug         bool                `mapstructure:"debug"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	VAD           VADConfig           `mapstructure:"vad"`
	Recording     RecordingConfig     `mapstructure:"recording"`
	STT           STTConfig           `mapstructure:"stt"`
	Session       SessionConfig       `mapstructure:"session"`
	AgentPipeline AgentPipelineConfig `mapstructure:"agent_pipeline"`
}

// Load reads configuration from a config file selected either explicitly via
// BRIDGE_CONFIG, or by convention (config_<env>.yaml under ., ./config, or
// /etc/bridge). A missing or unreadable file, or a missing STT provider URL,
// is a fatal boot error per the error-handling design.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if cfgPath := os.Getenv("BRIDGE_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("config_" + resolveEnv(v))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bridge")
	}
	v.SetEnvPrefix("BRIDGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &s, nil
}

func (s *Settings) validate() error {
	if s.STT.Backend != "batch" && s.STT.Backend != "streaming" {
		return fmt.Errorf("stt.backend must be \"batch\" or \"streaming\", got %q", s.STT.Backend)
	}
	if s.STT.Backend == "batch" && s.STT.BatchURL == "" {
		return fmt.Errorf("stt.batch_url is required when stt.backend is \"batch\"")
	}
	if s.STT.Backend == "streaming" && s.STT.StreamURL == "" {
		return fmt.Errorf("stt.stream_url is required when stt.backend is \"streaming\"")
	}
	if s.Recording.Enabled && s.Recording.Dir == "" {
		return fmt.Errorf("recording.dir is required when recording.enabled is true")
	}
	return nil
}

func resolveEnv(v *viper.Viper) string {
	if env := v.GetString("env"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "dev"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.addr", ":8088")
	v.SetDefault("gateway.media_stream_path", "/twilio/media-stream")
	v.SetDefault("gateway.transcription_path", "/transcription")

	v.SetDefault("vad.speech_start_rms", 10)
	v.SetDefault("vad.silence_rms", 10)
	v.SetDefault("vad.silence_hang", 1.0)
	v.SetDefault("vad.min_speech_duration", 0.5)
	v.SetDefault("vad.max_segment_duration", 10.0)
	v.SetDefault("vad.segment_reject_rms", 0)
	v.SetDefault("vad.startup_guard", 0.5)

	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.dir", "./audio_recordings")

	v.SetDefault("stt.backend", "streaming")
	v.SetDefault("stt.language", "fr")
	v.SetDefault("stt.emit_interim", false)
	v.SetDefault("stt.hallucination_phrases", []string{
		"thanks for watching",
		"subscribe to the channel",
		"translated by",
	})

	v.SetDefault("stt.batch_timeout", 30.0)
	v.SetDefault("stt.stream_connect_timeout", 10.0)
	v.SetDefault("stt.stream_keepalive", 20.0)

	v.SetDefault("session.session_idle_timeout", 600.0)
	v.SetDefault("session.session_close_grace", 5.0)

	v.SetDefault("agent_pipeline.submit_url", "")

	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)
}
