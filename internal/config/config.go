package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port      string
		GRPCAddr  string
		LogLevel  string
		LogFormat string
	}
	LLM struct {
		Endpoint    string
		APIKey      string
		Deployment  string
		APIVersion  string
		MaxTokens   int
		Temperature float64
	}
	Eleven struct {
		APIKey       string
		ModelID      string
		DefaultVoice string
		// Voices maps an agent role to a voice id, from ELEVENLABS_VOICES
		// ("CTO=abc,Finance=def").
		Voices map[string]string
	}
	Speech struct {
		Language           string
		GraceMs            int
		CaptureSource      string
		PlaybackTimeoutSec int
	}
	Deepgram struct {
		APIKey        string
		Model         string
		EndpointingMs int
		UtterEndMs    int
	}
	Catalog struct {
		Path string
	}
	Summary struct {
		Path string
	}
	Client struct {
		TokenSecret   string
		TokenTTLSecs  int
		TokenSkewSecs int
	}
	Meeting struct {
		LearningMode   bool
		TTSEnabled     bool
		IdleTimeoutMin int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("llm.api_version", "2024-02-15-preview")
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("elevenlabs.model_id", "eleven_multilingual_v2")

	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.grace_ms", 100)
	v.SetDefault("speech.capture_source", "browser")
	v.SetDefault("speech.playback_timeout_sec", 120)

	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.endpointing_ms", 300)
	v.SetDefault("deepgram.utter_end_ms", 1000)

	v.SetDefault("catalog.path", "scenarios.yaml")
	v.SetDefault("summary.path", "data/summaries")

	v.SetDefault("client.token_ttl_secs", 600)
	v.SetDefault("client.token_skew_secs", 30)

	v.SetDefault("meeting.learning_mode", false)
	v.SetDefault("meeting.tts_enabled", true)
	v.SetDefault("meeting.idle_timeout_min", 30)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.grpc_addr", "GRPC_ADDR")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.log_format", "LOG_FORMAT")

	v.BindEnv("llm.endpoint", "AZURE_OPENAI_ENDPOINT")
	v.BindEnv("llm.api_key", "AZURE_OPENAI_API_KEY")
	v.BindEnv("llm.deployment", "AZURE_OPENAI_DEPLOYMENT")
	v.BindEnv("llm.api_version", "AZURE_OPENAI_API_VERSION")
	v.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	v.BindEnv("llm.temperature", "LLM_TEMPERATURE")

	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("elevenlabs.model_id", "ELEVENLABS_MODEL_ID")
	v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("elevenlabs.voices", "ELEVENLABS_VOICES")

	v.BindEnv("speech.language", "SPEECH_LANGUAGE")
	v.BindEnv("speech.grace_ms", "SPEECH_GRACE_MS")
	v.BindEnv("speech.capture_source", "CAPTURE_SOURCE")
	v.BindEnv("speech.playback_timeout_sec", "PLAYBACK_TIMEOUT_SEC")

	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
	v.BindEnv("deepgram.endpointing_ms", "DEEPGRAM_ENDPOINTING_MS")
	v.BindEnv("deepgram.utter_end_ms", "DEEPGRAM_UTTERANCE_END_MS")

	v.BindEnv("catalog.path", "CATALOG_PATH")
	v.BindEnv("summary.path", "SUMMARY_DB_PATH")

	v.BindEnv("client.token_secret", "CLIENT_TOKEN_SECRET")
	v.BindEnv("client.token_ttl_secs", "CLIENT_TOKEN_TTL_SECS")
	v.BindEnv("client.token_skew_secs", "CLIENT_TOKEN_SKEW_SECS")

	v.BindEnv("meeting.learning_mode", "LEARNING_MODE")
	v.BindEnv("meeting.tts_enabled", "TTS_ENABLED")
	v.BindEnv("meeting.idle_timeout_min", "SESSION_IDLE_TIMEOUT_MIN")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.GRPCAddr = v.GetString("server.grpc_addr")
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.LogFormat = v.GetString("server.log_format")

	c.LLM.Endpoint = strings.TrimRight(v.GetString("llm.endpoint"), "/")
	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Deployment = v.GetString("llm.deployment")
	c.LLM.APIVersion = v.GetString("llm.api_version")
	c.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	c.LLM.Temperature = v.GetFloat64("llm.temperature")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")
	c.Eleven.DefaultVoice = v.GetString("elevenlabs.voice_id")
	c.Eleven.Voices = ParseVoices(v.GetString("elevenlabs.voices"))

	c.Speech.Language = v.GetString("speech.language")
	c.Speech.GraceMs = v.GetInt("speech.grace_ms")
	c.Speech.CaptureSource = strings.ToLower(v.GetString("speech.capture_source"))
	c.Speech.PlaybackTimeoutSec = v.GetInt("speech.playback_timeout_sec")

	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.Model = v.GetString("deepgram.model")
	c.Deepgram.EndpointingMs = v.GetInt("deepgram.endpointing_ms")
	c.Deepgram.UtterEndMs = v.GetInt("deepgram.utter_end_ms")

	c.Catalog.Path = v.GetString("catalog.path")
	c.Summary.Path = v.GetString("summary.path")

	c.Client.TokenSecret = v.GetString("client.token_secret")
	c.Client.TokenTTLSecs = v.GetInt("client.token_ttl_secs")
	c.Client.TokenSkewSecs = v.GetInt("client.token_skew_secs")

	c.Meeting.LearningMode = v.GetBool("meeting.learning_mode")
	c.Meeting.TTSEnabled = v.GetBool("meeting.tts_enabled")
	c.Meeting.IdleTimeoutMin = v.GetInt("meeting.idle_timeout_min")
	return c
}

// ParseVoices reads "Role=voice,Role=voice". Malformed pairs are skipped.
func ParseVoices(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		k, val, ok := strings.Cut(pair, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			continue
		}
		out[k] = val
	}
	return out
}

func toString(v any) string { return fmt.Sprint(v) }
