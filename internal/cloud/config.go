// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloud defines the application configuration, loaded from TOML
// files, and the clients for every external service the recipe pipeline
// talks to: Gemini on Vertex AI (or a langchaingo provider), Cloud Vision,
// Cloud Speech-to-Text, Video Intelligence, Cloud Storage, Pub/Sub, BigQuery
// and IAM Credentials.
//
// Structs:
//   - Acquisition: where and how source videos are fetched and staged.
//   - Extraction: frame sampling, OCR, speech and timeout settings.
//   - Synthesis: which generative model writes the recipe and how it retries.
//   - Storage: buckets for speech staging, recipe archives and uploads.
//   - BigQueryDataSource: the recipe warehouse table.
//   - Jobs: the asynchronous job store and worker queue.
//   - PromptTemplates: the text templates for prompts sent to the model.
//   - VertexAiLLMModel: configuration for a Vertex AI large language model.
//   - TopicSubscription: configuration for a single Pub/Sub subscription.
//   - Config: the top-level struct that aggregates all of the above.
package cloud

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultSafetySettings disables content blocking. Cooking videos routinely
// mention knives, fire and alcohol, which trip the default thresholds.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Synthesis providers.
const (
	ProviderVertex    = "vertex"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Visual extraction backends.
const (
	VisualBackendVision            = "vision"
	VisualBackendVideoIntelligence = "video_intelligence"
)

// Job store backends.
const (
	JobBackendMemory = "memory"
	JobBackendRedis  = "redis"
)

// Acquisition controls how a VideoReference becomes a local file.
type Acquisition struct {
	UploadDir              string   `toml:"upload_dir"`               // Parent of the per-request staging directories.
	MaxUploadBytes         int64    `toml:"max_upload_bytes"`         // Size cap for uploads and downloads.
	AllowedHosts           []string `toml:"allowed_hosts"`            // Remote video hosts, matched by domain suffix.
	YtDlpPath              string   `toml:"yt_dlp_path"`              // Path to the yt-dlp executable.
	DownloadTimeoutSeconds int      `toml:"download_timeout_seconds"` // Per-download timeout.
	CaptionLanguages       []string `toml:"caption_languages"`        // Subtitle languages requested from the host.
	StaleAfterMinutes      int      `toml:"stale_after_minutes"`      // Age at which the sweeper removes a staging directory.
	SweepIntervalSeconds   int      `toml:"sweep_interval_seconds"`   // How often the sweeper runs; 0 disables it.
}

// Extraction controls the three text extractors.
type Extraction struct {
	EnableVisual          bool     `toml:"enable_visual"`
	EnableCaption         bool     `toml:"enable_caption"`
	EnableSpeech          bool     `toml:"enable_speech"`
	FfmpegPath            string   `toml:"ffmpeg_path"`
	TimeoutSeconds        int      `toml:"timeout_seconds"`         // Budget for each extractor.
	FrameIntervalSeconds  float64  `toml:"frame_interval_seconds"`  // Seconds between sampled frames.
	FrameWidth            int      `toml:"frame_width"`             // Sampled frames are scaled to this width.
	MaxFrames             int      `toml:"max_frames"`              // Upper bound on OCR calls per video.
	OCRWorkers            int      `toml:"ocr_workers"`             // Concurrent OCR requests.
	LanguageHints         []string `toml:"language_hints"`          // OCR language hints.
	RetainFrameTimestamps bool     `toml:"retain_frame_timestamps"` // Emit timed segments for visual text.
	VisualBackend         string   `toml:"visual_backend"`          // "vision" or "video_intelligence".
	SpeechLanguage        string   `toml:"speech_language"`
	SpeechAltLanguages    []string `toml:"speech_alt_languages"`
	SpeechModel           string   `toml:"speech_model"`
}

// Synthesis selects the generative model that writes the recipe.
type Synthesis struct {
	Provider       string  `toml:"provider"`        // "vertex", "ollama", "openai" or "anthropic".
	AgentModel     string  `toml:"agent_model"`     // Key into Config.AgentModels for the vertex provider.
	Model          string  `toml:"model"`           // Model name for langchaingo providers.
	ServerURL      string  `toml:"server_url"`      // Ollama server URL.
	APIKeyEnv      string  `toml:"api_key_env"`     // Environment variable holding the provider API key.
	Temperature    float64 `toml:"temperature"`     // Used by langchaingo providers.
	MaxTokens      int     `toml:"max_tokens"`      // Used by langchaingo providers.
	TimeoutSeconds int     `toml:"timeout_seconds"` // Budget for one synthesis call, retries included.
	MaxRetries     int     `toml:"max_retries"`     // Transport retries; 0 disables them.
}

// Storage names the buckets the service reads and writes.
type Storage struct {
	UploadBucket      string `toml:"upload_bucket"`       // Bucket watched for finalize notifications.
	StagingBucket     string `toml:"staging_bucket"`      // Optional bucket for long speech audio.
	ArchiveBucket     string `toml:"archive_bucket"`      // Optional bucket for recipe JSON archives.
	ArchivePrefix     string `toml:"archive_prefix"`      // Object prefix for archived recipes.
	SignedURLMinutes  int    `toml:"signed_url_minutes"`  // Lifetime of archive download URLs.
	InlineAudioMaxMiB int    `toml:"inline_audio_max_mib"` // Larger audio goes through StagingBucket.
}

// BigQueryDataSource is the recipe warehouse. Persisting is skipped when
// either field is empty.
type BigQueryDataSource struct {
	DatasetName string `toml:"dataset"`
	RecipeTable string `toml:"recipe_table"`
}

// Jobs configures the asynchronous job store and worker queue.
type Jobs struct {
	Backend       string `toml:"backend"`     // "memory" or "redis".
	QueueSize     int    `toml:"queue_size"`  // Pending tasks beyond the busy workers.
	TTLSeconds    int    `toml:"ttl_seconds"` // Jobs expire this long after their last update.
	MaxEntries    int    `toml:"max_entries"` // Memory store capacity.
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// PromptTemplates holds the templates for prompts.
type PromptTemplates struct {
	RecipePrompt string `toml:"recipe"` // The template for synthesizing a recipe from a corpus.
}

// VertexAiLLMModel represents the configuration for a Vertex AI large language model (LLM).
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI LLM.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the LLM.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the LLM.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the LLM.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the LLM.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the LLM output.
	OutputFormat       string  `toml:"output_format"`       // The desired output format for the LLM.
	RateLimit          int     `toml:"rate_limit"`          // The rate limit for the LLM in requests per second.
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // The timeout for the subscription in seconds.
}

// Config represents the overall configuration for the application, loaded from TOML files.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`                         // The name of the application.
		GoogleProjectId           string `toml:"google_project_id"`            // The Google Cloud project ID.
		GoogleLocation            string `toml:"location"`                     // The Google Cloud location.
		ThreadPoolSize            int    `toml:"thread_pool_size"`             // Number of analysis workers.
		SignerServiceAccountEmail string `toml:"signer_service_account_email"` // The service account email used for signing GCS URLs.
		CredentialsFile           string `toml:"credentials_file"`             // Optional service account key for all clients.
		LogLevel                  string `toml:"log_level"`                    // debug, info, warn or error.
		TelemetryEnabled          bool   `toml:"telemetry_enabled"`            // Export traces and metrics to Cloud Operations.
		HTTPPort                  int    `toml:"http_port"`
		SyncTimeoutSeconds        int    `toml:"sync_timeout_seconds"` // Budget for one synchronous analysis.
	} `toml:"application"`
	Acquisition        Acquisition                  `toml:"acquisition"`
	Extraction         Extraction                   `toml:"extraction"`
	Synthesis          Synthesis                    `toml:"synthesis"`
	Storage            Storage                      `toml:"storage"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	Jobs               Jobs                         `toml:"jobs"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name (e.g., "VideoUploads").
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // Keyed by a logical name (e.g., "recipe-flash").
}

// NewConfig is a constructor function that creates a new, initialized Config instance.
// The maps must exist before the loader decodes into them.
func NewConfig() *Config {
	return &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Application.ThreadPoolSize <= 0 {
		errs = append(errs, errors.New("application.thread_pool_size must be positive"))
	}
	if c.Acquisition.UploadDir == "" {
		errs = append(errs, errors.New("acquisition.upload_dir is required"))
	}
	if c.Acquisition.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("acquisition.max_upload_bytes must be positive"))
	}
	if !c.Extraction.EnableVisual && !c.Extraction.EnableCaption && !c.Extraction.EnableSpeech {
		errs = append(errs, errors.New("at least one extractor must be enabled"))
	}
	if c.Extraction.EnableVisual && c.Extraction.FrameIntervalSeconds <= 0 {
		errs = append(errs, errors.New("extraction.frame_interval_seconds must be positive"))
	}
	switch c.Extraction.VisualBackend {
	case "", VisualBackendVision, VisualBackendVideoIntelligence:
	default:
		errs = append(errs, fmt.Errorf("unknown extraction.visual_backend %q", c.Extraction.VisualBackend))
	}
	if strings.TrimSpace(c.PromptTemplates.RecipePrompt) == "" {
		errs = append(errs, errors.New("prompt_templates.recipe is required"))
	}
	switch c.Synthesis.Provider {
	case "", ProviderVertex:
		if _, ok := c.AgentModels[c.Synthesis.AgentModel]; !ok {
			errs = append(errs, fmt.Errorf("synthesis.agent_model %q is not defined in agent_models", c.Synthesis.AgentModel))
		}
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic:
		if c.Synthesis.Model == "" {
			errs = append(errs, fmt.Errorf("synthesis.model is required for provider %s", c.Synthesis.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown synthesis.provider %q", c.Synthesis.Provider))
	}
	if c.Synthesis.MaxRetries < 0 {
		errs = append(errs, errors.New("synthesis.max_retries must not be negative"))
	}
	switch c.Jobs.Backend {
	case "", JobBackendMemory:
	case JobBackendRedis:
		if c.Jobs.RedisAddr == "" {
			errs = append(errs, errors.New("jobs.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown jobs.backend %q", c.Jobs.Backend))
	}
	return errors.Join(errs...)
}
