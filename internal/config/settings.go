package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Settings is the Configuration.settings / Execution.settings_snapshot
// document (spec §6). apiKeys are looked up from the secrets vault and are
// never marshaled into a snapshot — see Redacted.
type Settings struct {
	APIKeys    APIKeys    `json:"apiKeys"`
	FilePaths  FilePaths  `json:"filePaths" validate:"required"`
	Parameters Parameters `json:"parameters" validate:"required"`
	Processing Processing `json:"processing"`
	AI         AI         `json:"ai"`
	Advanced   Advanced   `json:"advanced"`
}

// APIKeys names which provider credentials a job needs; the values
// themselves live in the SecretsVault and are resolved at stage time.
type APIKeys struct {
	OpenAI    bool `json:"openai"`
	PiAPI     bool `json:"piapi"`
	Runware   bool `json:"runware"`
	RemoveBg  bool `json:"removeBg"`
}

// FilePaths holds the job's file and directory paths. Validation only
// requires OutputDirectory and TempDirectory to be non-empty; whether a
// path is absolute or exists is not checked at job start.
type FilePaths struct {
	OutputDirectory      string `json:"outputDirectory" validate:"required"`
	TempDirectory        string `json:"tempDirectory" validate:"required"`
	SystemPromptFile     string `json:"systemPromptFile"`
	KeywordsFile         string `json:"keywordsFile"`
	QualityCheckPromptFile string `json:"qualityCheckPromptFile"`
	MetadataPromptFile   string `json:"metadataPromptFile"`
}

// ProcessMode selects the provider's speed/quality tradeoff.
type ProcessMode string

const (
	ProcessModeRelax ProcessMode = "relax"
	ProcessModeFast  ProcessMode = "fast"
	ProcessModeTurbo ProcessMode = "turbo"
)

// Parameters drives Plan's generation count and provider call shape.
type Parameters struct {
	ProcessMode           ProcessMode `json:"processMode" validate:"required,oneof=relax fast turbo"`
	AspectRatios          []string    `json:"aspectRatios"`
	OpenAIModel           string      `json:"openaiModel"`
	PollingTimeout        int         `json:"pollingTimeout" validate:"omitempty,min=1,max=600"`
	EnablePollingTimeout  bool        `json:"enablePollingTimeout"`
	KeywordRandom         bool        `json:"keywordRandom"`
	Count                 int         `json:"count" validate:"min=1,max=1000"`
	Variations            int         `json:"variations" validate:"min=1,max=10"`
}

// FailureMode is the per-stage soft/hard policy (§4.5).
type FailureMode string

const (
	FailureModeSoft FailureMode = "soft"
	FailureModeHard FailureMode = "hard"
)

// RemoveBgSize is the provider's output-size tier.
type RemoveBgSize string

const (
	RemoveBgAuto    RemoveBgSize = "auto"
	RemoveBgPreview RemoveBgSize = "preview"
	RemoveBgFull    RemoveBgSize = "full"
	RemoveBg4K      RemoveBgSize = "4k"
)

// Processing controls the optional pipeline stages 4-7.
type Processing struct {
	RemoveBg                  bool         `json:"removeBg"`
	RemoveBgSize              RemoveBgSize `json:"removeBgSize" validate:"omitempty,oneof=auto preview full 4k"`
	RemoveBgFailureMode       FailureMode  `json:"removeBgFailureMode" validate:"omitempty,oneof=soft hard"`
	ImageConvert              bool         `json:"imageConvert"`
	ConvertToJpg              bool         `json:"convertToJpg"`
	ConvertToPng              bool         `json:"convertToPng"`
	ConvertToWebp             bool         `json:"convertToWebp"`
	JpgQuality                int          `json:"jpgQuality" validate:"omitempty,min=1,max=100"`
	PngQuality                int          `json:"pngQuality" validate:"omitempty,min=1,max=100"`
	WebpQuality                int          `json:"webpQuality" validate:"omitempty,min=1,max=100"`
	JpgBackground              string       `json:"jpgBackground"`
	TrimTransparentBackground  bool         `json:"trimTransparentBackground"`
	ImageEnhancement           bool         `json:"imageEnhancement"`
	Sharpening                 float64      `json:"sharpening"`
	Saturation                 float64      `json:"saturation"`
}

// AI toggles the optional QC/metadata LLM stages 8-9.
type AI struct {
	RunQualityCheck bool `json:"runQualityCheck"`
	RunMetadataGen  bool `json:"runMetadataGen"`
}

// Advanced holds operational toggles that are not pipeline semantics.
type Advanced struct {
	DebugMode bool `json:"debugMode"`
}

// ProcessingSnapshot records the per-image flags actually applied by the
// pipeline (e.g. removeBg_applied, sharpening_applied), distinct from the
// Processing section a user configured, so a retry with
// useOriginalSettings=true can reproduce the prior run exactly.
type ProcessingSnapshot map[string]any

var validate = validator.New()

// MaxGenerationUnits is the refuse threshold from spec §4.4:
// variations * count > 10_000 is a ConfigurationError.
const MaxGenerationUnits = 10_000

// Validate enforces §4.4/§4.6/§6's numeric ranges and cross-field
// dependencies, returning a ConfigurationError on any violation.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return &ConfigurationError{Cause: err}
	}
	if s.Processing.TrimTransparentBackground && !s.Processing.RemoveBg {
		return &ConfigurationError{Reason: "trimTransparentBackground requires removeBg"}
	}
	if s.APIKeys.PiAPI && s.APIKeys.Runware {
		// Open question in spec §9, resolved here: piapi and runware are
		// two separate provider adapters; a job referencing both is refused
		// rather than guessing which one takes precedence.
		return &ConfigurationError{Reason: "apiKeys.piapi and apiKeys.runware cannot both be set for one job"}
	}
	units := s.Parameters.Count * s.Parameters.Variations
	if units > MaxGenerationUnits {
		return &ConfigurationError{Reason: fmt.Sprintf("count*variations=%d exceeds limit %d", units, MaxGenerationUnits)}
	}
	s.clampNumerics()
	return nil
}

// clampNumerics applies the normative clamps from §4.4: sharpening in
// [0,10], saturation in [0,3]; out-of-range inputs are clamped rather than
// rejected, matching the "implicit float handling made explicit" note. An
// unset Saturation (the zero value) defaults to 1.0, the documented no-op,
// rather than being read as an explicit request for full desaturation; an
// out-of-range negative value still clamps to 0 and is applied as such.
func (s *Settings) clampNumerics() {
	if s.Processing.Sharpening < 0 {
		s.Processing.Sharpening = 0
	} else if s.Processing.Sharpening > 10 {
		s.Processing.Sharpening = 10
	}
	if s.Processing.Saturation == 0 {
		s.Processing.Saturation = 1
	} else if s.Processing.Saturation < 0 {
		s.Processing.Saturation = 0
	} else if s.Processing.Saturation > 3 {
		s.Processing.Saturation = 3
	}
	if s.Processing.JpgQuality == 0 {
		s.Processing.JpgQuality = 90
	}
	if s.Processing.PngQuality == 0 {
		s.Processing.PngQuality = 90
	}
	if s.Processing.WebpQuality == 0 {
		s.Processing.WebpQuality = 90
	}
}

// ConfigurationError reports invalid or out-of-range settings. It is never
// logged with secrets and is always surfaced verbatim to the caller.
type ConfigurationError struct {
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %v", e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// Redacted returns a deep copy of s with apiKeys zeroed so it is safe to
// persist as a settings_snapshot or forward over an event/log payload.
// Grounded on the teacher's JSON-roundtrip deep-copy sanitizer.
func (s Settings) Redacted() (Settings, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Settings{}, fmt.Errorf("marshal settings: %w", err)
	}
	var cp Settings
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	cp.APIKeys = APIKeys{}
	return cp, nil
}
