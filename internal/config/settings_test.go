package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() Settings {
	return Settings{
		FilePaths:  FilePaths{OutputDirectory: "/tmp/out", TempDirectory: "/tmp/tmp"},
		Parameters: Parameters{ProcessMode: ProcessModeFast, Count: 1, Variations: 1},
	}
}

func TestValidateDefaultsUnsetSaturationToNoOp(t *testing.T) {
	s := validSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, 1.0, s.Processing.Saturation)
}

func TestValidateClampsNegativeSaturationToZeroNotDefault(t *testing.T) {
	s := validSettings()
	s.Processing.Saturation = -0.1
	require.NoError(t, s.Validate())
	assert.Equal(t, 0.0, s.Processing.Saturation, "an explicit out-of-range negative must clamp to 0 and stay there, not default to 1.0")
}

func TestValidateClampsSaturationAboveRange(t *testing.T) {
	s := validSettings()
	s.Processing.Saturation = 5
	require.NoError(t, s.Validate())
	assert.Equal(t, 3.0, s.Processing.Saturation)
}

func TestValidateClampsSharpeningRange(t *testing.T) {
	s := validSettings()
	s.Processing.Sharpening = -5
	require.NoError(t, s.Validate())
	assert.Equal(t, 0.0, s.Processing.Sharpening)

	s.Processing.Sharpening = 50
	require.NoError(t, s.Validate())
	assert.Equal(t, 10.0, s.Processing.Sharpening)
}

func TestValidateRejectsBothPiapiAndRunware(t *testing.T) {
	s := validSettings()
	s.APIKeys.PiAPI = true
	s.APIKeys.Runware = true
	err := s.Validate()
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateRejectsVariationsAboveRange(t *testing.T) {
	s := validSettings()
	s.Parameters.Variations = 11
	err := s.Validate()
	require.Error(t, err)
}
