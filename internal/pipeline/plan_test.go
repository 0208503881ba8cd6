package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/config"
)

func TestPlanExpandsCountParameterSets(t *testing.T) {
	dir := t.TempDir()
	keywordsFile := filepath.Join(dir, "keywords.txt")
	require.NoError(t, os.WriteFile(keywordsFile, []byte("cat\ndog\n"), 0o600))

	settings := config.Settings{
		FilePaths:  config.FilePaths{KeywordsFile: keywordsFile},
		Parameters: config.Parameters{Count: 4, Variations: 2, AspectRatios: []string{"1:1"}},
	}

	sets, err := NewPlanner().Plan(settings)
	require.NoError(t, err)
	require.Len(t, sets, 4)
	for i, s := range sets {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, 2, s.Variations)
		assert.Equal(t, "1:1", s.AspectRatio)
	}
	assert.Equal(t, "cat", sets[0].Prompt)
	assert.Equal(t, "dog", sets[1].Prompt)
}

func TestPlanWithoutKeywordsFileStillProducesSets(t *testing.T) {
	settings := config.Settings{Parameters: config.Parameters{Count: 2, Variations: 1}}
	sets, err := NewPlanner().Plan(settings)
	require.NoError(t, err)
	assert.Len(t, sets, 2)
}
