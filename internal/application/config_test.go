package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPipelineYAML = `
version: "1.0"
metadata:
  name: weekly-hub-ensemble
  description: Screens hub submissions and combines the survivors.
columns:
  location: location
  time: target_end_date
screens:
  - id: missingness
    type: missingness
    parameters:
      window_size: 2
  - id: plausibility
    type: plausibility
  - id: monotonicity
    type: monotonicity
  - id: dispersion
    type: dispersion
    parameters:
      n_back_sd: 14
      n_back_mean: 7
      n_sd: 4
combiner:
  id: ensemble
  bandwidth_mode: unweighted
  ensemble_model: hub-ensemble
`

func TestConfigLoader_Parse(t *testing.T) {
	loader := NewConfigLoader(NewScreenRegistry())

	config, err := loader.Parse([]byte(validPipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "weekly-hub-ensemble", config.Metadata.Name)
	require.Len(t, config.Screens, 4)
	assert.Equal(t, "missingness", config.Screens[0].Type)
	assert.Equal(t, "hub-ensemble", config.Combiner.EnsembleModel)
}

func TestConfigLoader_ParseErrors(t *testing.T) {
	loader := NewConfigLoader(NewScreenRegistry())

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "invalid yaml",
			yaml: "version: [unclosed",
		},
		{
			name: "missing version",
			yaml: `
screens:
  - id: missingness
    type: missingness
`,
		},
		{
			name: "no screens",
			yaml: `
version: "1.0"
screens: []
`,
		},
		{
			name: "screen without type",
			yaml: `
version: "1.0"
screens:
  - id: missingness
`,
		},
		{
			name: "duplicate screen ids",
			yaml: `
version: "1.0"
screens:
  - id: same
    type: missingness
  - id: same
    type: monotonicity
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestConfigLoader_LoadPipeline(t *testing.T) {
	loader := NewConfigLoader(NewScreenRegistry())

	pipeline, err := loader.LoadPipeline([]byte(validPipelineYAML))
	require.NoError(t, err)
	require.NotNil(t, pipeline)
	require.Len(t, pipeline.screens, 4)
	assert.Equal(t, "missingness", pipeline.screens[0].Name())
	assert.Equal(t, "ensemble", pipeline.combiner.Name())
	assert.Equal(t, "location", pipeline.locationColumn)
}

func TestConfigLoader_LoadPipelineScreenFailure(t *testing.T) {
	loader := NewConfigLoader(NewScreenRegistry())

	const badScreenYAML = `
version: "1.0"
screens:
  - id: missingness
    type: missingness
    parameters:
      window_size: -1
`
	_, err := loader.LoadPipeline([]byte(badScreenYAML))
	assert.Error(t, err, "screen construction failures surface from loading")
}

func TestConfigLoader_LoadPipelineUnknownType(t *testing.T) {
	loader := NewConfigLoader(NewScreenRegistry())

	const unknownTypeYAML = `
version: "1.0"
screens:
  - id: novel
    type: novel-screen
`
	_, err := loader.LoadPipeline([]byte(unknownTypeYAML))
	assert.ErrorContains(t, err, "unsupported screen type")
}

func TestConfigLoader_LoadPipelineBadCombiner(t *testing.T) {
	loader := NewConfigLoader(NewScreenRegistry())

	const badCombinerYAML = `
version: "1.0"
screens:
  - id: missingness
    type: missingness
combiner:
  bandwidth_mode: gaussian
`
	_, err := loader.Parse([]byte(badCombinerYAML))
	assert.Error(t, err, "unsupported bandwidth modes fail validation")
}
