package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestNormalize_FlatAdapterConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{
		"r": 16,
		"lora_alpha": 32,
		"lora_dropout": 0.05,
		"target_modules": ["q_proj", "v_proj"],
		"bias": "lora_only",
		"base_model_name_or_path": "t5-small"
	}`)

	desc, err := Normalize(dir)
	require.NoError(t, err)
	require.NotNil(t, desc)

	assert.Equal(t, 16, desc.Rank)
	assert.Equal(t, 32, desc.Alpha)
	assert.Equal(t, 0.05, desc.Dropout)
	assert.Equal(t, []string{"q_proj", "v_proj"}, desc.TargetModules)
	assert.Equal(t, "lora_only", desc.Bias)
	assert.Equal(t, "t5-small", desc.BaseModelNameOrPath)
	assert.Equal(t, TaskTypeSeqToSeq, desc.TaskType)
	assert.True(t, desc.InferenceMode)
	assert.Equal(t, AdapterKind, desc.PeftType)

	raw, err := os.ReadFile(filepath.Join(dir, "adapter_config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"task_type": "SEQ_2_SEQ_LM"`)
}

func TestNormalize_NestedConfigBlock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{
		"model_type": "custom",
		"training_config": {
			"rank": 4,
			"alpha": 8,
			"dropout": 0.1,
			"target_modules": ["k_proj"]
		}
	}`)

	desc, err := Normalize(dir)
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, 4, desc.Rank)
	assert.Equal(t, 8, desc.Alpha)
	assert.Equal(t, 0.1, desc.Dropout)
}

func TestNormalize_PrefersAdapterConfigOverGenericConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{"r": 2, "lora_alpha": 2}`)
	writeFile(t, dir, "config.json", `{"r": 99, "lora_alpha": 99}`)

	desc, err := Normalize(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, desc.Rank)
}

func TestNormalize_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{"r": 8}`)

	desc, err := Normalize(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, desc.Rank)
	assert.Equal(t, 8, desc.Alpha)
	assert.Equal(t, 0.0, desc.Dropout)
	assert.Equal(t, "none", desc.Bias)
	assert.True(t, desc.InitLoraWeights)
}

func TestNormalize_NoCandidateFile(t *testing.T) {
	dir := t.TempDir()
	desc, err := Normalize(dir)
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestNormalize_UnparsableJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{not json`)

	_, err := Normalize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMetadata)
}

func TestNormalize_NoRecognizableBlock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{"unrelated_field": "value"}`)

	_, err := Normalize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMetadata)
}

func TestNormalize_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{
		"r": 16,
		"lora_alpha": 32,
		"lora_dropout": 0.05,
		"target_modules": ["q_proj", "v_proj"]
	}`)

	first, err := Normalize(dir)
	require.NoError(t, err)

	second, err := Normalize(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNormalize_AlwaysForcesFixedFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "adapter_config.json", `{
		"r": 8,
		"task_type": "CAUSAL_LM",
		"inference_mode": false,
		"peft_type": "ADALORA"
	}`)

	desc, err := Normalize(dir)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSeqToSeq, desc.TaskType)
	assert.True(t, desc.InferenceMode)
	assert.Equal(t, AdapterKind, desc.PeftType)
}
