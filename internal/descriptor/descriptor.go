// Package descriptor canonicalizes the heterogeneous adapter metadata
// trainers leave behind into a fixed, allow-listed field set the inference
// backend accepts. Unknown fields are dropped; missing fields get the
// backend's documented defaults.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AdapterKind is the fixed marker written into every normalized descriptor.
const AdapterKind = "LORA"

// TaskTypeSeqToSeq is the fixed task-type marker for this service's
// adapters.
const TaskTypeSeqToSeq = "SEQ_2_SEQ_LM"

// candidateFilenames are tried, in order, as the bundle's metadata file.
// Only the first one present is read.
var candidateFilenames = []string{
	"adapter_config.json",
	"config.json",
}

// ErrBadMetadata is returned when a candidate metadata file exists but
// cannot be parsed or does not look like a LoRA config.
var ErrBadMetadata = errors.New("descriptor: malformed adapter metadata")

// Descriptor is the canonical, allow-listed record written back into the
// bundle directory.
type Descriptor struct {
	Rank              int                `json:"r"`
	Alpha             int                `json:"lora_alpha"`
	Dropout           float64            `json:"lora_dropout"`
	TargetModules     []string           `json:"target_modules"`
	Bias              string             `json:"bias"`
	TaskType          string             `json:"task_type"`
	InferenceMode     bool               `json:"inference_mode"`
	ModulesToSave     []string           `json:"modules_to_save,omitempty"`
	InitLoraWeights   bool               `json:"init_lora_weights"`
	FanInFanOut       bool               `json:"fan_in_fan_out"`
	UseRslora         bool               `json:"use_rslora"`
	AlphaPattern      map[string]float64 `json:"alpha_pattern,omitempty"`
	BaseModelNameOrPath string           `json:"base_model_name_or_path,omitempty"`
	PeftType          string             `json:"peft_type"`
}

// defaults mirrors the backend's own fallback behavior.
func defaults() *Descriptor {
	return &Descriptor{
		Rank:            8,
		Alpha:           8,
		Dropout:         0.0,
		TargetModules:   nil,
		Bias:            "none",
		TaskType:        TaskTypeSeqToSeq,
		InferenceMode:   true,
		InitLoraWeights: true,
		PeftType:        AdapterKind,
	}
}

// lowRankKeys is the set of keys whose presence (at the top level, or in a
// "*_config" block one level down) identifies a block as LoRA-shaped.
var lowRankKeys = []string{"rank", "r", "alpha", "lora_alpha", "dropout", "lora_dropout", "target_modules"}

// Normalize reads the first candidate metadata file present under
// bundlePath, extracts a LoRA-shaped config block from it (the record itself,
// or a block directly under a top-level "*_config" key; deeper nesting is not
// searched), and overwrites the file with the canonical JSON form. If no
// candidate file exists the step is silently skipped and a nil descriptor is
// returned (composition may still succeed without one, or fail later for
// lack of weights; that's the caller's concern, not this function's).
func Normalize(bundlePath string) (*Descriptor, error) {
	path, raw, ok, err := readCandidate(bundlePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadMetadata, path, err)
	}

	block := locateLoraBlock(generic)
	if block == nil {
		return nil, fmt.Errorf("%w: %s: no recognizable lora config block", ErrBadMetadata, path)
	}

	desc := fromBlock(block)

	out, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal canonical descriptor: %v", ErrBadMetadata, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, fmt.Errorf("descriptor: write canonical file %s: %w", path, err)
	}

	return desc, nil
}

func readCandidate(bundlePath string) (path string, raw []byte, ok bool, err error) {
	for _, name := range candidateFilenames {
		p := filepath.Join(bundlePath, name)
		b, rerr := os.ReadFile(p)
		if rerr == nil {
			return p, b, true, nil
		}
		if !os.IsNotExist(rerr) {
			return "", nil, false, fmt.Errorf("descriptor: read %s: %w", p, rerr)
		}
	}
	return "", nil, false, nil
}

// locateLoraBlock walks the top level of generic, and one level into any
// key ending in "_config", looking for the first map that looks LoRA-shaped.
// The top-level record itself is tried first since most trainers write a
// flat adapter_config.json.
func locateLoraBlock(generic map[string]any) map[string]any {
	if looksLoraShaped(generic) {
		return generic
	}
	for key, val := range generic {
		if len(key) < 7 || key[len(key)-7:] != "_config" {
			continue
		}
		nested, ok := val.(map[string]any)
		if !ok {
			continue
		}
		if looksLoraShaped(nested) {
			return nested
		}
	}
	return nil
}

func looksLoraShaped(m map[string]any) bool {
	for _, k := range lowRankKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func fromBlock(block map[string]any) *Descriptor {
	d := defaults()

	if v, ok := intField(block, "r", "rank"); ok {
		d.Rank = v
	}
	if v, ok := intField(block, "lora_alpha", "alpha"); ok {
		d.Alpha = v
	}
	if v, ok := floatField(block, "lora_dropout", "dropout"); ok {
		d.Dropout = v
	}
	if v, ok := stringSliceField(block, "target_modules"); ok {
		d.TargetModules = v
	}
	if v, ok := stringField(block, "bias"); ok {
		d.Bias = v
	}
	if v, ok := stringSliceField(block, "modules_to_save"); ok {
		d.ModulesToSave = v
	}
	if v, ok := boolField(block, "init_lora_weights"); ok {
		d.InitLoraWeights = v
	}
	if v, ok := boolField(block, "fan_in_fan_out"); ok {
		d.FanInFanOut = v
	}
	if v, ok := boolField(block, "use_rslora"); ok {
		d.UseRslora = v
	}
	if v, ok := floatMapField(block, "alpha_pattern"); ok {
		d.AlphaPattern = v
	}
	if v, ok := stringField(block, "base_model_name_or_path"); ok {
		d.BaseModelNameOrPath = v
	}

	// Forced regardless of what upstream wrote.
	d.TaskType = TaskTypeSeqToSeq
	d.InferenceMode = true
	d.PeftType = AdapterKind

	return d
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch n := v.(type) {
			case float64:
				return int(n), true
			case int:
				return n, true
			}
		}
	}
	return 0, false
}

func floatField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := v.(float64); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func boolField(m map[string]any, key string) (bool, bool) {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

func stringField(m map[string]any, key string) (string, bool) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

func stringSliceField(m map[string]any, key string) ([]string, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func floatMapField(m map[string]any, key string) (map[string]float64, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(raw))
	for k, val := range raw {
		if f, ok := val.(float64); ok {
			out[k] = f
		}
	}
	return out, true
}
