package elevenlabs

import (
	"encoding/json"
	"testing"
)

// ---- alignment folding ----

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func TestFoldAlignment(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		a     alignment
		words []string
		times []float64
	}{
		{
			name: "two words",
			a: alignment{
				Characters:      chars("We open"),
				CharacterStarts: []float64{0.00, 0.05, 0.10, 0.15, 0.20, 0.25, 0.30},
				CharacterEnds:   []float64{0.05, 0.10, 0.15, 0.20, 0.25, 0.30, 0.35},
			},
			words: []string{"We", "open"},
			times: []float64{0.00, 0.15},
		},
		{
			name: "leading and double spaces collapse",
			a: alignment{
				Characters:      chars(" at  nine"),
				CharacterStarts: []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
			},
			words: []string{"at", "nine"},
			times: []float64{0.1, 0.5},
		},
		{
			name: "punctuation stays attached",
			a: alignment{
				Characters:      chars("Yes, daily."),
				CharacterStarts: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			words: []string{"Yes,", "daily."},
			times: []float64{0, 0.5},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			marks := foldAlignment(tc.a)
			if len(marks) != len(tc.words) {
				t.Fatalf("marks = %d, want %d: %+v", len(marks), len(tc.words), marks)
			}
			for i := range marks {
				if marks[i].Word != tc.words[i] {
					t.Errorf("mark[%d].Word = %q, want %q", i, marks[i].Word, tc.words[i])
				}
				if marks[i].TimeSeconds != tc.times[i] {
					t.Errorf("mark[%d].TimeSeconds = %v, want %v", i, marks[i].TimeSeconds, tc.times[i])
				}
			}
		})
	}
}

func TestFoldAlignment_EmptyStaysNonNil(t *testing.T) {
	t.Parallel()
	marks := foldAlignment(alignment{})
	if marks == nil {
		t.Fatal("foldAlignment returned nil marks")
	}
	if len(marks) != 0 {
		t.Errorf("marks = %v, want none", marks)
	}
}

// ---- request payload ----

func TestSynthesizeRequest_MarshalShape(t *testing.T) {
	t.Parallel()
	body := synthesizeRequest{
		Text:    "We open at nine.",
		ModelID: "eleven_flash_v2_5",
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           1.1,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"text", "model_id", "voice_settings"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("payload is missing the %q field", key)
		}
	}
}

func TestVoiceSettings_SpeedOmittedWhenZero(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(voiceSettings{Stability: 0.5, SimilarityBoost: 0.75})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["speed"]; ok {
		t.Error("speed serialized at its zero value; the API treats 0 as invalid")
	}
}

// ---- voice list parsing ----

func TestParseVoicesResponse(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Clara",
				"category": "premade",
				"labels": {"gender": "female", "accent": "british"}
			},
			{
				"voice_id": "def456",
				"name": "Jonas",
				"category": "premade",
				"labels": {"gender": "male"}
			}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}

	clara := profiles[0]
	if clara.ID != "abc123" || clara.Name != "Clara" {
		t.Errorf("first profile = %+v", clara)
	}
	if clara.Provider != "elevenlabs" {
		t.Errorf("provider = %q, want elevenlabs", clara.Provider)
	}
	if clara.Metadata["gender"] != "female" {
		t.Errorf("gender = %q", clara.Metadata["gender"])
	}
	if clara.Metadata["category"] != "premade" {
		t.Errorf("category = %q", clara.Metadata["category"])
	}
	if profiles[1].ID != "def456" {
		t.Errorf("second profile = %+v", profiles[1])
	}
}

func TestParseVoicesResponse_Empty(t *testing.T) {
	t.Parallel()
	profiles, err := parseVoicesResponse([]byte(`{"voices":[]}`))
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("profiles = %d, want 0", len(profiles))
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	t.Parallel()
	if _, err := parseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("parseVoicesResponse accepted malformed JSON")
	}
}

func TestParseVoicesResponse_MissingLabels(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"voices": [
			{"voice_id": "x1", "name": "Ghost", "category": "", "labels": null}
		]
	}`)
	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	if _, ok := profiles[0].Metadata["category"]; ok {
		t.Error("empty category leaked into metadata")
	}
}

// ---- constructor ----

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("New accepted an empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("outputFormat = %q, want %q", p.outputFormat, defaultOutputFmt)
	}
}

func TestNew_WithOptions(t *testing.T) {
	t.Parallel()
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("mp3_22050_32"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("model = %q", p.model)
	}
	if p.outputFormat != "mp3_22050_32" {
		t.Errorf("outputFormat = %q", p.outputFormat)
	}
}
