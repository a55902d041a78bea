// Package google provides a Google Cloud TTS-backed provider using the
// v1beta1 REST API. It implements the tts.Provider interface.
//
// Word timings are obtained by interleaving SSML <mark/> elements before each
// word and requesting SSML_MARK time pointing; the returned timepoints map
// back to the words by mark name.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

const (
	synthesizeEndpoint = "https://texttospeech.googleapis.com/v1beta1/text:synthesize"
	voicesEndpoint     = "https://texttospeech.googleapis.com/v1beta1/voices"

	defaultSampleRate   = 24000
	defaultSpeakingRate = 1.0
)

// defaultMaleVoices are the voice IDs reported as MALE in the synthesis input.
// Google rejects requests where the ssmlGender contradicts the named voice.
var defaultMaleVoices = []string{
	"en-US-Neural2-A",
	"en-US-Neural2-D",
	"en-US-Neural2-I",
	"en-US-Neural2-J",
}

// Option is a functional option for configuring the Google Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithMaleVoices replaces the set of voice IDs synthesised with ssmlGender MALE.
func WithMaleVoices(ids []string) Option {
	return func(p *Provider) {
		p.maleVoices = make(map[string]bool, len(ids))
		for _, id := range ids {
			p.maleVoices[id] = true
		}
	}
}

// Provider implements tts.Provider backed by the Google Cloud TTS REST API.
type Provider struct {
	apiKey     string
	httpClient *http.Client
	maleVoices map[string]bool
}

// New creates a new Google Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("google: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.maleVoices == nil {
		p.maleVoices = make(map[string]bool, len(defaultMaleVoices))
		for _, id := range defaultMaleVoices {
			p.maleVoices[id] = true
		}
	}
	return p, nil
}

// ---- request / response types ----

type synthesizeRequest struct {
	Input struct {
		SSML string `json:"ssml"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
		SSMLGender   string `json:"ssmlGender"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding   string  `json:"audioEncoding"`
		SampleRateHertz int     `json:"sampleRateHertz"`
		SpeakingRate    float64 `json:"speakingRate"`
	} `json:"audioConfig"`
	EnableTimePointing []string `json:"enableTimePointing"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"` // base64-encoded MP3
	Timepoints   []struct {
		MarkName    string  `json:"markName"`
		TimeSeconds float64 `json:"timeSeconds"`
	} `json:"timepoints"`
}

// Synthesize converts req.Text to MP3 audio with per-word timing marks.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.SpeechResult, error) {
	if req.Voice.ID == "" {
		return nil, errors.New("google: voice.ID must not be empty")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("google: text must not be empty")
	}

	words := strings.Fields(req.Text)
	body := p.buildRequest(req, words)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		synthesizeEndpoint+"?key="+p.apiKey, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: synthesize: unexpected status %d", resp.StatusCode)
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("google: synthesize decode: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(sr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("google: decode audio: %w", err)
	}

	return &tts.SpeechResult{
		Audio:   audio,
		Timings: foldTimepoints(words, sr),
	}, nil
}

// buildRequest assembles the synthesize request body for the given words.
func (p *Provider) buildRequest(req tts.SpeechRequest, words []string) synthesizeRequest {
	var body synthesizeRequest
	body.Input.SSML = buildSSML(words)
	body.Voice.LanguageCode = languageOfVoice(req.Voice)
	body.Voice.Name = req.Voice.ID
	if p.maleVoices[req.Voice.ID] {
		body.Voice.SSMLGender = "MALE"
	} else {
		body.Voice.SSMLGender = "FEMALE"
	}
	body.AudioConfig.AudioEncoding = "MP3"
	body.AudioConfig.SampleRateHertz = req.SampleRate
	if body.AudioConfig.SampleRateHertz == 0 {
		body.AudioConfig.SampleRateHertz = defaultSampleRate
	}
	body.AudioConfig.SpeakingRate = req.SpeakingRate
	if body.AudioConfig.SpeakingRate == 0 {
		body.AudioConfig.SpeakingRate = defaultSpeakingRate
	}
	body.EnableTimePointing = []string{"SSML_MARK"}
	return body
}

// buildSSML interleaves a named mark before each word. Words are XML-escaped;
// mark w<i> corresponds to words[i].
func buildSSML(words []string) string {
	var b strings.Builder
	b.WriteString("<speak>")
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, `<mark name="w%d"/>`, i)
		b.WriteString(xmlEscape(w))
	}
	b.WriteString("</speak>")
	return b.String()
}

// xmlEscape escapes the five XML special characters in s.
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// foldTimepoints maps the response timepoints back to the request words by
// mark name. Timepoints with unknown mark names are ignored; words without a
// timepoint are skipped, so the result stays ordered by time.
func foldTimepoints(words []string, sr synthesizeResponse) []tts.Mark {
	byName := make(map[string]float64, len(sr.Timepoints))
	for _, tp := range sr.Timepoints {
		byName[tp.MarkName] = tp.TimeSeconds
	}
	marks := make([]tts.Mark, 0, len(words))
	for i, w := range words {
		secs, ok := byName[fmt.Sprintf("w%d", i)]
		if !ok {
			continue
		}
		marks = append(marks, tts.Mark{Word: w, TimeSeconds: secs})
	}
	return marks
}

// languageOfVoice derives the languageCode for the request. Google voice names
// embed the locale as their first two hyphenated segments ("en-US-Neural2-D").
func languageOfVoice(v tts.VoiceProfile) string {
	if v.Language != "" {
		return v.Language
	}
	parts := strings.SplitN(v.ID, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

// ---- ListVoices ----

type voicesResponse struct {
	Voices []googleVoice `json:"voices"`
}

type googleVoice struct {
	LanguageCodes          []string `json:"languageCodes"`
	Name                   string   `json:"name"`
	SSMLGender             string   `json:"ssmlGender"`
	NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
}

// ListVoices returns all voices available from Google Cloud TTS.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint+"?key="+p.apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("google: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("google: list voices decode: %w", err)
	}
	return parseVoices(vr), nil
}

// parseVoices converts the raw API voices into VoiceProfile values.
func parseVoices(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.Name,
			Name:     v.Name,
			Provider: "google",
			Language: lang,
			Metadata: map[string]string{
				"gender": v.SSMLGender,
			},
		})
	}
	return profiles
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
