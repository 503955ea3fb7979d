package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/turn/internal"
)

const (
	modelFileRel = "onnx/model_q8.onnx"

	// maxTurns and maxTokens bound the history fed to the model.
	maxTurns  = 6
	maxTokens = 128

	slowInference = 25 * time.Millisecond
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime once per process.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXDetector runs the LiveKit turn-detector model locally. Model files are
// loaded lazily on first use.
type ONNXDetector struct {
	model     internal.ModelInfo
	modelPath string
	logger    *slog.Logger

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	sessionErr  error

	tokenizerOnce sync.Once
	tokenizer     *tokenizer.Tokenizer
	tokenizerErr  error

	languagesOnce sync.Once
	languages     map[string]float64
	languagesErr  error
}

// NewONNXDetector creates a detector for "english" or "multilingual".
// An empty modelPath uses DefaultModelPath.
func NewONNXDetector(modelName, modelPath string) (*ONNXDetector, error) {
	model, ok := internal.Lookup(modelName)
	if !ok {
		return nil, fmt.Errorf("turn: unknown model %q", modelName)
	}
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &ONNXDetector{
		model:     model,
		modelPath: modelPath,
		logger:    slog.Default().With("component", "turn", "model", model.Name),
	}, nil
}

// NewEOUModel returns the English end-of-utterance model.
func NewEOUModel(modelPath string) (*ONNXDetector, error) {
	return NewONNXDetector(internal.EnglishModel.Name, modelPath)
}

// UnlikelyThreshold returns the threshold from languages.json.
func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	threshold, ok := d.languages[normalizeLanguage(language)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return threshold, nil
}

// SupportsLanguage reports whether languages.json lists language.
func (d *ONNXDetector) SupportsLanguage(language string) bool {
	if err := d.loadLanguages(); err != nil {
		return false
	}
	_, ok := d.languages[normalizeLanguage(language)]
	return ok
}

// PredictEndOfTurn returns the probability that the last user message ends the turn.
func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	start := time.Now()

	if err := d.loadSession(); err != nil {
		return 0, err
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, err
	}

	ids, err := d.encode(chatCtx.Messages)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0.5, nil
	}

	prob, err := d.infer(ctx, ids)
	if err != nil {
		return 0, err
	}

	if elapsed := time.Since(start); elapsed > slowInference {
		d.logger.Debug("slow turn detection", "elapsed", elapsed, "tokens", len(ids))
	}
	return prob, nil
}

// Close releases the ONNX session.
func (d *ONNXDetector) Close() error {
	if d.session != nil {
		return d.session.Destroy()
	}
	return nil
}

func (d *ONNXDetector) file(name string) string {
	return internal.GetModelFilePath(d.modelPath, d.model.Revision, name)
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		modelFile := d.file(modelFileRel)
		if _, err := os.Stat(modelFile); err != nil {
			d.sessionErr = fmt.Errorf("turn: model file not found: %s (run download-files first)", modelFile)
			return
		}
		if err := ensureOrtEnv(); err != nil {
			d.sessionErr = fmt.Errorf("turn: initialize onnx runtime: %w", err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("turn: session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
			d.sessionErr = fmt.Errorf("turn: intra-op threads: %w", err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			d.sessionErr = fmt.Errorf("turn: inter-op threads: %w", err)
			return
		}
		if err := options.AddSessionConfigEntry("session.dynamic_block_base", "4"); err != nil {
			d.sessionErr = fmt.Errorf("turn: session config: %w", err)
			return
		}

		d.session, err = ort.NewDynamicAdvancedSession(modelFile,
			[]string{"input_ids"}, []string{"logits"}, options)
		if err != nil {
			d.sessionErr = fmt.Errorf("turn: create onnx session: %w", err)
		}
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		path := d.file("tokenizer.json")
		if _, err := os.Stat(path); err != nil {
			d.tokenizerErr = fmt.Errorf("turn: tokenizer not found: %s (run download-files first)", path)
			return
		}
		tk, err := pretrained.FromFile(path)
		if err != nil {
			d.tokenizerErr = fmt.Errorf("turn: load tokenizer: %w", err)
			return
		}
		d.tokenizer = tk
	})
	return d.tokenizerErr
}

func (d *ONNXDetector) loadLanguages() error {
	d.languagesOnce.Do(func() {
		f, err := os.Open(d.file("languages.json"))
		if err != nil {
			d.languagesErr = fmt.Errorf("turn: open languages.json: %w", err)
			return
		}
		defer f.Close()

		langs, err := parseLanguages(f)
		if err != nil {
			d.languagesErr = err
			return
		}
		d.languages = langs
	})
	return d.languagesErr
}

// parseLanguages accepts both {"en": 0.85} and {"en": {"threshold": 0.85}}.
func parseLanguages(r io.Reader) (map[string]float64, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("turn: decode languages.json: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for lang, v := range raw {
		var threshold float64
		if err := json.Unmarshal(v, &threshold); err != nil {
			var obj struct {
				Threshold float64 `json:"threshold"`
			}
			if err := json.Unmarshal(v, &obj); err != nil {
				return nil, fmt.Errorf("turn: threshold for %s: %w", lang, err)
			}
			threshold = obj.Threshold
		}
		out[normalizeLanguage(lang)] = threshold
	}
	return out, nil
}

func (d *ONNXDetector) encode(messages []llm.Message) ([]int64, error) {
	enc, err := d.tokenizer.EncodeSingle(FormatChat(messages), false)
	if err != nil {
		return nil, fmt.Errorf("turn: tokenize: %w", err)
	}
	ids := enc.GetIds()
	if len(ids) > maxTokens {
		ids = ids[len(ids)-maxTokens:]
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}

func (d *ONNXDetector) infer(ctx context.Context, ids []int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return 0, fmt.Errorf("turn: input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return 0, fmt.Errorf("turn: inference: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("turn: unexpected output type %T", outputs[0])
	}
	data := logits.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("turn: empty model output")
	}
	return clamp01(float64(data[len(data)-1])), nil
}

// FormatChat renders the last turns with the model's chat template. The
// final <|im_end|> is left off so the model scores whether it comes next.
func FormatChat(messages []llm.Message) string {
	var turns []llm.Message
	for _, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		text := normalizeText(m.Content)
		if text == "" {
			continue
		}
		// consecutive messages from the same speaker are one turn
		if n := len(turns); n > 0 && turns[n-1].Role == m.Role {
			turns[n-1].Content += " " + text
			continue
		}
		turns = append(turns, llm.Message{Role: m.Role, Content: text})
	}
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	var b strings.Builder
	for _, m := range turns {
		fmt.Fprintf(&b, "<|im_start|><|%s|>%s<|im_end|>", m.Role, m.Content)
	}
	return strings.TrimSuffix(b.String(), "<|im_end|>")
}

// normalizeText lowercases and drops punctuation other than apostrophes and hyphens.
func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) && r != '\'' && r != '-' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeLanguage maps "fr-FR" and "FR" to "fr".
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DefaultModelPath is $LK_MODEL_PATH or ~/.livekit/models.
func DefaultModelPath() string {
	if path := os.Getenv("LK_MODEL_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "livekit-models")
	}
	return filepath.Join(home, ".livekit", "models")
}
