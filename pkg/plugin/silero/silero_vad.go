//go:build silero

package silero

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pool "github.com/jolestar/go-commons-pool/v2"
	"github.com/streamer45/silero-vad-go/speech"

	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/audio/resample"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// windowSamples is how much 16 kHz audio is handed to the model per call.
// The detector itself steps in 512-sample windows.
const windowSamples = 1024

// VAD shares one model file across sessions. Each Detect call borrows a
// detector with its own recurrent state from the pool.
type VAD struct {
	opts      Options
	detectors *pool.ObjectPool
}

// New checks that the model loads and prepares the detector pool.
func New(opts Options) (vad.VAD, error) {
	if opts.ModelPath == "" {
		opts.ModelPath = DefaultModelPath()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultOptions.PoolSize
	}

	cfg := speech.DetectorConfig{
		ModelPath:            opts.ModelPath,
		SampleRate:           SampleRate,
		Threshold:            float32(opts.Threshold),
		MinSilenceDurationMs: int(opts.MinSilence.Milliseconds()),
		SpeechPadMs:          int(opts.SpeechPad.Milliseconds()),
		LogLevel:             speech.LogLevelWarn,
	}

	factory := pool.NewPooledObjectFactory(
		func(context.Context) (interface{}, error) {
			return speech.NewDetector(cfg)
		},
		func(_ context.Context, o *pool.PooledObject) error {
			return o.Object.(*speech.Detector).Destroy()
		},
		nil,
		nil,
		func(_ context.Context, o *pool.PooledObject) error {
			return o.Object.(*speech.Detector).Reset()
		},
	)

	ctx := context.Background()
	p := pool.NewObjectPoolWithDefaultConfig(ctx, factory)
	p.Config.MaxTotal = opts.PoolSize
	p.Config.MaxIdle = opts.PoolSize

	// Load once up front so a missing model fails prewarm, not the first call.
	d, err := p.BorrowObject(ctx)
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("silero: load %s: %w", opts.ModelPath, err)
	}
	p.ReturnObject(ctx, d)

	slog.Info("Silero VAD loaded", slog.String("model_path", opts.ModelPath), slog.Int("pool_size", opts.PoolSize))
	return &VAD{opts: opts, detectors: p}, nil
}

func (v *VAD) Label() string { return "silero.VAD" }

// Detect runs the model over frames until frames closes or ctx is done.
// Frames are resampled to 16 kHz mono at the rate of the first frame.
func (v *VAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.VADEvent, error) {
	obj, err := v.detectors.BorrowObject(ctx)
	if err != nil {
		return nil, fmt.Errorf("silero: borrow detector: %w", err)
	}
	det := obj.(*speech.Detector)

	out := make(chan vad.VADEvent, 10)
	go func() {
		defer close(out)
		defer v.detectors.ReturnObject(context.Background(), obj)
		v.run(ctx, det, resample.Stream(ctx, frames, SampleRate), out)
	}()
	return out, nil
}

func (v *VAD) run(ctx context.Context, det *speech.Detector, frames <-chan rtc.AudioFrame, out chan<- vad.VADEvent) {
	var (
		speaking          bool
		speechStart       time.Time
		inferences        int
		inferenceDuration time.Duration
		buf               []float32
	)
	emit := func(ev vad.VADEvent) bool {
		ev.Timestamp = time.Now()
		ev.InferenceCount, ev.InferenceDuration = inferences, inferenceDuration
		inferences, inferenceDuration = 0, 0
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	end := func() bool {
		speaking = false
		return emit(vad.VADEvent{Type: vad.VADEventSpeechEnd, SpeechDuration: time.Since(speechStart)})
	}

	for {
		var frame rtc.AudioFrame
		var ok bool
		select {
		case frame, ok = <-frames:
		case <-ctx.Done():
			return
		}
		if !ok {
			if speaking {
				end()
			}
			return
		}

		buf = append(buf, frame.Float32s()...)
		if len(buf) < windowSamples {
			continue
		}

		start := time.Now()
		segments, err := det.Detect(buf)
		inferences++
		inferenceDuration += time.Since(start)
		buf = buf[:0]
		if err != nil {
			if !emit(vad.VADEvent{Type: vad.VADEventError, Error: fmt.Errorf("%w: %v", vad.ErrRecoverable, err)}) {
				return
			}
			continue
		}

		for _, seg := range segments {
			if !speaking {
				speaking = true
				speechStart = time.Now()
				if !emit(vad.VADEvent{Type: vad.VADEventSpeechStart}) {
					return
				}
			}
			if seg.SpeechEndAt > 0 && !end() {
				return
			}
		}
	}
}

func (v *VAD) Capabilities() vad.VADCapabilities {
	return vad.VADCapabilities{
		SampleRates:        []int{16000, 48000},
		MinSpeechDuration:  v.opts.MinSpeech,
		MinSilenceDuration: v.opts.MinSilence,
		Sensitivity:        float32(v.opts.Threshold),
	}
}

// Close destroys every pooled detector.
func (v *VAD) Close() {
	v.detectors.Close(context.Background())
}

func init() {
	register(func(cfg map[string]any) (any, error) {
		return New(optionsFrom(cfg))
	}, "Silero VAD (ONNX model via onnxruntime)")
}
