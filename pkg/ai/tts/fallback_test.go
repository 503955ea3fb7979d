package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts/fake"
	"github.com/matryer/is"
)

func TestFallbackAdapterOrder(t *testing.T) {
	is := is.New(t)

	broken := fake.NewFakeTTS()
	broken.Err = tts.ErrRecoverable
	working := fake.NewFakeTTS()
	unused := fake.NewFakeTTS()

	adapter, err := tts.NewFallbackAdapter(nil, broken, working, unused)
	is.NoErr(err)

	frames, err := adapter.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "salut"})
	is.NoErr(err)
	n := 0
	for range frames {
		n++
	}
	is.Equal(n, 5)
	is.Equal(len(broken.Requests()), 1)  // tried first
	is.Equal(len(working.Requests()), 1) // served the request
	is.Equal(len(unused.Requests()), 0)  // never reached
}

func TestFallbackAdapterAllFail(t *testing.T) {
	is := is.New(t)

	a, b := fake.NewFakeTTS(), fake.NewFakeTTS()
	a.Err = tts.ErrRecoverable
	b.Err = tts.ErrFatal

	adapter, err := tts.NewFallbackAdapter(nil, a, b)
	is.NoErr(err)

	_, err = adapter.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "x"})
	is.True(errors.Is(err, tts.ErrRecoverable)) // every cause is kept
	is.True(errors.Is(err, tts.ErrFatal))
}

func TestFallbackAdapterRequiresProviders(t *testing.T) {
	is := is.New(t)
	_, err := tts.NewFallbackAdapter(nil)
	is.True(errors.Is(err, tts.ErrNoProviders))
}
