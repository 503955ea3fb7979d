package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
	"github.com/matryer/is"
)

func TestFakeSTTFinalOnCloseSend(t *testing.T) {
	is := is.New(t)
	provider := NewFakeSTT("bonjour", "au revoir")

	stream, err := provider.NewStream(context.Background(), stt.StreamConfig{SampleRate: 16000, NumChannels: 1})
	is.NoErr(err)
	for range 5 {
		is.NoErr(stream.Push(rtc.Silence(16000, 1)))
	}
	is.NoErr(stream.CloseSend())

	var final stt.SpeechEvent
	for ev := range stream.Events() {
		if ev.Type == stt.SpeechEventFinal {
			final = ev
		}
	}
	is.Equal(final.Text, "bonjour")
	is.True(final.IsFinal)
	is.Equal(final.Language, "fr")
	is.Equal(final.AudioDuration, 50*time.Millisecond) // five 10ms frames

	err = stream.Push(rtc.Silence(16000, 1))
	is.True(errors.Is(err, stt.ErrStreamClosed)) // push after close fails
	is.NoErr(stream.CloseSend())                 // second close is a no-op
}

func TestFakeSTTTranscriptsInOrder(t *testing.T) {
	is := is.New(t)
	provider := NewFakeSTT("un", "deux")

	var got []string
	for range 3 {
		stream, err := provider.NewStream(context.Background(), stt.StreamConfig{})
		is.NoErr(err)
		is.NoErr(stream.CloseSend())
		ev := <-stream.Events()
		got = append(got, ev.Text)
	}
	is.Equal(got, []string{"un", "deux", "deux"}) // last transcript repeats
	is.Equal(provider.Streams(), 3)
}

func TestFakeSTTInterimResults(t *testing.T) {
	is := is.New(t)
	stream, err := NewFakeSTT().NewStream(context.Background(), stt.StreamConfig{Lang: "en"})
	is.NoErr(err)

	for range InterimResultFrameInterval {
		is.NoErr(stream.Push(rtc.Silence(16000, 1)))
	}
	ev := <-stream.Events()
	is.Equal(ev.Type, stt.SpeechEventInterim)
	is.Equal(ev.Language, "en") // stream config overrides the default language
}
