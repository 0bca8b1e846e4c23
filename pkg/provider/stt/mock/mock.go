// Package mock provides a scriptable stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/pitchside-ai/pitchside/pkg/audio"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
)

// Provider implements stt.Provider with a scripted list of results. Each call
// consumes the next entry; calls beyond the end of the script repeat the last
// entry. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Script is the ordered list of results to return.
	Script []Result

	// Calls counts Transcribe invocations.
	Calls int

	// LastUtterance records the most recent utterance passed in.
	LastUtterance audio.Utterance
}

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, u audio.Utterance) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.Calls
	p.Calls++
	p.LastUtterance = u

	if len(p.Script) == 0 {
		return stt.Transcript{}, nil
	}
	if i >= len(p.Script) {
		i = len(p.Script) - 1
	}
	r := p.Script[i]
	return r.Transcript, r.Err
}

// Conf is a helper for building a *float64 confidence in test scripts.
func Conf(v float64) *float64 {
	return &v
}
