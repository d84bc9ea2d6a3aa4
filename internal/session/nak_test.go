package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNak_Correlation(t *testing.T) {
	tests := []struct {
		name        string
		termOffset  uint32
		length      uint32
		unrecovered uint32
		matched     bool
	}{
		{"exact range", 100, 50, 0, true},
		{"leading part", 100, 20, 30, true},
		{"starts before nak", 90, 50, 50, false},
		{"longer than nak", 100, 60, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecorder(t)
			nak := r.nak(1, 100, 50)
			data := r.data(1, tt.termOffset, tt.length, 0)

			assert.Equal(t, tt.unrecovered, nak.NakState.Unrecovered)
			if tt.matched {
				require.Len(t, nak.NakState.Rx, 1)
				assert.Equal(t, Rx{TermOffset: tt.termOffset, Length: tt.length, Frame: data.ID}, nak.NakState.Rx[0])
				assert.Len(t, data.Recovered, 1)
			} else {
				assert.Empty(t, nak.NakState.Rx)
				assert.Empty(t, data.Recovered)
			}
		})
	}
}

func TestNak_SameRangeCreditedOnce(t *testing.T) {
	r := newRecorder(t)
	nak := r.nak(1, 0, 2816)
	r.data(1, 0, 1408, 0)
	dup := r.data(1, 0, 1408, 0)
	r.data(1, 1408, 1408, 0)

	assert.Equal(t, uint32(0), nak.NakState.Unrecovered)
	assert.Len(t, nak.NakState.Rx, 2)
	assert.Empty(t, dup.Recovered)
}

func TestNak_ExhaustedNakNotMatched(t *testing.T) {
	r := newRecorder(t)
	nak := r.nak(1, 0, 1408)
	r.data(1, 0, 1408, 0)
	late := r.data(1, 8, 1400, 0)

	assert.Equal(t, uint32(0), nak.NakState.Unrecovered)
	assert.Len(t, nak.NakState.Rx, 1)
	assert.Empty(t, late.Recovered)

	// Exhausted NAKs stay on the term.
	term := r.stream().Term(1)
	require.Len(t, term.Naks(), 1)
	assert.Equal(t, nak.ID, r.m.Nak(term.Naks()[0]).Frame)
}

func TestNak_OnlyEarlierNaksInSameTerm(t *testing.T) {
	r := newRecorder(t)
	otherTerm := r.nak(2, 0, 1408)
	data := r.data(1, 0, 1408, 0)
	laterNak := r.nak(1, 0, 1408)

	assert.Equal(t, uint32(1408), otherTerm.NakState.Unrecovered)
	assert.Equal(t, uint32(1408), laterNak.NakState.Unrecovered)
	assert.Empty(t, data.Recovered)
}

func TestNak_OneFrameRecoversSeveralNaks(t *testing.T) {
	r := newRecorder(t)
	first := r.nak(1, 0, 4096)
	second := r.nak(1, 0, 2048)
	data := r.data(1, 1024, 1024, 0)

	assert.Equal(t, uint32(3072), first.NakState.Unrecovered)
	assert.Equal(t, uint32(1024), second.NakState.Unrecovered)
	assert.Equal(t, []NakID{first.NakState.Nak, second.NakState.Nak}, data.Recovered)

	state := r.m.NakState(second.NakState.Nak)
	assert.Same(t, second.NakState, state)
	assert.Nil(t, r.m.NakState(99))
}

func TestNak_DisabledWithoutSequenceAnalysis(t *testing.T) {
	r := newRecorder(t)
	r.m.cfg.Sequence = false
	nak := r.nak(1, 0, 1408)
	r.data(1, 0, 1408, 0)

	assert.Equal(t, uint32(1408), nak.NakState.Unrecovered)
}
