package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

func TestNewClassifier_Validation(t *testing.T) {
	tests := []struct {
		name    string
		upper   float64
		lower   float64
		wantErr bool
	}{
		{name: "defaults", upper: 1.0, lower: 0.5},
		{name: "zero lower", upper: 2.0, lower: 0},
		{name: "lower equals upper", upper: 1.0, lower: 1.0, wantErr: true},
		{name: "lower above upper", upper: 0.5, lower: 1.0, wantErr: true},
		{name: "negative lower", upper: 1.0, lower: -0.1, wantErr: true},
		{name: "nan upper", upper: math.NaN(), lower: 0.5, wantErr: true},
		{name: "inf upper", upper: math.Inf(1), lower: 0.5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClassifier(tt.upper, tt.lower)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidThresholds)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.upper, c.Upper())
			assert.Equal(t, tt.lower, c.Lower())
		})
	}
}

func TestClassifier_Precedence(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name    string
		z       float64
		defined bool
		want    Signal
	}{
		{name: "undefined", z: 5, defined: false, want: SignalHold},
		{name: "nan", z: math.NaN(), defined: true, want: SignalHold},
		{name: "above upper", z: 1.0001, defined: true, want: SignalSell},
		{name: "exactly upper", z: 1.0, defined: true, want: SignalHold},
		{name: "below negative upper", z: -1.5, defined: true, want: SignalBuy},
		{name: "exactly negative upper", z: -1.0, defined: true, want: SignalHold},
		{name: "inside lower band", z: 0.2, defined: true, want: SignalClear},
		{name: "negative inside lower band", z: -0.49, defined: true, want: SignalClear},
		{name: "exactly lower", z: 0.5, defined: true, want: SignalHold},
		{name: "exactly negative lower", z: -0.5, defined: true, want: SignalHold},
		{name: "between bands", z: 0.75, defined: true, want: SignalHold},
		{name: "zero", z: 0, defined: true, want: SignalClear},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ClassifyValue(tt.z, tt.defined))
		})
	}
}

func TestClassifier_UndefinedSampleIsHold(t *testing.T) {
	c := DefaultClassifier()
	s := spread.ZScoreSample{Value: 3, Defined: false, Reason: spread.ReasonInvalidRatio}
	assert.Equal(t, SignalHold, c.Classify(s))
}

func TestSignal_CodeAndText(t *testing.T) {
	codes := map[Signal]int{SignalSell: -1, SignalBuy: 1, SignalClear: 0, SignalHold: -2}
	for sig, code := range codes {
		assert.Equal(t, code, sig.Code(), sig.String())

		text, err := sig.MarshalText()
		require.NoError(t, err)
		var parsed Signal
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, sig, parsed)
	}

	var s Signal
	assert.Error(t, s.UnmarshalText([]byte("short")))
}
