package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{errors.New("curve is complete, graduated"), ClassGraduated},
		{errors.New("error code 6023"), ClassGraduated},
		{errors.New("TOKEN_NOT_TRADABLE"), ClassRetryable},
		{errors.New("no route found for swap"), ClassRetryable},
		{errors.New("error decoding response"), ClassRetryable},
		{errors.New("insufficient funds"), ClassTerminal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), c.err.Error())
	}
}

func TestCurveStateGraduationProgress(t *testing.T) {
	s := CurveState{VirtualSOLReserves: 50, GraduationThreshold: 100}
	assert.InDelta(t, 50.0, s.GraduationProgress(), 1e-9)

	over := CurveState{VirtualSOLReserves: 150, GraduationThreshold: 100}
	assert.InDelta(t, 100.0, over.GraduationProgress(), 1e-9)

	zero := CurveState{}
	assert.Equal(t, 0.0, zero.GraduationProgress())
}
