package audiosession

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRouteChangeReason(t *testing.T) {
	cases := []struct {
		raw  int
		want RouteChangeReason
	}{
		{0, RouteChangeReasonUnknown},
		{1, RouteChangeReasonNewDeviceAvailable},
		{2, RouteChangeReasonOldDeviceUnavailable},
		{3, RouteChangeReasonCategoryChange},
		{4, RouteChangeReasonOverride},
		{6, RouteChangeReasonWakeFromSleep},
		{7, RouteChangeReasonNoSuitableRouteForCategory},
		{8, RouteChangeReasonRouteConfigurationChange},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, DecodeRouteChangeReason(c.raw), "raw %d", c.raw)
	}
}

func TestDecodeRouteChangeReasonFutureValues(t *testing.T) {
	// values the platform may grow later must decode instead of being dropped
	assert.Equal(t, RouteChangeReasonUnrecognized, DecodeRouteChangeReason(5))
	assert.Equal(t, RouteChangeReasonUnrecognized, DecodeRouteChangeReason(99))
	assert.Equal(t, RouteChangeReasonUnrecognized, DecodeRouteChangeReason(-1))
}

func TestDecodeInterruptionType(t *testing.T) {
	assert.Equal(t, InterruptionBegan, DecodeInterruptionType(1))
	assert.Equal(t, InterruptionEnded, DecodeInterruptionType(0))
}

func TestDecodeSilenceHintType(t *testing.T) {
	assert.Equal(t, SilenceHintBegin, DecodeSilenceHintType(1))
	assert.Equal(t, SilenceHintEnd, DecodeSilenceHintType(0))
}

func TestRouteChangeReasonStrings(t *testing.T) {
	assert.Equal(t, "override", RouteChangeReasonOverride.String())
	assert.Equal(t, "newDeviceAvailable", RouteChangeReasonNewDeviceAvailable.String())
	assert.Equal(t, "unrecognized", RouteChangeReasonUnrecognized.String())
}
