package audiosession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFeedEventMediaServicesReset(t *testing.T) {
	n, err := decodeFeedEvent([]byte(`{"kind":"media_services_reset"}`))
	require.NoError(t, err)
	assert.Equal(t, NotificationMediaServicesReset, n.Kind)
}

func TestDecodeFeedEventInterruption(t *testing.T) {
	n, err := decodeFeedEvent([]byte(`{"kind":"interruption","type":1}`))
	require.NoError(t, err)
	assert.Equal(t, NotificationInterruption, n.Kind)
	assert.Equal(t, InterruptionBegan, n.Interruption)

	n, err = decodeFeedEvent([]byte(`{"kind":"interruption","type":0,"should_resume":true}`))
	require.NoError(t, err)
	assert.Equal(t, InterruptionEnded, n.Interruption)
	assert.True(t, n.ShouldResume)
}

func TestDecodeFeedEventRouteChange(t *testing.T) {
	n, err := decodeFeedEvent([]byte(`{"kind":"route_change","reason":4}`))
	require.NoError(t, err)
	assert.Equal(t, NotificationRouteChange, n.Kind)
	assert.Equal(t, RouteChangeReasonOverride, n.RouteReason)

	// future reason codes survive decoding
	n, err = decodeFeedEvent([]byte(`{"kind":"route_change","reason":42}`))
	require.NoError(t, err)
	assert.Equal(t, RouteChangeReasonUnrecognized, n.RouteReason)
}

func TestDecodeFeedEventSilenceHint(t *testing.T) {
	n, err := decodeFeedEvent([]byte(`{"kind":"silence_secondary_audio_hint","type":1}`))
	require.NoError(t, err)
	assert.Equal(t, NotificationSilenceSecondaryAudioHint, n.Kind)
	assert.Equal(t, SilenceHintBegin, n.SilenceHint)
}

func TestDecodeFeedEventRejectsUnknownKind(t *testing.T) {
	_, err := decodeFeedEvent([]byte(`{"kind":"volume_change"}`))
	assert.Error(t, err)
}

func TestDecodeFeedEventRejectsMalformedJSON(t *testing.T) {
	_, err := decodeFeedEvent([]byte(`{"kind":`))
	assert.Error(t, err)
}

func TestNewNotificationFeedRequiresURL(t *testing.T) {
	_, err := NewNotificationFeed(testLogger(t), "   ")
	assert.Error(t, err)
}
