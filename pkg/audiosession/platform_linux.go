package audiosession

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/jfreymuth/pulse/proto"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// paPlatformSession implements PlatformSession against a PulseAudio server.
// The session "claim" maps onto the client connection: configuration is
// expressed through client properties, and the speaker override retargets the
// default sink to a speaker-class device.
type paPlatformSession struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn

	// sink name the default pointed at before a speaker override, so the
	// override can be undone
	previousDefaultSink string
}

// speaker-class values of the PulseAudio device.form_factor property
var speakerFormFactors = []string{"speaker", "internal"}

// NewPlatformSession establishes a PulseAudio connection and returns the
// platform backend for this machine.
func NewPlatformSession(logger *zap.SugaredLogger) (PlatformSession, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("audiosession"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("set client name: %w", err)
	}

	ps := &paPlatformSession{
		logger: logger.Named("platform"),
		client: client,
		conn:   conn,
	}

	ps.logger.Debug("Created PA platform session instance")

	return ps, nil
}

// SetCategory expresses the session configuration through client properties.
// PulseAudio mixes by default, so exclusivity is advisory: the media.role
// property lets the server's policy modules duck or cork us appropriately.
func (ps *paPlatformSession) SetCategory(cfg SessionConfig) error {
	role := "music"
	if !cfg.MixWithOthers {
		role = "phone"
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("audiosession"),
			"media.role":       proto.PropListString(role),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := ps.client.Request(&request, &reply); err != nil {
		ps.logger.Warnw("Failed to update client properties", "error", err)
		return fmt.Errorf("set client properties: %w", err)
	}

	ps.logger.Debugw("Applied session category", "mediaRole", role)

	return nil
}

// SetActive verifies the server and the default sink are reachable. PulseAudio
// has no exclusive claim to take or release, so activation is a liveness
// round-trip that fails when the output channel is actually unavailable.
func (ps *paPlatformSession) SetActive(active bool) error {
	request := proto.GetSinkInfo{
		SinkIndex: proto.Undefined,
	}
	reply := proto.GetSinkInfoReply{}

	if err := ps.client.Request(&request, &reply); err != nil {
		ps.logger.Warnw("Failed to reach default sink", "error", err, "active", active)
		return fmt.Errorf("get default sink info: %w", err)
	}

	ps.logger.Debugw("Verified default sink reachable", "sink", reply.SinkName, "active", active)

	return nil
}

// OverrideOutputPort retargets the default sink at a speaker-class device, or
// restores the previously-default sink.
func (ps *paPlatformSession) OverrideOutputPort(override PortOverride) error {
	switch override {
	case PortOverrideSpeaker:
		return ps.overrideToSpeaker()
	case PortOverrideNone:
		return ps.restoreDefaultSink()
	}

	return &PlatformError{Code: int(override), Description: "unsupported port override"}
}

func (ps *paPlatformSession) overrideToSpeaker() error {
	current, err := ps.defaultSinkInfo()
	if err != nil {
		return err
	}

	sinkRequest := proto.GetSinkInfoList{}
	sinkReply := proto.GetSinkInfoListReply{}

	if err := ps.client.Request(&sinkRequest, &sinkReply); err != nil {
		return fmt.Errorf("get sink list: %w", err)
	}

	for _, sink := range sinkReply {
		if sink == nil {
			continue
		}

		if !funk.ContainsString(speakerFormFactors, sinkFormFactor(sink.Properties)) {
			continue
		}

		request := proto.SetDefaultSink{SinkName: sink.SinkName}
		if err := ps.client.Request(&request, nil); err != nil {
			return fmt.Errorf("set default sink to %s: %w", sink.SinkName, err)
		}

		ps.previousDefaultSink = current.SinkName
		ps.logger.Debugw("Retargeted default sink to speaker", "sink", sink.SinkName)

		return nil
	}

	return &PlatformError{Description: "no speaker-class sink available"}
}

func (ps *paPlatformSession) restoreDefaultSink() error {
	if ps.previousDefaultSink == "" {
		ps.logger.Debug("No previous default sink recorded, nothing to restore")
		return nil
	}

	request := proto.SetDefaultSink{SinkName: ps.previousDefaultSink}
	if err := ps.client.Request(&request, nil); err != nil {
		return fmt.Errorf("restore default sink to %s: %w", ps.previousDefaultSink, err)
	}

	ps.logger.Debugw("Restored default sink", "sink", ps.previousDefaultSink)
	ps.previousDefaultSink = ""

	return nil
}

// OutputPortType reports the default sink's form factor.
func (ps *paPlatformSession) OutputPortType() (string, error) {
	reply, err := ps.defaultSinkInfo()
	if err != nil {
		return "", err
	}

	if ff := sinkFormFactor(reply.Properties); ff != "" {
		return ff, nil
	}

	return "unknown", nil
}

// IsOtherAudioPlaying reports whether any sink input belongs to a process
// other than ours.
func (ps *paPlatformSession) IsOtherAudioPlaying() bool {
	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := ps.client.Request(&request, &reply); err != nil {
		ps.logger.Warnw("Failed to get sink input list", "error", err)
		return false
	}

	ownPID := strconv.Itoa(os.Getpid())

	for _, info := range reply {
		if info == nil {
			continue
		}

		pidProp, ok := info.Properties["application.process.id"]
		if !ok {
			// can't attribute this stream, assume it's foreign
			return true
		}

		if pidProp.String() != ownPID {
			return true
		}
	}

	return false
}

// Release closes the PulseAudio connection.
func (ps *paPlatformSession) Release() error {
	if err := ps.conn.Close(); err != nil {
		ps.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	ps.logger.Debug("Released PA platform session instance")

	return nil
}

func (ps *paPlatformSession) defaultSinkInfo() (*proto.GetSinkInfoReply, error) {
	request := proto.GetSinkInfo{
		SinkIndex: proto.Undefined,
	}
	reply := proto.GetSinkInfoReply{}

	if err := ps.client.Request(&request, &reply); err != nil {
		ps.logger.Warnw("Failed to get default sink info", "error", err)
		return nil, fmt.Errorf("get default sink info: %w", err)
	}

	return &reply, nil
}

func sinkFormFactor(props proto.PropList) string {
	if props == nil {
		return ""
	}

	if prop, ok := props["device.form_factor"]; ok {
		return prop.String()
	}

	return ""
}

// NewAppStateProvider returns the foreground query for this platform. There
// is no portable foreground notion for a Linux daemon, so the session is
// always considered foregrounded here.
func NewAppStateProvider(logger *zap.SugaredLogger) AppStateProvider {
	logger.Named("appstate").Debug("No foreground query on this platform, assuming foregrounded")
	return alwaysForeground{}
}
