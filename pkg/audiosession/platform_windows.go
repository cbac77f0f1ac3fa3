package audiosession

import (
	"fmt"
	"os"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"github.com/lxn/win"
	ps "github.com/mitchellh/go-ps"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

// wcaPlatformSession implements PlatformSession against the Windows Core
// Audio APIs. Windows sessions are always shared-mode here, so SetCategory
// only records intent; the other-audio query enumerates audio sessions on the
// default render endpoint.
type wcaPlatformSession struct {
	logger *zap.SugaredLogger
}

// NewPlatformSession initializes COM and returns the platform backend for
// this machine.
func NewPlatformSession(logger *zap.SugaredLogger) (PlatformSession, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		logger.Warnw("Failed to initialize COM", "error", err)
		return nil, fmt.Errorf("initialize COM: %w", err)
	}

	w := &wcaPlatformSession{
		logger: logger.Named("platform"),
	}

	w.logger.Debug("Created WCA platform session instance")

	return w, nil
}

// SetCategory has no Windows counterpart - shared-mode rendering always
// mixes. Logged so reconfiguration remains visible in diagnostics.
func (w *wcaPlatformSession) SetCategory(cfg SessionConfig) error {
	w.logger.Debugw("Applied session category", "mixWithOthers", cfg.MixWithOthers)
	return nil
}

// SetActive verifies the default render endpoint is present and active.
func (w *wcaPlatformSession) SetActive(active bool) error {
	device, enumerator, err := w.defaultRenderEndpoint()
	if err != nil {
		return err
	}
	defer enumerator.Release()
	defer device.Release()

	var state uint32
	if err := device.GetState(&state); err != nil {
		w.logger.Warnw("Failed to get endpoint state", "error", err)
		return fmt.Errorf("get endpoint state: %w", err)
	}

	if state != wca.DEVICE_STATE_ACTIVE {
		return &PlatformError{Code: int(state), Description: "default render endpoint not active"}
	}

	w.logger.Debugw("Verified default render endpoint active", "active", active)

	return nil
}

// OverrideOutputPort is unsupported on Windows: retargeting the default
// endpoint requires the undocumented IPolicyConfig interface.
func (w *wcaPlatformSession) OverrideOutputPort(override PortOverride) error {
	return &PlatformError{Description: fmt.Sprintf("output port override to %s not supported on this platform", override)}
}

// OutputPortType reports the default render endpoint's friendly name, e.g.
// "Headphones (Realtek Audio)".
func (w *wcaPlatformSession) OutputPortType() (string, error) {
	device, enumerator, err := w.defaultRenderEndpoint()
	if err != nil {
		return "", err
	}
	defer enumerator.Release()
	defer device.Release()

	var propertyStore *wca.IPropertyStore
	if err := device.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		w.logger.Warnw("Failed to open endpoint property store", "error", err)
		return "", fmt.Errorf("open endpoint property store: %w", err)
	}
	defer propertyStore.Release()

	var pv wca.PROPVARIANT
	if err := propertyStore.GetValue(&wca.PKEY_Device_FriendlyName, &pv); err != nil {
		w.logger.Warnw("Failed to get endpoint friendly name", "error", err)
		return "", fmt.Errorf("get endpoint friendly name: %w", err)
	}

	return pv.String(), nil
}

// IsOtherAudioPlaying enumerates audio sessions on the default render
// endpoint and reports whether any foreign process has an active one.
func (w *wcaPlatformSession) IsOtherAudioPlaying() bool {
	device, enumerator, err := w.defaultRenderEndpoint()
	if err != nil {
		return false
	}
	defer enumerator.Release()
	defer device.Release()

	var sessionManager *wca.IAudioSessionManager2
	if err := device.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &sessionManager); err != nil {
		w.logger.Warnw("Failed to activate session manager", "error", err)
		return false
	}
	defer sessionManager.Release()

	var sessionEnumerator *wca.IAudioSessionEnumerator
	if err := sessionManager.GetSessionEnumerator(&sessionEnumerator); err != nil {
		w.logger.Warnw("Failed to get session enumerator", "error", err)
		return false
	}
	defer sessionEnumerator.Release()

	var sessionCount int
	if err := sessionEnumerator.GetCount(&sessionCount); err != nil {
		w.logger.Warnw("Failed to get session count", "error", err)
		return false
	}

	ownPID := uint32(os.Getpid())

	for i := 0; i < sessionCount; i++ {
		var control *wca.IAudioSessionControl
		if err := sessionEnumerator.GetSession(i, &control); err != nil {
			w.logger.Warnw("Failed to get session control", "error", err, "index", i)
			continue
		}

		dispatch, err := control.QueryInterface(wca.IID_IAudioSessionControl2)
		control.Release()
		if err != nil {
			continue
		}

		control2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))

		var state uint32
		if err := control2.GetState(&state); err != nil || state != wca.AudioSessionStateActive {
			control2.Release()
			continue
		}

		var pid uint32
		if err := control2.GetProcessId(&pid); err != nil {
			control2.Release()
			continue
		}
		control2.Release()

		// pid 0 is the system sounds session
		if pid != 0 && pid != ownPID {
			return true
		}
	}

	return false
}

// Release uninitializes COM.
func (w *wcaPlatformSession) Release() error {
	ole.CoUninitialize()
	w.logger.Debug("Released WCA platform session instance")
	return nil
}

func (w *wcaPlatformSession) defaultRenderEndpoint() (*wca.IMMDevice, *wca.IMMDeviceEnumerator, error) {
	var deviceEnumerator *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &deviceEnumerator); err != nil {
		w.logger.Warnw("Failed to create device enumerator", "error", err)
		return nil, nil, fmt.Errorf("create device enumerator: %w", err)
	}

	var device *wca.IMMDevice
	if err := deviceEnumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &device); err != nil {
		deviceEnumerator.Release()
		w.logger.Warnw("Failed to get default render endpoint", "error", err)
		return nil, nil, fmt.Errorf("get default render endpoint: %w", err)
	}

	return device, deviceEnumerator, nil
}

// winAppState answers the foreground query by checking whether the current
// foreground window belongs to this process (or a direct child of it).
type winAppState struct {
	logger *zap.SugaredLogger
}

// NewAppStateProvider returns the foreground query for this platform.
func NewAppStateProvider(logger *zap.SugaredLogger) AppStateProvider {
	return &winAppState{logger: logger.Named("appstate")}
}

func (s *winAppState) IsForeground() bool {
	hwnd := win.GetForegroundWindow()
	if hwnd == 0 {
		return false
	}

	var pid uint32
	win.GetWindowThreadProcessId(hwnd, &pid)

	ownPID := os.Getpid()
	if int(pid) == ownPID {
		return true
	}

	process, err := ps.FindProcess(int(pid))
	if err != nil || process == nil {
		s.logger.Debugw("Failed to find foreground window process", "pid", pid, "error", err)
		return false
	}

	return process.PPid() == ownPID
}
