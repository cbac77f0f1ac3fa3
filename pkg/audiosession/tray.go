package audiosession

import (
	"os"

	"github.com/getlantern/systray"

	"github.com/soundwire/audiosession/pkg/audiosession/util"
)

func (a *App) initializeTray(onDone func()) {
	logger := a.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTitle("Audio Session")
		systray.SetTooltip("Audio session arbiter")

		activate := systray.AddMenuItem("Activate session", "Claim the audio output channel")
		deactivate := systray.AddMenuItem("Deactivate session", "Release the audio output channel")
		speakerOverride := systray.AddMenuItem("Toggle speaker override", "Force output to the built-in speaker, or stop forcing it")

		systray.AddSeparator()
		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with a text editor")

		if a.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(a.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop the session arbiter and quit")

		// wait on things to happen
		go func() {
			for {
				select {

				// quit
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					a.signalStop()

				// activate
				case <-activate.ClickedCh:
					logger.Info("Activate menu item clicked")

					if !a.session.Activate(false) {
						logger.Warnw("Session activation refused or failed", "activationError", a.session.ActivationError())
					}

				// deactivate
				case <-deactivate.ClickedCh:
					logger.Info("Deactivate menu item clicked")

					if !a.session.Deactivate(false) {
						logger.Warn("Session deactivation refused or failed")
					}

				// toggle speaker override
				case <-speakerOverride.ClickedCh:
					logger.Info("Speaker override menu item clicked")

					override := PortOverrideSpeaker
					if a.session.IsInSpeakerMode() {
						override = PortOverrideNone
					}

					if !a.session.OverrideOutputAudioPort(override, false) {
						logger.Warnw("Output port override refused or failed", "override", override.String())
					}

				// edit config
				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					editor := "notepad.exe"
					if util.Linux() {
						if editorEnv := os.Getenv("EDITOR"); editorEnv != "" {
							editor = editorEnv
						} else {
							// xdg-open will open with default text editor
							editor = "xdg-open"
						}
					}

					if err := util.OpenExternal(logger, editor, userConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}
				}
			}
		}()

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (a *App) stopTray() {
	a.logger.Debug("Quitting tray")
	systray.Quit()
}
