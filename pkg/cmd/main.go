package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/soundwire/audiosession/pkg/audiosession"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.Parse()
}

func main() {

	// first we need a logger
	logger, err := audiosession.NewLogger(verbose)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	// provide a fair warning if the user's running in verbose mode
	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	// create the app instance
	app, err := audiosession.NewApp(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create app object", "error", err)
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		app.SetVersion(fmt.Sprintf("Version %s-%s", buildType, identifier))
	}

	// onwards, to glory
	if err = app.Initialize(); err != nil {
		named.Fatalw("Failed to initialize app", "error", err)
		os.Exit(1)
	}
}
