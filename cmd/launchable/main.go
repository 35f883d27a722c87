package main

import (
	"errors"
	"log"
	"strings"

	"github.com/dan-v/launchable/internal"
	"github.com/dan-v/launchable/internal/templates"
	"github.com/dan-v/launchable/pkg/shared"
)

func main() {
	if err := executeCliCommand(); err != nil {
		log.Fatalf("%s", failureMessage(err))
	}
}

// failureMessage pairs the error with an operator hint for its class
func failureMessage(err error) string {
	errMsg := err.Error()

	switch {
	case errors.Is(err, shared.ErrPortInUse):
		return "❌ Local port error: " + errMsg + "\n\n💡 Pick another port with --port, or stop the process holding it"
	case errors.Is(err, internal.ErrConnect) || strings.Contains(errMsg, "unable to authenticate") || strings.Contains(errMsg, "knownhosts"):
		return "❌ SSH error: " + errMsg + "\n\n🔧 Troubleshooting:\n" +
			"- Check that 'ssh <host>' works from this machine\n" +
			"- Load your key into ssh-agent or set remote.identity_file\n" +
			"- Add the host key to ~/.ssh/known_hosts"
	case errors.Is(err, templates.ErrMissingField) || errors.Is(err, templates.ErrUnknownTemplate):
		return "❌ Template error: " + errMsg + "\n\n💡 Compare your template overrides with 'launchable render --raw'"
	case strings.Contains(errMsg, "configuration"):
		return "❌ Configuration error: " + errMsg + "\n\n💡 Tip: Run 'launchable config init' to create a sample configuration file"
	case errors.Is(err, internal.ErrTimedOut):
		return "❌ Timeout: " + errMsg + "\n\n⚠️  The job may still be queued or running. Check with 'squeue -u $USER' on the cluster before launching again"
	case errors.Is(err, internal.ErrProtocol):
		return "❌ Remote protocol error: " + errMsg + "\n\n💡 The remote scripts did not print what was expected. Re-run with --verbose to see the raw session"
	case errors.Is(err, internal.ErrJobFailed):
		return "❌ Job failed: " + errMsg + "\n\n💡 The scheduler log is printed above"
	case errors.Is(err, internal.ErrTransportLost):
		return "❌ Connection lost: " + errMsg + "\n\n🔧 Check your network connection. A submitted job may still be running on the cluster"
	default:
		return "❌ Command failed: " + errMsg + "\n\n💡 For help, run: launchable --help"
	}
}
