package tunnel

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// ErrUnknownProvider is returned by Start for an unrecognized relay.
var ErrUnknownProvider = errors.New("tunnel: unknown provider")

// LocalPort is the local listener every relay forwards to.
const LocalPort = 3000

// Command returns the argv that opens a tunnel through provider.
func Command(provider model.Provider) ([]string, error) {
	forward := fmt.Sprintf("80:localhost:%d", LocalPort)
	switch provider {
	case model.ProviderServeo:
		return []string{"ssh", "-R", forward, "serveo.net"}, nil
	case model.ProviderLocalhostRun:
		return []string{"ssh", "-R", forward, "nokey@localhost.run"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, string(provider))
	}
}

// DisplayName is the human name used in activity messages.
func DisplayName(provider model.Provider) string {
	switch provider {
	case model.ProviderServeo:
		return "Serveo.net"
	case model.ProviderLocalhostRun:
		return "localhost.run"
	default:
		return string(provider)
	}
}
