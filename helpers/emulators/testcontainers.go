package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"google.golang.org/api/option"
)

type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

type GCImageContainer struct {
	ImageContainer
	ProjectID string
}

// EmulatorConnectionInfo is what a test needs to reach a running emulator.
type EmulatorConnectionInfo struct {
	// EmulatorAddress is host:port, or a full URL for HTTP emulators.
	EmulatorAddress string
	// ClientOptions is set for Google Cloud emulators.
	ClientOptions []option.ClientOption
}

// startContainer starts req and terminates the container when the test ends.
// It returns host:port for the given container port.
func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err, "failed to start %s container", req.Image)

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Warn().Err(err).Str("image", req.Image).Msg("Failed to terminate emulator container")
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return container, fmt.Sprintf("%s:%s", host, mapped.Port())
}
