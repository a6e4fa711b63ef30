package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testMosquittoImage = "eclipse-mosquitto:2.0"
	testMosquittoPort  = "1883"
)

// mosquittoConfig allows anonymous clients on the plain listener.
const mosquittoConfig = "listener 1883\nallow_anonymous true\n"

func GetDefaultMqttImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage:    testMosquittoImage,
		EmulatorHTTPPort: testMosquittoPort,
	}
}

// SetupMosquittoContainer starts a Mosquitto broker and returns its tcp:// URL.
func SetupMosquittoContainer(t *testing.T, ctx context.Context, cfg ImageContainer) EmulatorConnectionInfo {
	t.Helper()
	port := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{port},
		Cmd:          []string{"sh", "-c", fmt.Sprintf("printf '%s' > /mosquitto/config/mosquitto.conf && exec mosquitto -c /mosquitto/config/mosquitto.conf", mosquittoConfig)},
		WaitingFor:   wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
	}
	_, addr := startContainer(t, ctx, req, port)
	brokerURL := "tcp://" + addr
	t.Logf("Mosquitto container started, listening on: %s", brokerURL)
	return EmulatorConnectionInfo{EmulatorAddress: brokerURL}
}
