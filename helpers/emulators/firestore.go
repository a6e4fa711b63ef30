package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testFirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testFirestoreEmulatorPort  = "8080"
)

func GetDefaultFirestoreConfig(projectID string) GCImageContainer {
	return GCImageContainer{
		ImageContainer: ImageContainer{
			EmulatorImage:    testFirestoreEmulatorImage,
			EmulatorGRPCPort: testFirestoreEmulatorPort,
		},
		ProjectID: projectID,
	}
}

// SetupFirestoreEmulator starts the Firestore emulator and sets
// FIRESTORE_EMULATOR_HOST for the test, which firestore.NewClient honours.
func SetupFirestoreEmulator(t *testing.T, ctx context.Context, cfg GCImageContainer) EmulatorConnectionInfo {
	t.Helper()
	port := fmt.Sprintf("%s/tcp", cfg.EmulatorGRPCPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{port},
		Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", fmt.Sprintf("--project=%s", cfg.ProjectID), fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorGRPCPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(port)),
	}
	_, emulatorHost := startContainer(t, ctx, req, port)
	t.Logf("Firestore emulator container started, listening on: %s", emulatorHost)
	t.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)

	return EmulatorConnectionInfo{
		EmulatorAddress: emulatorHost,
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(emulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		},
	}
}
