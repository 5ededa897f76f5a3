package tcnats

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NatsContainer represents a nats server with jetstream enabled
type NatsContainer struct {
	testcontainers.Container
	URL string
}

type NatsContainerOption func(req *testcontainers.ContainerRequest)

func WithImage(image string) NatsContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Image = image
	}
}

func WithName(containerName string) NatsContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Name = containerName
	}
}

// SetupNats starts a nats container and returns it along with its client url
func SetupNats(ctx context.Context, opts ...NatsContainerOption) (
	*NatsContainer, error,
) {
	port, err := nat.NewPort("tcp", "4222")
	if err != nil {
		return nil, err
	}
	req := testcontainers.ContainerRequest{
		Image:        "nats:2",
		Cmd:          []string{"-js"},
		ExposedPorts: []string{string(port)},
		WaitingFor: wait.ForLog("Server is ready").
			WithStartupTimeout(30 * time.Second),
	}
	for _, opt := range opts {
		opt(&req)
	}

	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	if err != nil {
		return nil, err
	}
	containerPort, err := container.MappedPort(ctx, port)
	if err != nil {
		return nil, err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	return &NatsContainer{
		Container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, containerPort.Port()),
	}, nil
}
