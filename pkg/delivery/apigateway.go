// Package delivery pushes transcript text to subscriber connections held
// open by an API Gateway websocket stage.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"github.com/telescribe/telescribe/pkg/errorsx"
)

// ErrNotBound is returned when no management endpoint is known yet. The
// endpoint is learned from the first proxied request's domain and stage
// when not configured up front.
var ErrNotBound = errors.New("delivery endpoint not bound")

type Config struct {
	// Endpoint is the management API base URL. Leave empty to bind lazily
	// from request metadata via Bind.
	Endpoint string
	Logger   *slog.Logger
}

// APIGateway delivers text frames through the Amazon API Gateway
// management API. It implements both the broadcast deliverer and the
// session terminator contracts.
type APIGateway struct {
	awsCfg aws.Config
	logger *slog.Logger

	mu       sync.Mutex
	endpoint string
	client   *apigatewaymanagementapi.Client
}

func NewAPIGateway(ctx context.Context, cfg Config) (*APIGateway, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	g := &APIGateway{
		awsCfg: awsCfg,
		logger: cfg.Logger,
	}
	if cfg.Endpoint != "" {
		g.BindEndpoint(cfg.Endpoint)
	}
	return g, nil
}

// Bind derives the management endpoint from a proxied request's domain
// name and stage.
func (g *APIGateway) Bind(domainName, stage string) {
	if domainName == "" || stage == "" {
		return
	}
	g.BindEndpoint("https://" + domainName + "/" + stage)
}

// BindEndpoint points the client at a management API base URL. Rebinding
// to the same endpoint is a no-op.
func (g *APIGateway) BindEndpoint(endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if endpoint == "" || endpoint == g.endpoint {
		return
	}
	g.endpoint = endpoint
	g.client = apigatewaymanagementapi.NewFromConfig(g.awsCfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	g.logger.Info("delivery endpoint bound", slog.String("endpoint", endpoint))
}

// Endpoint returns the currently bound management endpoint, if any.
func (g *APIGateway) Endpoint() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoint
}

func (g *APIGateway) clientRef() *apigatewaymanagementapi.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// Deliver posts one text frame to a connection.
func (g *APIGateway) Deliver(ctx context.Context, connectionID, text string) error {
	client := g.clientRef()
	if client == nil {
		return errorsx.Wrap(ErrNotBound, errorsx.ReasonDeliverySend)
	}
	_, err := client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         []byte(text),
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDeliverySend)
	}
	return nil
}

// Kill closes a connection from the server side.
func (g *APIGateway) Kill(ctx context.Context, connectionID string) error {
	client := g.clientRef()
	if client == nil {
		return errorsx.Wrap(ErrNotBound, errorsx.ReasonDeliveryKill)
	}
	_, err := client.DeleteConnection(ctx, &apigatewaymanagementapi.DeleteConnectionInput{
		ConnectionId: aws.String(connectionID),
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDeliveryKill)
	}
	return nil
}

// IsGone reports whether a delivery error means the connection no longer
// exists, so the caller can drop it from the router.
func IsGone(err error) bool {
	var gone *types.GoneException
	return errors.As(err, &gone)
}
