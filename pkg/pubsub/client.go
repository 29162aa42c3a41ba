package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/backoffice-relay/pkg/config"
	"github.com/angelmondragon/backoffice-relay/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Message is one outbox event on the wire. With ordering enabled, messages
// sharing an OrderingKey are delivered to subscribers in publish order.
type Message struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// Client publishes relay events to a single topic.
type Client struct {
	client   *pubsub.Client
	topic    string
	ordering bool

	once      sync.Once
	publisher *pubsub.Publisher
}

// NewClient connects to Pub/Sub, or to the emulator when EmulatorHost is
// set, and checks that the topic exists unless VerifyTopic is off.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp, cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:   psClient,
		topic:    TopicResourceName(gcp.ProjectID, cfg.Topic),
		ordering: cfg.OrderByTenant,
	}
	if cfg.VerifyTopic {
		if err := c.Ping(ctx); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"topic":    c.topic,
			"ordering": c.ordering,
			"emulator": cfg.EmulatorHost != "",
		}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig, cfg config.PubSubConfig) []option.ClientOption {
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		return []option.ClientOption{
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}
	}
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return nil
}

// Ordering reports whether publishes carry ordering keys.
func (c *Client) Ordering() bool {
	return c != nil && c.ordering
}

// Publish sends one message and waits for the server id. Errors keep their
// gRPC status so callers can classify them. After a failed ordered publish
// the key is resumed so the retry is not rejected outright.
func (c *Client) Publish(ctx context.Context, msg Message) (string, error) {
	if c == nil || c.client == nil {
		return "", errNotInitialized
	}
	c.once.Do(func() {
		pub := c.client.Publisher(c.topic)
		pub.EnableMessageOrdering = c.ordering
		// every delivery waits on its own result, so batching only adds latency
		pub.PublishSettings.CountThreshold = 1
		c.publisher = pub
	})

	if !c.ordering {
		msg.OrderingKey = ""
	}
	result := c.publisher.Publish(ctx, &pubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.OrderingKey,
	})
	id, err := result.Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		c.publisher.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

func (c *Client) Topic() string {
	if c == nil {
		return ""
	}
	return c.topic
}

// Ping checks that the topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	default:
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
}

// Close flushes pending publishes and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

// TopicResourceName expands a topic id into projects/<p>/topics/<id>. Full
// resource names pass through.
func TopicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
