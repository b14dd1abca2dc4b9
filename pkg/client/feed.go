package client

import (
	"context"

	"go.uber.org/zap"
)

// DefaultDatasetURL is the Madrid open data real-time air quality file.
const DefaultDatasetURL = "https://datos.madrid.es/egob/catalogo/212531-7916318-calidad-aire-tiempo-real.txt"

// FeedClient downloads the real-time air quality dataset.
type FeedClient struct {
	*BaseClient
	url string
}

func NewFeedClient(base *BaseClient, url string) *FeedClient {
	if url == "" {
		url = DefaultDatasetURL
	}
	return &FeedClient{
		BaseClient: base,
		url:        url,
	}
}

func (c *FeedClient) URL() string {
	return c.url
}

// Fetch returns the raw dataset payload.
func (c *FeedClient) Fetch(ctx context.Context) ([]byte, error) {
	data, err := c.Get(ctx, c.url)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Dataset downloaded",
		zap.String("url", c.url),
		zap.Int("bytes", len(data)))

	return data, nil
}
