package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

func pushMetrics(ctx context.Context, url string, g prometheus.Gatherer) error {
	if err := push.New(url, "sdtom").Gatherer(g).AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
