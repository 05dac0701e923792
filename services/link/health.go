package link

import (
	"context"
	"net/http"
	"sync"

	"affiliate-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober issues HEAD probes against link targets. A status in [200,400)
// counts as healthy; anything else, including no response at all, does not.
type Prober struct {
	client      *http.Client
	concurrency int
}

type ProberParams struct {
	fx.In
	Config *config.Config
}

func NewProber(p ProberParams) *Prober {
	timeout := p.Config.Affiliate.LinkHealthTimeout
	concurrency := p.Config.Affiliate.LinkHealthConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return &Prober{
		client:      &http.Client{Timeout: timeout},
		concurrency: concurrency,
	}
}

func (p *Prober) Check(ctx context.Context, url string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	return resp.StatusCode, resp.StatusCode >= 200 && resp.StatusCode < 400
}

// CheckAllLinksHealth probes every active link concurrently and returns the
// unhealthy subset.
func (s *Service) CheckAllLinksHealth(ctx context.Context) ([]HealthResult, error) {
	links, err := s.link.Find(ctx, &Link{Status: LinkStatusActive})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	unhealthy := make([]HealthResult, 0)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.prober.concurrency)

	for _, l := range links {
		l := l
		g.Go(func() error {
			status, healthy := s.prober.Check(ctx, l.OriginalURL)
			if healthy {
				return nil
			}

			result := HealthResult{
				LinkID:     l.ID,
				ShortCode:  l.ShortCode,
				URL:        l.OriginalURL,
				StatusCode: status,
				Healthy:    false,
			}
			if status == 0 {
				result.Error = "no response"
			}

			mu.Lock()
			unhealthy = append(unhealthy, result)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(unhealthy) > 0 {
		zap.L().Warn("unhealthy links detected", zap.Int("count", len(unhealthy)))
	}

	return unhealthy, nil
}
