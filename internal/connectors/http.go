// Package connectors: исходящий сетевой вызов релея.
package connectors

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// maxRedirects: столько же, сколько у http.Client по умолчанию.
const maxRedirects = 10

// Fetcher выполняет собранный запрос как есть.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HostPolicy решает, можно ли идти на хост, куда ведет редирект.
type HostPolicy func(host string) bool

type hostPolicyKey struct{}

// WithHostPolicy ограничивает редиректы запроса хостами, которые разрешает allow.
func WithHostPolicy(ctx context.Context, allow HostPolicy) context.Context {
	return context.WithValue(ctx, hostPolicyKey{}, allow)
}

// HTTPConnector ходит в сеть через транспорт cleanhttp без keep-alive: соединения не переиспользуются.
type HTTPConnector struct {
	client *http.Client
}

func NewHTTPConnector(timeout time.Duration) *HTTPConnector {
	return &HTTPConnector{
		client: &http.Client{
			Transport:     cleanhttp.DefaultTransport(),
			Timeout:       timeout,
			CheckRedirect: checkRedirect,
		},
	}
}

func (c *HTTPConnector) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(ctx))
}

// checkRedirect не уводит запрос на хост вне политики: странице вернется сам 3xx.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}
	if allow, ok := req.Context().Value(hostPolicyKey{}).(HostPolicy); ok {
		if !allow(strings.ToLower(req.URL.Hostname())) {
			return http.ErrUseLastResponse
		}
	}
	return nil
}
