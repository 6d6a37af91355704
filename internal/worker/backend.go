package worker

import (
	"fmt"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/httpclient"
)

// NewEndpointClient builds the REST client for a backend configuration
// section. auth turns the configured token into a request option.
func NewEndpointClient(
	name string,
	e *config.EndpointConfig,
	auth func(token string) httpclient.Option,
	opts ...httpclient.Option,
) (httpclient.Client, error) {
	if e == nil || e.Endpoint == "" {
		return nil, fmt.Errorf("%s: endpoint is not configured", name)
	}
	token, err := e.GetToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	all := []httpclient.Option{httpclient.WithTimeout(e.GetTimeout())}
	if auth != nil {
		all = append(all, auth(token))
	}
	all = append(all, opts...)
	return httpclient.NewDefaultClient(e.Endpoint, all...), nil
}
