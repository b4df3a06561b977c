// Package metadata is a thin client for the static metadata API. The core
// only consumes route identifiers and transport modes from it, to resolve
// which topics to open; everything else about routes and stops belongs to the
// rendering side.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tracklive/tracklive/pkg/transit"
)

type Route struct {
	ID        string `json:"id"`
	ShortName string `json:"shortName"`
	Mode      string `json:"mode"`
}

type Client struct {
	BaseURL string

	httpClient *http.Client

	mutex  sync.Mutex
	routes map[string]Route
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,

		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Routes fetches the route list once and serves it from memory afterwards.
func (client *Client) Routes() (map[string]Route, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.routes != nil {
		return client.routes, nil
	}

	requestURL := fmt.Sprintf("%s/routes", client.BaseURL)

	response, err := client.httpClient.Get(requestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch routes: unexpected status %d", response.StatusCode)
	}

	jsonBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}

	var routes []Route
	if err := json.Unmarshal(jsonBytes, &routes); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}

	client.routes = map[string]Route{}
	for _, route := range routes {
		client.routes[route.ID] = route
	}

	log.Info().Int("routes", len(client.routes)).Msg("Loaded route metadata")

	return client.routes, nil
}

// ModeResolver returns a lookup suitable for the subscription manager's
// RouteModeResolver. Unknown routes resolve to the wildcard mode.
func (client *Client) ModeResolver() func(routeID string) transit.TransportType {
	return func(routeID string) transit.TransportType {
		routes, err := client.Routes()
		if err != nil {
			log.Warn().Err(err).Msg("Route metadata unavailable, using wildcard mode")
			return transit.TransportTypeUnknown
		}

		route, ok := routes[routeID]
		if !ok {
			return transit.TransportTypeUnknown
		}

		return transit.TransportTypeFromTopic(route.Mode)
	}
}
