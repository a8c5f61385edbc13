package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultHermesEndpoint = "https://hermes.pyth.network"

// HermesSource fetches parsed price updates from a Hermes price service.
type HermesSource struct {
	client   HTTPDoer
	endpoint string
}

// NewHermesSource constructs a Hermes adapter. When the client is nil
// http.DefaultClient is used.
func NewHermesSource(client HTTPDoer, endpoint string) *HermesSource {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		ep = defaultHermesEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HermesSource{client: client, endpoint: ep}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesResponse struct {
	Parsed []struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"parsed"`
}

// Latest implements Source.
func (h *HermesSource) Latest(ctx context.Context, feed FeedID) (PriceUpdate, error) {
	if h == nil {
		return PriceUpdate{}, fmt.Errorf("hermes source not configured")
	}
	values := url.Values{}
	values.Add("ids[]", hex.EncodeToString(feed[:]))
	values.Set("parsed", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/v2/updates/price/latest?"+values.Encode(), nil)
	if err != nil {
		return PriceUpdate{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return PriceUpdate{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceUpdate{}, fmt.Errorf("hermes: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceUpdate{}, fmt.Errorf("hermes: decode: %w", err)
	}
	if len(payload.Parsed) == 0 {
		return PriceUpdate{}, ErrNoUpdate
	}
	entry := payload.Parsed[0]
	id, err := FeedIDFromHex(entry.ID)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("hermes: %w", err)
	}
	price, err := strconv.ParseInt(strings.TrimSpace(entry.Price.Price), 10, 64)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("hermes: invalid price %q", entry.Price.Price)
	}
	var conf uint64
	if c := strings.TrimSpace(entry.Price.Conf); c != "" {
		conf, err = strconv.ParseUint(c, 10, 64)
		if err != nil {
			return PriceUpdate{}, fmt.Errorf("hermes: invalid conf %q", entry.Price.Conf)
		}
	}
	return PriceUpdate{
		FeedID: id,
		Price: Price{
			Price:       price,
			Conf:        conf,
			Expo:        entry.Price.Expo,
			PublishTime: entry.Price.PublishTime,
		},
	}, nil
}
