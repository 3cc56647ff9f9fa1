package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/services/statusquery"

	"github.com/go-resty/resty/v2"
)

// apiClient speaks statuswatchd's JSON surface.
type apiClient struct {
	http *resty.Client
}

func newApiClient(baseUrl, token string) *apiClient {
	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetTimeout(time.Second * 30)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &apiClient{http: client}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	var remote apiError
	req.SetError(&remote)

	res, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if res.IsError() {
		if remote.Error != "" {
			return fmt.Errorf("%s: %s", res.Status(), remote.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, res.Status())
	}
	return nil
}

func (c *apiClient) Submit(ctx context.Context, identifier string) (statusquery.Query, error) {
	var q statusquery.Query
	err := c.do(ctx, resty.MethodPost, "/v1/queries", map[string]string{
		"identifier": identifier,
	}, &q)
	return q, err
}

func (c *apiClient) Poll(ctx context.Context, id string) (statusquery.Query, error) {
	var q statusquery.Query
	err := c.do(ctx, resty.MethodGet, "/v1/queries/"+id, nil, &q)
	return q, err
}

func (c *apiClient) Cancel(ctx context.Context, id string) (statusquery.Query, error) {
	var q statusquery.Query
	err := c.do(ctx, resty.MethodDelete, "/v1/queries/"+id, nil, &q)
	return q, err
}

// Await submits the identifier and polls until the query is terminal
// or ctx is done.
func (c *apiClient) Await(ctx context.Context, identifier string) (statusquery.Query, error) {
	q, err := c.Submit(ctx, identifier)
	if err != nil {
		return statusquery.Query{}, err
	}
	ticker := time.NewTicker(time.Second * 2)
	defer ticker.Stop()
	for {
		if q.Terminal() {
			return q, nil
		}
		select {
		case <-ctx.Done():
			return q, ctx.Err()
		case <-ticker.C:
		}
		q, err = c.Poll(ctx, q.Id)
		if err != nil {
			return statusquery.Query{}, err
		}
	}
}

func (c *apiClient) History(ctx context.Context, limit int) ([]statusquery.HistoryEntry, error) {
	var entries []statusquery.HistoryEntry
	err := c.do(ctx, resty.MethodGet, "/v1/history?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}

func (c *apiClient) SessionStatus(ctx context.Context) (vantage.SessionStatus, error) {
	var status vantage.SessionStatus
	err := c.do(ctx, resty.MethodGet, "/v1/session", nil, &status)
	return status, err
}

func (c *apiClient) SessionReset(ctx context.Context) (vantage.SessionStatus, error) {
	var status vantage.SessionStatus
	err := c.do(ctx, resty.MethodPost, "/v1/session/reset", nil, &status)
	return status, err
}

func (c *apiClient) ResolveChallenge(ctx context.Context, id, value string) (vantage.SessionStatus, error) {
	var status vantage.SessionStatus
	err := c.do(ctx, resty.MethodPost, "/v1/challenges/"+id+"/resolution", map[string]string{
		"value": value,
	}, &status)
	return status, err
}
