package timeline

//go:generate mockgen -source=client.go -package=timeline -destination=client_mock.go

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

const timelinePath = "ws/v1/timeline/"

// Transport-level tries per request. Recovery policy is owned by the posting
// worker's retry loop, so this stays low.
const defaultHTTPTries = 2

// Client is the capability set the history service needs from a timeline
// server. PutEntities/PutGroupedEntities return the decoded server response
// when the HTTP exchange succeeded; a non-nil error means the put never took
// effect and may be retried.
type Client interface {
	PutDomain(ctx context.Context, domain *Domain) error
	PutEntities(ctx context.Context, entities ...*Entity) (*PutResponse, error)
	PutGroupedEntities(ctx context.Context, attemptID string, groupID string, entities ...*Entity) (*PutResponse, error)
	Stop()
}

// Flushable is implemented by clients that buffer writes.
type Flushable interface {
	Flush() error
}

// Doer is the subset of http client behavior we use, for injecting fakes.
type Doer interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

// MakePesterClient builds the retrying http client used for timeline puts.
func MakePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = defaultHTTPTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Warnf("Retrying after failed attempt: %+v", e)
	}
	return client
}

// MakeHTTPClient returns a Client posting JSON to the timeline REST API
// rooted at endpoint, e.g. "http://host:8188".
func MakeHTTPClient(endpoint string) Client {
	return MakeCustomHTTPClient(endpoint, MakePesterClient())
}

// MakeCustomHTTPClient is MakeHTTPClient with the transport made explicit.
func MakeCustomHTTPClient(endpoint string, doer Doer) Client {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint = endpoint + "/"
	}
	log.Infof("Making new timeline client with root URI: %s", endpoint+timelinePath)
	return &httpClient{rootURI: endpoint + timelinePath, client: doer}
}

type httpClient struct {
	rootURI string
	client  Doer
}

func (c *httpClient) PutDomain(ctx context.Context, domain *Domain) error {
	body, err := jsonAPI.Marshal(domain)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("PUT", c.rootURI+"domain", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	ioutil.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("put domain %s: status %d", domain.ID, resp.StatusCode)
	}
	return nil
}

func (c *httpClient) PutEntities(ctx context.Context, entities ...*Entity) (*PutResponse, error) {
	return c.put(ctx, c.rootURI, entities)
}

func (c *httpClient) PutGroupedEntities(ctx context.Context, attemptID string, groupID string, entities ...*Entity) (*PutResponse, error) {
	uri := c.rootURI
	q := url.Values{}
	if attemptID != "" {
		q.Set("appattemptid", attemptID)
	}
	if groupID != "" {
		q.Set("entitygroupid", groupID)
	}
	if enc := q.Encode(); enc != "" {
		uri = uri + "?" + enc
	}
	return c.put(ctx, uri, entities)
}

func (c *httpClient) put(ctx context.Context, uri string, entities []*Entity) (*PutResponse, error) {
	body, err := jsonAPI.Marshal(map[string]interface{}{"entities": entities})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("put entities: status %d: %s", resp.StatusCode, respBody)
	}
	putResp := &PutResponse{}
	if len(respBody) > 0 {
		if err := jsonAPI.Unmarshal(respBody, putResp); err != nil {
			return nil, errors.Wrap(err, "decoding put response")
		}
	}
	return putResp, nil
}

func (c *httpClient) Stop() {
	log.Debugf("Stopping timeline client for %s", c.rootURI)
}
