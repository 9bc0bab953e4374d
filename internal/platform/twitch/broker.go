// Package twitch implements the credential broker for the GraphQL platform:
// it captures short-lived authentication artifacts from real browser
// traffic and issues authenticated persisted-query requests with them.
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"drops-miner-backend/internal/common/apperr"
	"drops-miner-backend/internal/platform/browser"
	"drops-miner-backend/internal/repository"
)

const (
	gqlHost         = "gql.twitch.tv"
	baseURL         = "https://www.twitch.tv"
	authCookieName  = "auth-token"
	headerClientID  = "Client-Id"
	headerIntegrity = "Client-Integrity"
	headerDeviceID  = "X-Device-Id"

	// Claiming uses a stable versioned mutation, not the resolution path.
	claimOperation = "DropsPage_ClaimDropRewards"
	claimHash      = "a455deea71bdc9015b78eb49f4acfbce8baa7ccbedd28e549bb025bd0f751930"

	maxRefreshAttempts  = 10
	refreshBackoffBase  = 2 * time.Second
	headerCaptureWindow = 30 * time.Second
	deviceCaptureWindow = 5 * time.Second

	hashResolveAttempts = 4
	hashCaptureWindow   = 15 * time.Second

	batchSize      = 20
	requestTimeout = 30 * time.Second
)

// Credentials is an ephemeral authentication snapshot. It is valid until a
// request authenticated with it is rejected, and is then replaced wholesale.
type Credentials struct {
	ClientID    string
	Integrity   string
	DeviceID    string
	AccessToken string
	CapturedAt  time.Time
}

// BatchRequest is one element of a batched query; responses are mapped back
// to ID by array position.
type BatchRequest struct {
	ID        string
	Variables map[string]interface{}
}

// Broker owns the credential snapshot for one platform account and executes
// authenticated GraphQL queries, transparently refreshing credentials when
// the platform rejects them.
type Broker struct {
	host       browser.Host
	httpClient *http.Client
	endpoint   string
	triggerURL string
	hashes     repository.HashCache // optional
	log        zerolog.Logger

	mu        sync.Mutex
	creds     *Credentials
	hashCache map[string]string
}

func NewBroker(host browser.Host, endpoint, triggerURL string, hashes repository.HashCache, log zerolog.Logger) *Broker {
	return &Broker{
		host:       host,
		httpClient: &http.Client{Timeout: requestTimeout},
		endpoint:   endpoint,
		triggerURL: triggerURL,
		hashes:     hashes,
		log:        log,
		hashCache:  make(map[string]string),
	}
}

// RefreshCredentials reloads the trigger page and captures a fresh
// credential snapshot from the traffic it produces. Bounded: after
// maxRefreshAttempts with linear backoff it fails with
// CREDENTIAL_REFRESH_EXHAUSTED, which aborts the current evaluation cycle
// but not the process.
func (b *Broker) RefreshCredentials(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshLocked(ctx)
}

func (b *Broker) refreshLocked(ctx context.Context) error {
	for attempt := 1; attempt <= maxRefreshAttempts; attempt++ {
		creds, err := b.captureOnce(ctx)
		if err == nil {
			b.creds = creds
			b.log.Info().
				Time("captured_at", creds.CapturedAt).
				Bool("has_device_id", creds.DeviceID != "").
				Msg("credentials refreshed")
			return nil
		}
		b.log.Warn().Err(err).Int("attempt", attempt).Msg("credential capture failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * refreshBackoffBase):
		}
	}
	return apperr.Newf(apperr.CodeCredentialRefreshExhausted,
		"credential capture failed after %d attempts", maxRefreshAttempts)
}

func (b *Broker) captureOnce(ctx context.Context) (*Credentials, error) {
	if err := b.host.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := b.host.Navigate(ctx, b.triggerURL); err != nil {
		return nil, err
	}

	var (
		wg                                   sync.WaitGroup
		clientID, integrity, deviceID, token string
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		clientID, _ = b.host.CaptureRequestHeader(ctx, headerClientID, gqlHost, headerCaptureWindow)
	}()
	go func() {
		defer wg.Done()
		integrity, _ = b.host.CaptureRequestHeader(ctx, headerIntegrity, gqlHost, headerCaptureWindow)
	}()
	go func() {
		defer wg.Done()
		deviceID, _ = b.host.CaptureRequestHeader(ctx, headerDeviceID, gqlHost, deviceCaptureWindow)
	}()
	go func() {
		defer wg.Done()
		token, _ = b.host.GetCookieValue(ctx, baseURL, authCookieName)
	}()
	wg.Wait()

	if clientID == "" || integrity == "" {
		return nil, apperr.New(apperr.CodeCredentialCaptureFailed,
			"client id or integrity token not observed")
	}
	return &Credentials{
		ClientID:    clientID,
		Integrity:   integrity,
		DeviceID:    deviceID,
		AccessToken: token,
		CapturedAt:  time.Now(),
	}, nil
}

func (b *Broker) credentials() *Credentials {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creds
}

// ResolveOperationHash finds the persisted-query hash for operation by
// reloading a page known to trigger it and inspecting the request it sends.
// Bounded to hashResolveAttempts reloads of hashCaptureWindow each.
func (b *Broker) ResolveOperationHash(ctx context.Context, operation, urlOverride string) (string, error) {
	b.mu.Lock()
	if h, ok := b.hashCache[operation]; ok {
		b.mu.Unlock()
		return h, nil
	}
	b.mu.Unlock()

	if b.hashes != nil {
		if h, err := b.hashes.Get(ctx, operation); err == nil && h != "" {
			b.storeHash(ctx, operation, h, false)
			return h, nil
		}
	}

	trigger := b.triggerURL
	if urlOverride != "" {
		trigger = urlOverride
	}
	marker := fmt.Sprintf(`"operationName":%q`, operation)

	for attempt := 1; attempt <= hashResolveAttempts; attempt++ {
		if err := b.host.Navigate(ctx, trigger); err != nil {
			b.log.Warn().Err(err).Str("operation", operation).Msg("hash trigger navigation failed")
			continue
		}
		body, err := b.host.CaptureRequestBodyContaining(ctx, marker, hashCaptureWindow)
		if err != nil {
			b.log.Debug().Int("attempt", attempt).Str("operation", operation).Msg("operation not observed")
			continue
		}
		if h := extractPersistedHash(body, operation); h != "" {
			b.storeHash(ctx, operation, h, true)
			return h, nil
		}
	}
	return "", apperr.New(apperr.CodeHashNotFound, "operation was never observed on the trigger page").
		WithDetail("operation", operation)
}

func (b *Broker) storeHash(ctx context.Context, operation, hash string, persist bool) {
	b.mu.Lock()
	b.hashCache[operation] = hash
	b.mu.Unlock()
	if persist && b.hashes != nil {
		if err := b.hashes.Put(ctx, operation, hash); err != nil {
			b.log.Warn().Err(err).Str("operation", operation).Msg("hash cache write failed")
		}
	}
}

// Query sends one persisted-query request. A rejected response triggers a
// single credential refresh followed by exactly one retry.
func (b *Broker) Query(ctx context.Context, operation string, variables map[string]interface{}) (json.RawMessage, error) {
	hash, err := b.ResolveOperationHash(ctx, operation, "")
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(newGQLRequest(operation, hash, variables))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "request encode failed")
	}

	data, err := b.querySingle(ctx, payload)
	if err == nil {
		return data, nil
	}
	b.log.Warn().Err(err).Str("operation", operation).Msg("query rejected, refreshing credentials")
	if refreshErr := b.RefreshCredentials(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	return b.querySingle(ctx, payload)
}

func (b *Broker) querySingle(ctx context.Context, payload []byte) (json.RawMessage, error) {
	status, body, err := b.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeExternalAPI, "gql request failed with status %d", status)
	}
	var resp gqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeExternalAPI, "gql response decode failed")
	}
	if len(resp.Errors) > 0 {
		return nil, apperr.New(apperr.CodeExternalAPI, "gql response contains errors").
			WithDetail("error", resp.Errors[0].Message)
	}
	return resp.Data, nil
}

// QueryBatch splits requests into fixed-size batches sharing one resolved
// hash, sends each batch as an array payload and maps response elements
// back to their request by position. A request whose id is absent from a
// successful response is omitted from the result, not treated as a batch
// failure.
func (b *Broker) QueryBatch(ctx context.Context, operation string, requests []BatchRequest) (map[string]json.RawMessage, error) {
	results := make(map[string]json.RawMessage, len(requests))
	if len(requests) == 0 {
		return results, nil
	}
	hash, err := b.ResolveOperationHash(ctx, operation, "")
	if err != nil {
		return nil, err
	}
	for start := 0; start < len(requests); start += batchSize {
		end := start + batchSize
		if end > len(requests) {
			end = len(requests)
		}
		if err := b.sendBatch(ctx, operation, hash, requests[start:end], results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (b *Broker) sendBatch(ctx context.Context, operation, hash string, chunk []BatchRequest, results map[string]json.RawMessage) error {
	envelope := make([]gqlRequest, len(chunk))
	for i, req := range chunk {
		envelope[i] = newGQLRequest(operation, hash, req.Variables)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "batch encode failed")
	}

	status, body, err := b.post(ctx, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK || bytes.Contains(body, []byte("failed integrity check")) {
		b.log.Warn().Int("status", status).Str("operation", operation).Msg("batch rejected, refreshing credentials")
		if refreshErr := b.RefreshCredentials(ctx); refreshErr != nil {
			return refreshErr
		}
		status, body, err = b.post(ctx, payload)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return apperr.Newf(apperr.CodeExternalAPI, "batch failed with status %d after refresh", status)
		}
	}

	var elems []gqlResponse
	if err := json.Unmarshal(body, &elems); err != nil {
		return apperr.Wrap(err, apperr.CodeExternalAPI, "batch response decode failed")
	}
	for i, el := range elems {
		if i >= len(chunk) {
			break
		}
		if len(el.Errors) > 0 || len(el.Data) == 0 {
			// soft-fail per item
			continue
		}
		results[chunk[i].ID] = el.Data
	}
	return nil
}

// Claim fires the claim mutation for a drop instance and reports whether
// the platform accepted it. It never returns an error: any failure is false.
func (b *Broker) Claim(ctx context.Context, campaignID, rewardID string) bool {
	payload, err := json.Marshal(newGQLRequest(claimOperation, claimHash, map[string]interface{}{
		"input": map[string]interface{}{
			"dropInstanceID": rewardID,
		},
	}))
	if err != nil {
		return false
	}
	status, body, err := b.post(ctx, payload)
	if err != nil || status != http.StatusOK {
		b.log.Warn().Err(err).Int("status", status).Str("campaign_id", campaignID).Msg("claim request failed")
		return false
	}
	var resp struct {
		Data struct {
			ClaimDropRewards struct {
				Status string `json:"status"`
			} `json:"claimDropRewards"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	switch resp.Data.ClaimDropRewards.Status {
	case "ELIGIBLE_FOR_ALL", "DROP_INSTANCE_ALREADY_CLAIMED":
		return true
	default:
		b.log.Warn().
			Str("campaign_id", campaignID).
			Str("claim_status", resp.Data.ClaimDropRewards.Status).
			Msg("claim not accepted")
		return false
	}
}

func (b *Broker) post(ctx context.Context, payload []byte) (int, []byte, error) {
	creds := b.credentials()
	if creds == nil {
		if err := b.RefreshCredentials(ctx); err != nil {
			return 0, nil, err
		}
		creds = b.credentials()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, apperr.Wrap(err, apperr.CodeInternal, "request build failed")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerClientID, creds.ClientID)
	req.Header.Set(headerIntegrity, creds.Integrity)
	if creds.AccessToken != "" {
		req.Header.Set("Authorization", "OAuth "+creds.AccessToken)
	}
	if creds.DeviceID != "" {
		req.Header.Set(headerDeviceID, creds.DeviceID)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, apperr.Wrap(err, apperr.CodeExternalAPI, "gql request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperr.Wrap(err, apperr.CodeExternalAPI, "gql response read failed")
	}
	return resp.StatusCode, body, nil
}
