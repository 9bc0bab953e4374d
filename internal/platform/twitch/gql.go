package twitch

import "encoding/json"

// gqlRequest is the persisted-query envelope the platform expects instead
// of a full query body.
type gqlRequest struct {
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
	Extensions    gqlExtensions          `json:"extensions"`
}

type gqlExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func newGQLRequest(operation, hash string, variables map[string]interface{}) gqlRequest {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	return gqlRequest{
		OperationName: operation,
		Variables:     variables,
		Extensions: gqlExtensions{
			PersistedQuery: persistedQuery{Version: 1, SHA256Hash: hash},
		},
	}
}

// extractPersistedHash pulls the sha256 persisted-query hash for operation
// out of a captured request body. Clients send either a single envelope or
// a batch array.
func extractPersistedHash(body, operation string) string {
	var single gqlRequest
	if err := json.Unmarshal([]byte(body), &single); err == nil {
		if single.OperationName == operation && single.Extensions.PersistedQuery.SHA256Hash != "" {
			return single.Extensions.PersistedQuery.SHA256Hash
		}
	}
	var batch []gqlRequest
	if err := json.Unmarshal([]byte(body), &batch); err == nil {
		for _, req := range batch {
			if req.OperationName == operation && req.Extensions.PersistedQuery.SHA256Hash != "" {
				return req.Extensions.PersistedQuery.SHA256Hash
			}
		}
	}
	return ""
}
