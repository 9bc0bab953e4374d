package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drops-miner-backend/internal/features/campaign/models"
	"drops-miner-backend/internal/features/miner/service"
	"drops-miner-backend/internal/repository"
)

type fakeMiner struct {
	evaluations []string
}

func (f *fakeMiner) Status() service.ProgressSnapshot {
	return service.ProgressSnapshot{State: service.StateMining}
}

func (f *fakeMiner) Campaigns() []models.Campaign {
	return []models.Campaign{{ID: "c1", GameName: "Game", Platform: models.PlatformTwitch}}
}

func (f *fakeMiner) Evaluate(reason string) {
	f.evaluations = append(f.evaluations, reason)
}

type fakeClaims struct{}

func (fakeClaims) Record(ctx context.Context, rec repository.ClaimRecord) error { return nil }

func (fakeClaims) Recent(ctx context.Context, limit int) ([]repository.ClaimRecord, error) {
	return []repository.ClaimRecord{{RewardID: "r1", Platform: "kick"}}, nil
}

func (fakeClaims) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestRouter(miner *fakeMiner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewMinerHandler(miner, fakeClaims{}, zerolog.Nop())
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(&fakeMiner{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap service.ProgressSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, service.StateMining, snap.State)
}

func TestGetCampaigns(t *testing.T) {
	router := newTestRouter(&fakeMiner{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Campaigns []models.Campaign `json:"campaigns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Campaigns, 1)
	assert.Equal(t, "c1", body.Campaigns[0].ID)
}

func TestGetClaims(t *testing.T) {
	router := newTestRouter(&fakeMiner{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims?limit=5", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Claims []repository.ClaimRecord `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Claims, 1)
	assert.Equal(t, "r1", body.Claims[0].RewardID)
}

func TestPostEvaluate(t *testing.T) {
	miner := &fakeMiner{}
	router := newTestRouter(miner)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"manual trigger"}, miner.evaluations)
}
