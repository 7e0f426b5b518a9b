package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard_cards/internal/card"
	"dashboard_cards/internal/config"
	"dashboard_cards/internal/model"
	"dashboard_cards/internal/ws"
)

type countingRenderer struct {
	priceLists chan card.PriceListView
}

func (r *countingRenderer) RenderComparison(card.ComparisonView) {}

func (r *countingRenderer) RenderPriceList(v card.PriceListView) { r.priceLists <- v }

func testRouter(t *testing.T) (http.Handler, *countingRenderer) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	renderer := &countingRenderer{priceLists: make(chan card.PriceListView, 4)}

	pl := card.NewPriceList(config.PriceList{
		ID:           "prices",
		Title:        config.DefaultPriceListTitle,
		Entity:       model.DefaultChangedetectionEntity,
		MaxPrices:    10,
		PollInterval: 5 * time.Second,
	}, renderer, logger)
	pl.ReceiveState(model.States{})
	<-renderer.priceLists

	reg := card.NewRegistry(logger)
	require.NoError(t, reg.Add(pl))
	t.Cleanup(reg.Close)
	return NewRouter(reg, nil, "", logger), renderer
}

func TestRouter_Health(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestRouter_ListCards(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cards", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var list ws.CardsListPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []ws.CardInfo{{ID: "prices", Kind: "changedetection-list", DisplaySize: 1}}, list.Cards)
}

func TestRouter_GetCard(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cards/prices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ID   string             `json:"id"`
		View card.PriceListView `json:"view"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "prices", resp.ID)
	assert.True(t, resp.View.Empty)
	assert.Equal(t, "No items stored in input_text.changedetection_all.", resp.View.EmptyText)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cards/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RefreshCard(t *testing.T) {
	router, renderer := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cards/prices/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-renderer.priceLists:
	case <-time.After(2 * time.Second):
		t.Fatal("card was not refreshed")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cards/missing/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cards/prices/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
