package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, listed, len(scenarios))

	for _, sc := range listed {
		t.Run(sc.ID, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, sc.ID, decodeBody[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestScenario_ReloadReplacesData(t *testing.T) {
	// GIVEN: The spread family with a payment on record
	// WHEN: The scenario is loaded again
	// THEN: The payment is gone and the balance is back to 8000

	s := newScenarioServer(t, "spread-family")
	code, _ := s.pay(map[string]any{"wallet_id": "wal-spread", "amount": 4000, "reference": "PSK-RELOAD"})
	require.Equal(t, http.StatusCreated, code)

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "spread-family"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/settlements/PSK-RELOAD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/parents/par-spread/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8000.00", decodeBody[BalanceDTO](t, rec).Balance.String())
}

func TestScenario_PaymentHistory(t *testing.T) {
	s := newScenarioServer(t, "payment-history")

	rec := s.do(http.MethodGet, "/api/settlements/DEMO-HISTORY-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[ReceiptDTO](t, rec)
	assert.Equal(t, "ALLOCATED", first.Settlement.AllocationStatus)
	assert.Equal(t, map[string]string{
		"stu-history-ada":  "2000.00",
		"stu-history-bayo": "2000.00",
	}, shares(first.Allocations))

	rec = s.do(http.MethodGet, "/api/settlements/DEMO-HISTORY-0002", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lost := decodeBody[ReceiptDTO](t, rec)
	assert.Equal(t, "UNALLOCATED", lost.Settlement.AllocationStatus)
	assert.Nil(t, lost.Settlement.WalletID)
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newScenarioServer(t, "spread-family")

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "no-such-school"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = s.do(http.MethodGet, "/api/parents/par-spread/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
