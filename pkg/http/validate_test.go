package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerReq struct {
	RunDate string `json:"run_date" validate:"omitempty,datetime=2006-01-02"`
	Index   int    `json:"batch_index" validate:"gte=0,lte=255"`
	Total   int    `json:"total_batches" default:"18" validate:"gte=1"`
}

func bind(t *testing.T, body string, req interface{}) interface{} {
	t.Helper()
	e := echo.New()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return ReadAndValidateRequest(e.NewContext(r, httptest.NewRecorder()), req)
}

func TestReadAndValidateRequest(t *testing.T) {
	t.Parallel()

	req := &triggerReq{}
	require.Nil(t, bind(t, `{"batch_index": 2}`, req))
	assert.Equal(t, 18, req.Total)

	errs, ok := bind(t, `{"batch_index": 300, "run_date": "14/03/2025"}`, &triggerReq{}).([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)
	byField := map[string]ValidationError{}
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ERR_DATETIME", byField["run_date"].Code)
	assert.Equal(t, "ERR_LTE", byField["batch_index"].Code)
	assert.Equal(t, "255", byField["batch_index"].Params["max"])

	errs, ok = bind(t, `{"batch_index":`, &triggerReq{}).([]ValidationError)
	require.True(t, ok)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}
