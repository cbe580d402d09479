package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/idempotency"
	"ncfpos/internal/domain/auth"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/internal/domain/fiscal"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/domain/order"
	"ncfpos/internal/domain/report"
	"ncfpos/internal/domain/sequence"
	"ncfpos/internal/infrastructure/http/v1/dto"
	"ncfpos/internal/infrastructure/http/v1/handlers"
	"ncfpos/internal/infrastructure/http/v1/middleware"
)

func ptr(v int64) *int64 { return &v }

type testAPI struct {
	router  *gin.Engine
	jwt     *auth.JWTService
	cashier string
	admin   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	types := []comprobante.Type{
		{ID: 1, Code: "01", Name: "Crédito Fiscal", IsFiscal: true, Prefix: "B01", PaddingWidth: 10,
			MaxNumber: ptr(50), Active: true, ForSale: true, RequiresRNC: true,
			SuggestWhen: "customer.has_rnc && customer.is_taxpayer"},
		{ID: 2, Code: "02", Name: "Consumidor Final", IsFiscal: true, Prefix: "B02", PaddingWidth: 10,
			Active: true, ForSale: true, SuggestWhen: "!sale.is_refund"},
		{ID: 4, Code: "04", Name: "Nota de Crédito", IsFiscal: true, Prefix: "B04", PaddingWidth: 10,
			Active: true, ForSale: true},
		{ID: 5, Code: "11", Name: "Sin comprobante", Active: true, ForSale: true},
	}
	reg, err := comprobante.NewStaticRegistry(types)
	require.NoError(t, err)
	sug, err := comprobante.NewSuggester(types)
	require.NoError(t, err)

	store := sequence.NewMemoryStore()
	for _, seq := range []sequence.Sequence{
		sequence.New(1, 1, ptr(50), nil),
		sequence.New(2, 1, nil, nil),
		sequence.New(4, 1, ptr(1), nil),
	} {
		_, err := store.Provision(ctx, seq)
		require.NoError(t, err)
	}

	journal := numbering.NewMemoryJournal()
	engine := numbering.NewService(reg, sequence.NewAllocator(store, reg), sug, journal)
	repo := order.NewMemoryRepository()

	hash, err := auth.HashSecret("caja-secret")
	require.NoError(t, err)
	terminals, err := auth.NewStaticTerminals([]auth.Terminal{
		{ID: "caja-01", Name: "Caja 1", SecretHash: hash, Roles: []string{auth.RoleCashier}},
		{ID: "admin-01", Name: "Oficina", SecretHash: hash, Roles: []string{auth.RoleAdmin}},
	})
	require.NoError(t, err)
	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))

	api := &testAPI{jwt: jwtSvc}
	api.router = NewRouter(RouterConfig{
		TokenValidator: jwtSvc,
		AuthService:    auth.NewService(terminals, jwtSvc, auth.DefaultServiceConfig()),
		Numbering:      engine,
		Orders:         order.NewService(repo, engine),
		Reports:        report.NewService(repo, reg),
		Journal:        journal,
		Idempotency:    idempotency.NewMemoryStore(idempotency.DefaultTTL),
		Backend:        "memory",
		HealthChecks:   map[string]handlers.Check{},
	})
	api.cashier = api.token(t, auth.Terminal{ID: "caja-01", Roles: []string{auth.RoleCashier}})
	api.admin = api.token(t, auth.Terminal{ID: "admin-01", Roles: []string{auth.RoleAdmin}})
	return api
}

func (a *testAPI) token(t *testing.T, term auth.Terminal) string {
	t.Helper()
	tok, _, err := a.jwt.GenerateAccessToken(term)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w = api.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"memory","checks":{}}`, w.Body.String())
}

func TestAuth(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/comprobante-types", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthorized, decode[middleware.ErrorBody](t, w).Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/terminal", "", dto.TerminalLoginRequest{TerminalID: "caja-01", Secret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/terminal", "", dto.TerminalLoginRequest{TerminalID: "caja-01", Secret: "caja-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	tokens := decode[auth.TokenResponse](t, w)
	assert.Equal(t, "caja-01", tokens.TerminalID)

	w = api.do(t, http.MethodGet, "/api/v1/comprobante-types", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListResponse[dto.ComprobanteTypeResponse]](t, w)
	assert.Equal(t, 4, list.Count)
	assert.Equal(t, "B01", list.Items[0].Prefix)
	assert.Equal(t, 11, list.Items[0].NCFLength)
}

func TestComprobanteTypes(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/comprobante-types/2", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Consumidor Final", decode[dto.ComprobanteTypeResponse](t, w).Name)

	w = api.do(t, http.MethodGet, "/api/v1/comprobante-types/99", api.cashier, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeUnknownType, decode[middleware.ErrorBody](t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/comprobante-types/abc", api.cashier, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/comprobante-types/suggest", api.cashier,
		dto.SuggestTypeRequest{HasRNC: true, IsTaxpayer: true})
	require.Equal(t, http.StatusOK, w.Code)
	sug := decode[dto.SuggestTypeResponse](t, w)
	require.True(t, sug.Matched)
	assert.Equal(t, int64(1), sug.Type.ID)
}

func TestGenerateNCF(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 2})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[numbering.Result](t, w)
	assert.Equal(t, "B0200000001", res.NCF)
	assert.True(t, res.EsFiscal)

	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 5})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[numbering.Result](t, w)
	assert.Empty(t, res.NCF)
	assert.False(t, res.EsFiscal)

	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 77})
	assert.Equal(t, http.StatusNotFound, w.Code)
	res = decode[numbering.Result](t, w)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperror.CodeUnknownType, res.Error.Kind)

	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 4})
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 4})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeSequenceExhausted, decode[numbering.Result](t, w).Error.Kind)

	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateNCF_Idempotent(t *testing.T) {
	api := newTestAPI(t)
	key := []string{middleware.HeaderIdempotencyKey, "retry-1"}

	first := api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 2}, key...)
	require.Equal(t, http.StatusOK, first.Code)
	second := api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 2}, key...)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotencyReplayed))
	assert.Equal(t, decode[numbering.Result](t, first).NCF, decode[numbering.Result](t, second).NCF)

	w := api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 2})
	assert.Equal(t, "B0200000002", decode[numbering.Result](t, w).NCF)

	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 1}, key...)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeIdempotencyMismatch, decode[middleware.ErrorBody](t, w).Code)

	// Keys are per terminal.
	w = api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.admin, dto.GenerateNCFRequest{ComprobanteTypeID: 2}, key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "B0200000003", decode[numbering.Result](t, w).NCF)
}

func TestSequences(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/sequences/1", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[sequence.Status](t, w)
	assert.Equal(t, "B0100000001", st.NextNCF)
	require.NotNil(t, st.Available)
	assert.Equal(t, int64(50), *st.Available)

	req := dto.ProvisionSequenceRequest{MaxNumber: ptr(500)}
	w = api.do(t, http.MethodPut, "/api/v1/sequences/1", api.cashier, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPut, "/api/v1/sequences/1", api.admin, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st = decode[sequence.Status](t, w)
	require.NotNil(t, st.MaxNumber)
	assert.Equal(t, int64(500), *st.MaxNumber)

	bad := "31/12/2027"
	w = api.do(t, http.MethodPut, "/api/v1/sequences/1", api.admin, dto.ProvisionSequenceRequest{ExpiresAt: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// B04 has a single number.
	api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 4})
	w = api.do(t, http.MethodGet, "/api/v1/sequences/alerts", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[dto.ListResponse[sequence.Status]](t, w)
	require.Equal(t, 1, alerts.Count)
	assert.Equal(t, int64(4), alerts.Items[0].TypeID)
	assert.Equal(t, sequence.StateExhausted, alerts.Items[0].State)
}

func TestOrderLifecycle(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/orders", api.cashier, map[string]any{"total": "118.00", "itbis": "18.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	o := decode[dto.OrderResponse](t, w)
	assert.Equal(t, "caja-01", o.TerminalID)
	assert.Equal(t, fiscal.StateUnclassified, o.FiscalState)
	base := "/api/v1/orders/" + o.ID

	w = api.do(t, http.MethodPost, base+"/finalize", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code, "unclassified orders finalize without NCF")
	w = api.do(t, http.MethodPost, base+"/comprobante", api.cashier, dto.SelectComprobanteRequest{ComprobanteTypeID: 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeOrderFinalized, decode[middleware.ErrorBody](t, w).Code)

	w = api.do(t, http.MethodPost, "/api/v1/orders", api.cashier, map[string]any{"total": "118.00", "itbis": "18.00"})
	require.Equal(t, http.StatusCreated, w.Code)
	o = decode[dto.OrderResponse](t, w)
	base = "/api/v1/orders/" + o.ID

	w = api.do(t, http.MethodPost, base+"/comprobante", api.cashier, dto.SelectComprobanteRequest{ComprobanteTypeID: 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sel := decode[dto.SelectComprobanteResponse](t, w)
	assert.Nil(t, sel.Error)
	assert.Equal(t, "B0200000001", sel.Order.NCF)
	assert.True(t, sel.Order.EsFiscal)

	w = api.do(t, http.MethodGet, base+"/finalize-check", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.FinalizeCheckResponse](t, w).CanFinalize)

	w = api.do(t, http.MethodPost, base+"/finalize", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	o = decode[dto.OrderResponse](t, w)
	assert.Equal(t, fiscal.StateFinalized, o.FiscalState)
	require.NotNil(t, o.FinalizedAt)

	w = api.do(t, http.MethodGet, base+"/events", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[dto.OrderEventsResponse](t, w)
	require.Len(t, events.Events, 2)
	assert.Equal(t, numbering.EventAllocated, events.Events[0].Kind)
	assert.Equal(t, "caja-01", events.Events[0].TerminalID)
	assert.Equal(t, numbering.EventFinalized, events.Events[1].Kind)

	day := o.FinalizedAt.Format("2006-01-02")
	w = api.do(t, http.MethodGet, "/api/v1/reports/sales?from="+day+"&to="+day, api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sales := decode[report.Sales](t, w)
	require.Equal(t, 1, sales.Count)
	assert.Equal(t, "B0200000001", sales.Lines[0].NCF)

	w = api.do(t, http.MethodGet, "/api/v1/reports/sales?from="+day+"&to="+day+"&format=txt", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, w.Body.String(), "|B0200000001|02|")

	w = api.do(t, http.MethodGet, "/api/v1/reports/sales?from="+day, api.cashier, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrder_FiscalNumberMissing(t *testing.T) {
	api := newTestAPI(t)

	// Use up B04.
	api.do(t, http.MethodPost, "/api/v1/ncf/generate", api.cashier, dto.GenerateNCFRequest{ComprobanteTypeID: 4})

	w := api.do(t, http.MethodPost, "/api/v1/orders", api.cashier, map[string]any{"total": "50"})
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/api/v1/orders/" + decode[dto.OrderResponse](t, w).ID

	w = api.do(t, http.MethodPost, base+"/comprobante", api.cashier, dto.SelectComprobanteRequest{ComprobanteTypeID: 4})
	require.Equal(t, http.StatusConflict, w.Code)
	sel := decode[dto.SelectComprobanteResponse](t, w)
	require.NotNil(t, sel.Error)
	assert.Equal(t, apperror.CodeSequenceExhausted, sel.Error.Kind)
	assert.Equal(t, fiscal.StateTypeSelected, sel.Order.FiscalState)
	assert.Empty(t, sel.Order.NCF)

	w = api.do(t, http.MethodGet, base+"/finalize-check", api.cashier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	check := decode[dto.FinalizeCheckResponse](t, w)
	assert.False(t, check.CanFinalize)
	assert.Equal(t, apperror.CodeFiscalNumberMissing, check.Error.Kind)

	w = api.do(t, http.MethodPost, base+"/finalize", api.cashier, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeFiscalNumberMissing, decode[middleware.ErrorBody](t, w).Code)

	w = api.do(t, http.MethodPut, base+"/ncf", api.cashier, dto.OverrideNCFRequest{NCF: "B0400000900"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, fiscal.SourceManual, decode[dto.OrderResponse](t, w).NCFSource)

	w = api.do(t, http.MethodPost, base+"/void", api.cashier, dto.VoidOrderRequest{Reason: "cliente desistió"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusVoided, decode[dto.OrderResponse](t, w).Status)

	w = api.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", api.cashier, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
