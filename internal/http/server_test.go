package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"verdeling/internal/auth"
	"verdeling/internal/core"
	applog "verdeling/internal/log"
	"verdeling/internal/memory"
	"verdeling/internal/metrics"
	"verdeling/internal/middleware/ratelimit"
	"verdeling/internal/services"
)

const (
	testSecret   = "test-secret-that-is-long-enough-for-hs256"
	testPassword = "correct-horse"
)

var (
	initialMonth = core.NewYearMonth(2025, 8)
	firstMonth   = core.NewYearMonth(2025, 9)
)

type testApp struct {
	srv      *Server
	store    *memory.Store
	readings *services.ReadingService
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	ctx := context.Background()

	store := memory.New([]core.Tenant{
		{ID: "a", Name: "Atelier", SortOrder: 1, Color: "#2f6f4f", Spaces: []string{"x"}},
		{ID: "b", Name: "Bakkerij", SortOrder: 2, Color: "#a86b00", Spaces: []string{"y"}},
	})
	provider := auth.NewProvider(store, testSecret, time.Hour)
	dist := services.NewDistributionService(store, nil, time.Minute)
	readings := services.NewReadingService(store, initialMonth, dist)

	addUser := func(email string, role core.Role, tenantID *string) {
		u, err := provider.Register(ctx, email, testPassword)
		if err != nil {
			t.Fatalf("register %s: %v", email, err)
		}
		if err := store.UpsertProfile(ctx, core.Profile{UserID: u.ID, Email: u.Email, Role: role, TenantID: tenantID}); err != nil {
			t.Fatalf("profile %s: %v", email, err)
		}
	}
	tenantA := "a"
	addUser("admin@example.com", core.RoleAdmin, nil)
	addUser("atelier@example.com", core.RoleTenant, &tenantA)

	// a signed-up user nobody linked to a profile yet
	if _, err := provider.Register(ctx, "nobody@example.com", testPassword); err != nil {
		t.Fatalf("register nobody: %v", err)
	}

	srv := NewServer(":0", Deps{
		Store:         store,
		Auth:          provider,
		Readings:      readings,
		Invoices:      services.NewInvoiceService(store, dist),
		Distributions: dist,
		Metrics:       metrics.New(),
		Logger:        applog.New(applog.Config{Format: "text", Output: io.Discard}),
		RateLimit:     ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000},
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return testApp{srv: srv, store: store, readings: readings}
}

func (a testApp) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (a testApp) get(path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil), cookie)
}

func (a testApp) post(path string, form url.Values, cookie *http.Cookie, htmx bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return a.do(req, cookie)
}

func (a testApp) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rr := a.post("/login", url.Values{"email": {email}, "password": {testPassword}}, nil, false)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login %s status=%d body=%s", email, rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatalf("login %s: no session cookie", email)
	return nil
}

func (a testApp) recordTwoMonths(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := a.readings.SaveInitial(ctx, map[string]float64{
		"general_Algemeen": 1000, "a_x": 100, "b_y": 200,
	}); err != nil {
		t.Fatalf("save initial: %v", err)
	}
	if _, err := a.readings.SaveMonth(ctx, firstMonth, map[string]float64{
		"general_Algemeen": 1200, "a_x": 200, "b_y": 500,
	}); err != nil {
		t.Fatalf("save month: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := app.get(path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		var body map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid json: %v", path, err)
		}
		if body["status"] != "ok" && body["status"] != "ready" {
			t.Fatalf("%s status field=%v", path, body["status"])
		}
	}
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	app := newTestApp(t)
	rr := app.get("/login", nil)
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
}

func TestIndexRedirects(t *testing.T) {
	app := newTestApp(t)

	rr := app.get("/", nil)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("anonymous index: status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}

	cookie := app.signIn(t, "admin@example.com")
	rr = app.get("/", cookie)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
		t.Fatalf("signed-in index: status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)

	rr := app.get("/login", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `name="password"`) {
		t.Fatalf("login page status=%d", rr.Code)
	}

	rr = app.post("/login", url.Values{"email": {"admin@example.com"}, "password": {"wrong-password"}}, nil, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "admin@example.com") {
		t.Fatalf("bad password should keep the email in the form")
	}

	rr = app.post("/login", url.Values{"email": {"admin@example.com"}, "password": {testPassword}}, nil, true)
	if rr.Code != http.StatusOK || rr.Header().Get("HX-Redirect") != "/dashboard" {
		t.Fatalf("htmx login: status=%d redirect=%q", rr.Code, rr.Header().Get("HX-Redirect"))
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signIn(t, "admin@example.com")

	rr := app.post("/logout", url.Values{}, cookie, false)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("logout status=%d", rr.Code)
	}
	rr = app.get("/dashboard", cookie)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("revoked session still accepted: status=%d", rr.Code)
	}
}

func TestProtectedRoutes(t *testing.T) {
	app := newTestApp(t)

	rr := app.get("/dashboard", nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("anonymous dashboard: expected 303, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ui/verdeling", nil)
	req.Header.Set("HX-Request", "true")
	rr = app.do(req, nil)
	if rr.Code != http.StatusUnauthorized || rr.Header().Get("HX-Redirect") != "/login" {
		t.Fatalf("anonymous htmx: status=%d redirect=%q", rr.Code, rr.Header().Get("HX-Redirect"))
	}

	tenant := app.signIn(t, "atelier@example.com")
	for _, path := range []string{"/readings", "/invoices", "/readings/form"} {
		if rr := app.get(path, tenant); rr.Code != http.StatusForbidden {
			t.Fatalf("tenant %s: expected 403, got %d", path, rr.Code)
		}
	}
	if rr := app.post("/invoices", url.Values{"period": {"2025-09"}, "amount": {"10"}}, tenant, true); rr.Code != http.StatusForbidden {
		t.Fatalf("tenant invoice create: expected 403, got %d", rr.Code)
	}

	nobody := app.signIn(t, "nobody@example.com")
	if rr := app.get("/dashboard", nobody); rr.Code != http.StatusForbidden {
		t.Fatalf("unlinked user: expected 403, got %d", rr.Code)
	}
}

func TestCrossSitePostRejected(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signIn(t, "admin@example.com")

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader("period=2025-09&amount=10"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	if rr := app.do(req, cookie); rr.Code != http.StatusForbidden {
		t.Fatalf("cross-site post: expected 403, got %d", rr.Code)
	}
}

func TestDashboard(t *testing.T) {
	app := newTestApp(t)
	app.recordTwoMonths(t)

	rr := app.get("/dashboard", app.signIn(t, "admin@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("admin dashboard status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{"Atelier", "Bakkerij", "Meterstanden", "Verbruik per maand"} {
		if !strings.Contains(body, want) {
			t.Fatalf("admin dashboard missing %q", want)
		}
	}

	rr = app.get("/dashboard", app.signIn(t, "atelier@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("tenant dashboard status=%d", rr.Code)
	}
	body = rr.Body.String()
	for _, want := range []string{"Mijn verbruik", "Mijn meterstanden", "Atelier"} {
		if !strings.Contains(body, want) {
			t.Fatalf("tenant dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "Geen meterstanden") {
		t.Fatalf("tenant dashboard should list own readings")
	}
	if strings.Contains(body, "Bakkerij") {
		t.Fatalf("tenant dashboard leaks another tenant")
	}
}

func TestReadingsFlow(t *testing.T) {
	app := newTestApp(t)
	admin := app.signIn(t, "admin@example.com")

	rr := app.get("/readings", admin)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Beginstanden invoeren") {
		t.Fatalf("empty readings page status=%d", rr.Code)
	}

	rr = app.post("/readings/initial", url.Values{
		"meter:general_Algemeen": {"1000"},
		"meter:a_x":              {"100"},
		"meter:b_y":              {"200"},
	}, admin, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("save initial status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), "readings:saved") {
		t.Fatalf("save initial trigger=%q", rr.Header().Get("HX-Trigger"))
	}

	req := httptest.NewRequest(http.MethodGet, "/readings/form", nil)
	req.Header.Set("HX-Request", "true")
	rr = app.do(req, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("next month form status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `value="2025-09"`) || !strings.Contains(rr.Body.String(), `name="meter:a_x"`) {
		t.Fatalf("next month form should target 2025-09 with one field per meter")
	}

	rr = app.post("/readings", url.Values{
		"period":                 {"2025-09"},
		"meter:general_Algemeen": {"1200"},
		"meter:a_x":              {"200"},
		"meter:b_y":              {"500"},
	}, admin, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/readings" {
		t.Fatalf("save month status=%d", rr.Code)
	}

	rr = app.post("/readings", url.Values{"period": {"2025-07"}, "meter:a_x": {"1"}}, admin, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("month before initial: expected 422, got %d", rr.Code)
	}

	rr = app.post("/readings", url.Values{"meter:a_x": {"1"}}, admin, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing period: expected 422, got %d", rr.Code)
	}

	rr = app.post("/readings/delete", url.Values{"period": {"2025-09"}}, admin, true)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "3 meterstanden verwijderd") {
		t.Fatalf("delete month status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestInvoiceValidationAndSuccess(t *testing.T) {
	app := newTestApp(t)
	admin := app.signIn(t, "admin@example.com")

	rr := app.post("/invoices", url.Values{"period": {"2025-09"}, "amount": {"abc"}}, admin, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid amount: expected 422, got %d", rr.Code)
	}

	rr = app.post("/invoices", url.Values{"amount": {"10"}}, admin, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing period: expected 422, got %d", rr.Code)
	}

	rr = app.post("/invoices", url.Values{"period": {"2025-09"}, "amount": {"350,50"}, "status": {"final"}}, admin, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("create invoice status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `id="invoice-list"`) {
		t.Fatalf("create should re-render the invoice list")
	}
	trigger := rr.Header().Get("HX-Trigger")
	for _, want := range []string{"invoice:saved", "verdeling:refresh", "show-notification"} {
		if !strings.Contains(trigger, want) {
			t.Fatalf("create trigger missing %q: %s", want, trigger)
		}
	}

	rr = app.post("/invoices", url.Values{"period": {"2025-09"}, "amount": {"10"}}, admin, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate month: expected 422, got %d", rr.Code)
	}

	invoices, err := app.store.ListInvoices(context.Background())
	if err != nil || len(invoices) != 1 {
		t.Fatalf("expected one stored invoice, got %d (%v)", len(invoices), err)
	}

	req := httptest.NewRequest(http.MethodPost, "/invoices/update",
		strings.NewReader(`{"id":"`+invoices[0].ID+`","period":"2025-09","amount":"400","status":"draft"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HX-Request", "true")
	rr = app.do(req, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("json update status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = app.post("/invoices/delete", url.Values{"period": {"2025-09"}}, admin, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("delete without id: expected 422, got %d", rr.Code)
	}
	rr = app.post("/invoices/delete", url.Values{"id": {invoices[0].ID}, "period": {"2025-09"}}, admin, true)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("HX-Trigger"), "invoice:deleted") {
		t.Fatalf("delete status=%d trigger=%q", rr.Code, rr.Header().Get("HX-Trigger"))
	}
}

func TestDistributionWithoutInvoice(t *testing.T) {
	app := newTestApp(t)
	app.recordTwoMonths(t)

	rr := app.get("/ui/verdeling?period=2025-09", app.signIn(t, "admin@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("panel status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Geen gegevens beschikbaar") {
		t.Fatalf("month without invoice should render the no-data panel")
	}

	rr = app.get("/ui/verdeling?period=2025-13", app.signIn(t, "admin@example.com"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid period: expected 422, got %d", rr.Code)
	}
}

func TestDistributionPerViewer(t *testing.T) {
	app := newTestApp(t)
	app.recordTwoMonths(t)
	admin := app.signIn(t, "admin@example.com")

	rr := app.post("/invoices", url.Values{"period": {"2025-09"}, "amount": {"100"}, "status": {"final"}}, admin, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("create invoice status=%d", rr.Code)
	}

	rr = app.get("/verdeling", admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin verdeling status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Atelier") || !strings.Contains(body, "Bakkerij") {
		t.Fatalf("admin distribution should list every tenant")
	}

	rr = app.get("/ui/verdeling?period=2025-09", app.signIn(t, "atelier@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("tenant panel status=%d", rr.Code)
	}
	body = rr.Body.String()
	if !strings.Contains(body, "Atelier") || strings.Contains(body, "Bakkerij") {
		t.Fatalf("tenant distribution should only show the own row")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.get("/healthz", nil)

	rr := app.get("/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "verdeling_http_requests_total") {
		t.Fatalf("metrics missing request counter")
	}
}
