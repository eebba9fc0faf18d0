package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-cloud/tenant-split-backend/api/adminhandler"
	"github.com/arcadia-cloud/tenant-split-backend/api/migrationhandler"
	"github.com/arcadia-cloud/tenant-split-backend/auth"
	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/datastore"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/orchestrator"
	"github.com/arcadia-cloud/tenant-split-backend/platform"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
)

func testHTTPServer(t *testing.T) *Server {
	t.Helper()

	log := slog.Default()
	hasher, err := checksum.New(checksum.AlgoSHA256)
	require.NoError(t, err)

	ldgr := ledger.New(uint256.NewInt(1000), uint256.NewInt(100), log)
	reg := registry.New(log)
	imp := importer.NewManager(importer.DefaultConfig(), hasher, log)
	authorizer := auth.NewStaticAuthorizer([]interfaces.OwnerID{"root"})

	orch, err := orchestrator.New(
		orchestrator.Config{ServiceIdentity: "service", FundingAmount: uint256.NewInt(500), Image: []byte("image")},
		ldgr, reg,
		export.NewExporter(datastore.NewMemory(log), hasher, "shared-1", log),
		imp,
		&platform.MockPlatformAPI{},
		authorizer,
		hasher,
		nil, nil, nil,
		log,
	)
	require.NoError(t, err)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
		Log:                      log,
	},
		migrationhandler.NewHandler(orch, imp, log),
		adminhandler.NewHandler(ldgr, reg, imp, authorizer, nil, log),
		nil,
	)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, router http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealthEndpoints(t *testing.T) {
	srv := testHTTPServer(t)
	router := srv.getRouter()

	code, body := get(t, router, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "alive")

	code, body = get(t, router, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")
}

func TestDrainUndrain(t *testing.T) {
	srv := testHTTPServer(t)
	router := srv.getRouter()

	code, body := get(t, router, "/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "draining")

	code, _ = get(t, router, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = get(t, router, "/undrain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")

	code, _ = get(t, router, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestAPIRoutesMounted(t *testing.T) {
	srv := testHTTPServer(t)
	router := srv.getRouter()

	// Anonymous migration run is rejected by the handler, not a 404.
	req := httptest.NewRequest(http.MethodPost, "/api/migrations/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Admin surface requires the allowlist.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/ledger", nil)
	req.Header.Set("X-Caller-ID", "root")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
