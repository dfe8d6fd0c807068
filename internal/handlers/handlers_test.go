package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"mira-api/internal/handlers"
	"mira-api/internal/middleware"
	"mira-api/internal/models"
	"mira-api/internal/router"
	"mira-api/internal/services"
	"mira-api/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("handler-secret")

var (
	operator = models.Actor{Id: "op-1", Name: "Operador Um", Role: models.RoleOperator}
	other    = models.Actor{Id: "op-2", Name: "Operador Dois", Role: models.RoleOperator}
	command  = models.Actor{Id: "adm-1", Name: "Comando", Role: models.RoleAdmin}
)

type stubGeocoder struct {
	reverse string
	forward map[string]models.LatLng
	search  []string
}

func (s stubGeocoder) ReverseGeocode(context.Context, float64, float64) string { return s.reverse }

func (s stubGeocoder) GeocodeAddress(_ context.Context, address string) *models.LatLng {
	if c, ok := s.forward[address]; ok {
		return &c
	}
	return nil
}

func (s stubGeocoder) SearchAddress(_ context.Context, q string) []string {
	if len([]rune(q)) < services.MinSearchLength {
		return nil
	}
	return s.search
}

type testServer struct {
	handler http.Handler
	store   *services.MemoryAssetStore
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	geo := stubGeocoder{
		reverse: "Av. Beira Mar, Meireles, Fortaleza - Ceará",
		forward: map[string]models.LatLng{"Praça do Ferreira": {Lat: -3.7275, Lng: -38.5276}},
		search:  []string{"Rua Um, Fortaleza", "Rua Um, Caucaia"},
	}

	store := services.NewMemoryAssetStore()
	blobs := services.NewMemoryBlobStore()
	audit := services.NewAuditService(services.NewMemoryAuditStore(), nil)
	decoder := utils.NewGoexifDecoder()
	extractor := services.NewMetadataService(utils.NewImageExtractor(decoder, nil), utils.NewVideoExtractor(nil), nil)

	previews := services.NewCacheService[models.CacheEntry](time.Minute, 0)
	suggest := services.NewSuggestService(geo, time.Millisecond, services.MinSearchLength)
	t.Cleanup(previews.Close)
	t.Cleanup(suggest.Close)

	h := handlers.New(handlers.Deps{
		Assets:   services.NewAssetService(store, blobs, services.NewReconcileService(store, geo, nil), audit, previews, nil),
		Ingest:   services.NewIngestService(extractor, store, blobs, audit, decoder, services.IngestConfig{}, nil),
		Suggest:  suggest,
		Geocoder: geo,
		Audit:    audit,
	})

	mux := router.Setup(h)
	return testServer{
		handler: middleware.RequestID(middleware.JWTAuth(secret)(mux)),
		store:   store,
	}
}

func (s testServer) do(t *testing.T, actor *models.Actor, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if actor != nil {
		token, err := middleware.SignActor(*actor, secret, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) doJSON(t *testing.T, actor *models.Actor, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	return s.do(t, actor, method, target, &buf, "application/json")
}

func multipartBody(t *testing.T, files map[string]string, order []string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		if strings.HasSuffix(name, ".mp4") {
			header.Set("Content-Type", "video/mp4")
		} else {
			header.Set("Content-Type", "image/jpeg")
		}
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("lastModified", "1715938212000"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, s testServer, actor models.Actor) services.IngestResult {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{
		"voo.mp4":  "ftyp....[lat : -3.7172][long : -38.5283]",
		"nada.jpg": "not really a jpeg",
	}, []string{"voo.mp4", "nada.jpg"})

	rec := s.do(t, &actor, http.MethodPost, "/assets", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result services.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func TestHealthNeedsNoToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, nil, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, nil, http.MethodGet, "/assets", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadAndList(t *testing.T) {
	s := newTestServer(t)
	result := upload(t, s, operator)

	require.Len(t, result.Assets, 2)
	assert.True(t, result.Assets[0].HasGPS)
	assert.False(t, result.Assets[1].HasGPS)
	require.NotNil(t, result.MapCenter)
	assert.Equal(t, -3.7172, result.MapCenter.Lat)

	rec := s.do(t, &operator, http.MethodGet, "/assets?gps=none", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []services.AssetView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "nada.jpg", views[0].Name)
	assert.True(t, views[0].CanEdit)
	assert.Contains(t, views[0].Timestamp, "/05/2024, ")

	rec = s.do(t, &operator, http.MethodGet, "/assets?type=audio", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &operator, http.MethodGet, "/assets/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":2,"images":1,"videos":1,"noGps":1}`, rec.Body.String())
}

func TestUploadRequiresFiles(t *testing.T) {
	s := newTestServer(t)
	body, contentType := multipartBody(t, nil, nil)
	rec := s.do(t, &operator, http.MethodPost, "/assets", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsTooManyFiles(t *testing.T) {
	s := newTestServer(t)
	names := make([]string, services.MaxBatchFiles+1)
	for i := range names {
		names[i] = fmt.Sprintf("foto-%03d.jpg", i)
	}
	body, contentType := multipartBody(t, map[string]string{}, names)

	rec := s.do(t, &operator, http.MethodPost, "/assets", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &operator, http.MethodGet, "/assets", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetLocksAddressAndPatchRespectsLock(t *testing.T) {
	s := newTestServer(t)
	clip := upload(t, s, operator).Assets[0]

	rec := s.do(t, &other, http.MethodGet, "/assets/"+clip.Id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view services.AssetView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Av. Beira Mar, Meireles, Fortaleza - Ceará", view.Address)
	assert.Equal(t, services.StateGPSLocked, view.State)
	assert.True(t, view.AddressLocked)
	assert.False(t, view.CanEdit)

	rec = s.doJSON(t, &other, http.MethodPatch, "/assets/"+clip.Id, map[string]string{"observation": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.doJSON(t, &operator, http.MethodPatch, "/assets/"+clip.Id, map[string]string{
		"address":     "Outro lugar",
		"observation": "Base avançada",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Av. Beira Mar, Meireles, Fortaleza - Ceará", view.Address)
	assert.Equal(t, "Base avançada", view.Observation)

	rec = s.doJSON(t, &operator, http.MethodPatch, "/assets/"+clip.Id, map[string]string{"color": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &operator, http.MethodGet, "/assets/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualAddressAdoptsCoordinates(t *testing.T) {
	s := newTestServer(t)
	photo := upload(t, s, operator).Assets[1]

	rec := s.doJSON(t, &operator, http.MethodPatch, "/assets/"+photo.Id, map[string]string{"address": "Praça do Ferreira"})
	require.Equal(t, http.StatusOK, rec.Code)

	var view services.AssetView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.HasGPS)
	assert.Equal(t, -3.7275, *view.Latitude)
	assert.Equal(t, services.StateGPSLocked, view.State)
}

func TestBatchDeleteAndAudit(t *testing.T) {
	s := newTestServer(t)
	mine := upload(t, s, operator).Assets
	theirs := upload(t, s, other).Assets

	rec := s.doJSON(t, &operator, http.MethodPost, "/assets/delete", map[string][]string{"ids": {theirs[0].Id}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.doJSON(t, &operator, http.MethodPost, "/assets/delete", map[string][]string{"ids": {}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(t, &operator, http.MethodPost, "/assets/delete", map[string][]string{
		"ids": {mine[0].Id, mine[1].Id, theirs[0].Id},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	assert.ElementsMatch(t, []string{mine[0].Id, mine[1].Id}, deleted["deleted"])

	rec = s.do(t, &operator, http.MethodGet, "/audit", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &command, http.MethodGet, "/audit?q=exclus", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "EXCLUSÃO DE 2 ATIVOS: voo.mp4, nada.jpg", entries[0].Action)
	assert.Equal(t, "Operador Um", entries[0].UserName)

	rec = s.do(t, &command, http.MethodGet, "/audit?limit=1", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Action, "EXCLUSÃO")
}

func TestDownloadSetsDisposition(t *testing.T) {
	s := newTestServer(t)
	clip := upload(t, s, operator).Assets[0]

	rec := s.do(t, &other, http.MethodGet, "/assets/"+clip.Id+"/download", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=voo.mp4`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "[lat : -3.7172]")

	rec = s.do(t, &other, http.MethodGet, "/assets/"+clip.Id+"/preview", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddressEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, &operator, http.MethodGet, "/address/suggest?q=Rua+Um&session=editor", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"suggestions":["Rua Um, Fortaleza","Rua Um, Caucaia"]}`, rec.Body.String())

	rec = s.do(t, &operator, http.MethodGet, "/address/suggest?q=Ru&session=editor", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"suggestions":[]}`, rec.Body.String())

	clip := upload(t, s, operator).Assets[0]
	rec = s.do(t, &operator, http.MethodGet, "/address/suggest?q=Rua+Um&session=editor&asset="+clip.Id, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &operator, http.MethodGet, "/address/locate?q=Pra%C3%A7a+do+Ferreira", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lat":-3.7275,"lng":-38.5276}`, rec.Body.String())

	rec = s.do(t, &operator, http.MethodGet, "/address/locate?q=Lugar+nenhum", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDriveSyncUnconfigured(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, &operator, http.MethodPost, "/drive/sync", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &command, http.MethodPost, "/drive/sync", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
