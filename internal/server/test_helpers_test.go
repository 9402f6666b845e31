package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/auth"
	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "blockpad-test"
	testCookieName    = "blockpad_session"
	testSubject       = "user-123"
)

type testEnvironment struct {
	handler  http.Handler
	blocks   *blocks.Service
	pages    *pages.Service
	realtime *RealtimeDispatcher
	token    string
}

func newTestEnvironment(t *testing.T) testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&pages.PageRecord{}, &blocks.BlockRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	policy := sanitize.NewPolicy()
	blockService, err := blocks.NewService(blocks.ServiceConfig{
		Database:   db,
		IDProvider: blocks.NewUUIDProvider(),
		Projector:  policy,
	})
	if err != nil {
		t.Fatalf("failed to construct block service: %v", err)
	}
	pageService, err := pages.NewService(pages.ServiceConfig{
		Database:   db,
		IDProvider: blocks.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct page service: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	token, _, err := issuer.IssueToken(testSubject, "Tester")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		BlocksService:     blockService,
		PagesService:      pageService,
		Sanitizer:         policy,
		Realtime:          dispatcher,
		Logger:            zap.NewNop(),
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return testEnvironment{
		handler:  handler,
		blocks:   blockService,
		pages:    pageService,
		realtime: dispatcher,
		token:    token,
	}
}

func (e testEnvironment) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Authorization", "Bearer "+e.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e testEnvironment) mustCreatePage(t *testing.T, title string) pages.PageSummary {
	t.Helper()
	page, err := e.pages.CreatePage(context.Background(), pages.NewPage{Title: title})
	if err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	return page
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type blockBody struct {
	Block struct {
		blocks.Block
		HTML string `json:"html"`
	} `json:"block"`
}

type blocksBody struct {
	Blocks []struct {
		blocks.Block
		HTML string `json:"html"`
	} `json:"blocks"`
}
