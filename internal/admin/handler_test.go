package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/ratelimit/service/requestlimit"
	"parley/internal/ratelimit/store/bucket"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	audit "parley/pkg/platform/audit"
	"parley/pkg/platform/audit/store/memory"
	"parley/pkg/testutil"
)

const scope = "/api/messages"

type fixture struct {
	router  http.Handler
	limiter *requestlimit.Service
	events  *memory.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	limiter, err := requestlimit.New(bucket.NewInMemoryBucketStore(), requestlimit.WithLimit(1, time.Minute))
	require.NoError(t, err)
	events := memory.NewInMemoryStore()

	r := chi.NewRouter()
	New(audit.NewPublisher(events), limiter, scope, logger).Register(r)
	return &fixture{router: r, limiter: limiter, events: events}
}

func asAdmin(req *http.Request) *http.Request {
	return testutil.WithPrincipal(req, id.NewUserID(), id.RoleAdmin)
}

func TestAdminRoleRequired(t *testing.T) {
	f := newFixture(t)

	rec := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/api/admin/audit"))
	testutil.AssertError(t, rec, http.StatusUnauthorized, dErrors.CodeUnauthorized)

	req := testutil.WithPrincipal(testutil.NewRequest(t, http.MethodGet, "/api/admin/audit"), id.NewUserID(), id.RoleModerator)
	rec = testutil.DoRequest(f.router, req)
	testutil.AssertError(t, rec, http.StatusForbidden, dErrors.CodeForbidden)
}

func TestResetRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	first, err := f.limiter.AdmitRequest(ctx, id.UserID{}, "203.0.113.9", scope, now)
	require.NoError(t, err)
	require.True(t, first.Allowed)
	blocked, err := f.limiter.AdmitRequest(ctx, id.UserID{}, "203.0.113.9", scope, now)
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	rec := testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodDelete, "/api/admin/ratelimit?ip=203.0.113.9")))
	require.Equal(t, http.StatusOK, rec.Code)
	var body RateLimitResetResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rl:ip:203.0.113.9:/api/messages", body.Key)

	again, err := f.limiter.AdmitRequest(ctx, id.UserID{}, "203.0.113.9", scope, now)
	require.NoError(t, err)
	assert.True(t, again.Allowed, "window cleared")

	recent, err := f.events.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, string(audit.EventRateLimitReset), recent[0].Action)
	assert.Equal(t, audit.CategorySecurity, recent[0].Category)
}

func TestRateLimitUsage(t *testing.T) {
	f := newFixture(t)
	userID := id.NewUserID()

	_, err := f.limiter.AdmitRequest(context.Background(), userID, "", scope, time.Now())
	require.NoError(t, err)

	rec := testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodGet, "/api/admin/ratelimit?user_id="+userID.String())))
	require.Equal(t, http.StatusOK, rec.Code)
	var body RateLimitUsageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rl:user:"+userID.String()+":/api/messages", body.Key)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 1, body.Limit)
	assert.Equal(t, 0, body.Remaining)
	assert.Equal(t, 60, body.WindowSeconds)

	recent, err := f.events.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "inspection is not audited")

	rec = testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodGet, "/api/admin/ratelimit")))
	testutil.AssertError(t, rec, http.StatusBadRequest, dErrors.CodeBadRequest)
}

func TestResetRateLimitValidation(t *testing.T) {
	f := newFixture(t)

	rec := testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodDelete, "/api/admin/ratelimit")))
	testutil.AssertError(t, rec, http.StatusBadRequest, dErrors.CodeBadRequest)

	rec = testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodDelete, "/api/admin/ratelimit?user_id=nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, action := range []audit.AuditEvent{audit.EventUserRegistered, audit.EventAdmissionRejected, audit.EventUserDeleted} {
		require.NoError(t, f.events.Append(ctx, audit.NewEvent(action, time.Now())))
	}

	rec := testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodGet, "/api/admin/audit?limit=2")))
	require.Equal(t, http.StatusOK, rec.Code)
	var body AuditEventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 2, body.Total)
	assert.Equal(t, string(audit.EventUserDeleted), body.Events[0].Action)

	rec = testutil.DoRequest(f.router, asAdmin(testutil.NewRequest(t, http.MethodGet, "/api/admin/audit?limit=-1")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
