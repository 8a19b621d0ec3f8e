package admission

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "parley/pkg/domain"
)

func at(hour int) time.Time {
	return time.Date(2024, 3, 1, hour, 15, 0, 0, time.UTC)
}

func TestAccessWindowGate(t *testing.T) {
	gate, err := NewAccessWindowGate("/api/messages", 18, 22, time.UTC)
	require.NoError(t, err)

	t.Run("POST at 10 rejected, at 19 admitted, GET at 10 admitted", func(t *testing.T) {
		assert.False(t, gate.Permit(http.MethodPost, "/api/messages", at(10)))
		assert.True(t, gate.Permit(http.MethodPost, "/api/messages", at(19)))
		assert.True(t, gate.Permit(http.MethodGet, "/api/messages", at(10)))
	})

	t.Run("every hour outside the range rejects mutations", func(t *testing.T) {
		for hour := range 24 {
			inside := hour >= 18 && hour < 22
			for _, method := range []string{http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete} {
				assert.Equal(t, inside, gate.Permit(method, "/api/messages/abc", at(hour)), "%s at %d", method, hour)
			}
			assert.True(t, gate.Permit(http.MethodGet, "/api/messages", at(hour)))
			assert.True(t, gate.Permit(http.MethodHead, "/api/messages", at(hour)))
			assert.True(t, gate.Permit(http.MethodOptions, "/api/messages", at(hour)))
		}
	})

	t.Run("end hour is exclusive", func(t *testing.T) {
		assert.True(t, gate.Permit(http.MethodPost, "/api/messages", time.Date(2024, 3, 1, 21, 59, 59, 0, time.UTC)))
		assert.False(t, gate.Permit(http.MethodPost, "/api/messages", time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)))
	})

	t.Run("unguarded paths pass", func(t *testing.T) {
		assert.True(t, gate.Permit(http.MethodPost, "/api/users", at(3)))
		assert.True(t, gate.Permit(http.MethodPost, "/api/messagesx", at(3)))
	})

	t.Run("intercept returns access window rejection", func(t *testing.T) {
		err := gate.Intercept(context.Background(), &Request{Method: http.MethodPost, Path: "/api/messages", Now: at(10)})
		var rej *Rejection
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, ReasonAccessWindow, rej.Reason)
		assert.Equal(t, http.StatusForbidden, rej.Status)
		assert.Equal(t, "access restricted at this time", rej.Message)
	})
}

func TestAccessWindowGateTimeZone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	gate, err := NewAccessWindowGate("/api/messages", 18, 22, paris)
	require.NoError(t, err)

	// 17:30 UTC in March is 18:30 in Paris.
	assert.True(t, gate.Permit(http.MethodPost, "/api/messages", time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)))
	assert.False(t, gate.Permit(http.MethodPost, "/api/messages", time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)))
}

func TestAccessWindowGateWrapsMidnight(t *testing.T) {
	gate, err := NewAccessWindowGate("/api/messages", 22, 2, time.UTC)
	require.NoError(t, err)

	for _, hour := range []int{22, 23, 0, 1} {
		assert.True(t, gate.Permit(http.MethodPost, "/api/messages", at(hour)), "hour %d", hour)
	}
	for _, hour := range []int{2, 12, 21} {
		assert.False(t, gate.Permit(http.MethodPost, "/api/messages", at(hour)), "hour %d", hour)
	}
}

func TestNewAccessWindowGateValidation(t *testing.T) {
	for _, hours := range [][2]int{{-1, 5}, {24, 2}, {3, 25}, {7, 7}} {
		t.Run(fmt.Sprint(hours), func(t *testing.T) {
			_, err := NewAccessWindowGate("/api", hours[0], hours[1], nil)
			assert.Error(t, err)
		})
	}
}

func TestRoleGate(t *testing.T) {
	gate, err := NewRoleGate("/api/messages", http.MethodDelete, []id.Role{id.RoleAdmin, id.RoleModerator})
	require.NoError(t, err)

	t.Run("critical method by role outside allow-list", func(t *testing.T) {
		for _, role := range []id.Role{id.RoleGuest, id.RoleHost} {
			assert.False(t, gate.Permit(role, http.MethodDelete), role)
		}
	})

	t.Run("critical method by allow-listed role", func(t *testing.T) {
		for _, role := range []id.Role{id.RoleAdmin, id.RoleModerator} {
			assert.True(t, gate.Permit(role, http.MethodDelete), role)
		}
	})

	t.Run("other methods pass for every role", func(t *testing.T) {
		for _, role := range []id.Role{id.RoleGuest, id.RoleHost, id.RoleAdmin, id.RoleModerator} {
			assert.True(t, gate.Permit(role, http.MethodPost))
			assert.True(t, gate.Permit(role, http.MethodGet))
		}
	})

	t.Run("method comparison ignores case", func(t *testing.T) {
		assert.False(t, gate.Permit(id.RoleGuest, "delete"))
	})

	t.Run("intercept only guards its path", func(t *testing.T) {
		req := &Request{Method: http.MethodDelete, Path: "/api/users/x", Role: id.RoleGuest}
		assert.NoError(t, gate.Intercept(context.Background(), req))

		req.Path = "/api/messages/x"
		var rej *Rejection
		require.ErrorAs(t, gate.Intercept(context.Background(), req), &rej)
		assert.Equal(t, ReasonRole, rej.Reason)
		assert.Equal(t, "not authorized", rej.Message)
	})
}

func TestNewRoleGateValidation(t *testing.T) {
	_, err := NewRoleGate("/api", "", nil)
	assert.Error(t, err)

	_, err = NewRoleGate("/api", http.MethodDelete, []id.Role{"root"})
	assert.Error(t, err)
}

func TestMatchesPrefix(t *testing.T) {
	assert.True(t, matchesPrefix("/api/messages", "/api/messages"))
	assert.True(t, matchesPrefix("/api/messages/1", "/api/messages/"))
	assert.False(t, matchesPrefix("/api/messagesx", "/api/messages"))
	assert.True(t, matchesPrefix("/anything", ""))
}

func TestRejectionRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, (&Rejection{}).RetryAfterSeconds())
	assert.Equal(t, 50, (&Rejection{RetryAfter: 50 * time.Second}).RetryAfterSeconds())
	assert.Equal(t, 1, (&Rejection{RetryAfter: time.Millisecond}).RetryAfterSeconds())
}
