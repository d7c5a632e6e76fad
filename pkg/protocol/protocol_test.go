package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"ping","data":{},"timestamp":"2024-03-01T10:00:00.000Z"}`))
		require.NoError(t, err)
		assert.Equal(t, TypePing, env.Type)
		assert.Equal(t, 2024, env.Timestamp.Year())
	})

	t.Run("MissingData", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"ping"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(env.Data))
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`not json`))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope))
	})

	t.Run("MissingType", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`{"data":{}}`))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope))
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	frame, err := Encode(TypeMarkRead, MarkReadData{NotificationID: "n1"})
	require.NoError(t, err)

	env, err := ParseEnvelope(frame)
	require.NoError(t, err)

	var data MarkReadData
	require.NoError(t, env.Decode(&data))
	assert.Equal(t, "n1", data.NotificationID)
	assert.WithinDuration(t, time.Now(), env.Timestamp, 5*time.Second)
}

func TestRegisterData(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		id      string
		admin   bool
	}{
		{"NumericID", `{"id":42,"role":"user"}`, "42", false},
		{"StringID", `{"id":"u-1","role":"admin"}`, "u-1", true},
		{"IsAdminFlag", `{"id":"u-2","isAdmin":true}`, "u-2", true},
		{"IsAdminFalse", `{"id":"u-3","isAdmin":false}`, "u-3", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var data RegisterData
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &data))
			assert.Equal(t, tc.id, data.ID.String())
			assert.Equal(t, tc.admin, data.Admin())
		})
	}
}

func TestNotificationCreatedAtCoercion(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"ISO", `"2024-05-01T12:30:00.000Z"`, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
		{"SQL", `"2024-05-01 12:30:00"`, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
		{"UnixMillis", `1714566600000`, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var n Notification
			err := json.Unmarshal([]byte(`{"id":7,"type":"order","title":"t","message":"m","createdAt":`+tc.raw+`}`), &n)
			require.NoError(t, err)
			assert.Equal(t, "7", n.ID)
			assert.True(t, tc.want.Equal(n.CreatedAt), "got %s", n.CreatedAt)
		})
	}
}

func TestNotificationUnknownTypeFallsBackToSystem(t *testing.T) {
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","type":"weird","priority":"extreme"}`), &n))
	assert.Equal(t, NotificationSystem, n.Type)
	assert.Equal(t, PriorityMedium, n.Priority)
}

func TestDecodeNotifications(t *testing.T) {
	list, err := DecodeNotifications(json.RawMessage(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	single, err := DecodeNotifications(json.RawMessage(`{"id":"c"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "c", single[0].ID)
}

func TestMessageTypeDirection(t *testing.T) {
	assert.Equal(t, DirectionInbound, TypeRegister.Direction())
	assert.Equal(t, DirectionOutbound, TypeAdminOrderUpdated.Direction())
	assert.False(t, MessageType("nope").Known())
}
