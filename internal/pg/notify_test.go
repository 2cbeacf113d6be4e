package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationPayload(t *testing.T) {
	payload, err := encodeNotification("orders.changed", map[string]any{"id": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"orders.changed","data":{"id":7}}`, payload)

	event, data, err := decodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, "orders.changed", event)
	assert.Equal(t, map[string]any{"id": float64(7)}, data)
}

func TestNotificationPayload_NilData(t *testing.T) {
	payload, err := encodeNotification("cache.flush", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"cache.flush"}`, payload)
}

func TestDecodeNotification_Invalid(t *testing.T) {
	for _, payload := range []string{"", "not json", `{"data":1}`} {
		_, _, err := decodeNotification(payload)
		assert.Error(t, err, "payload %q", payload)
	}
}

func TestEncodeNotification_Unmarshalable(t *testing.T) {
	_, err := encodeNotification("bad", make(chan int))
	assert.Error(t, err)
}

func TestNewNotifier_DefaultChannel(t *testing.T) {
	n := NewNotifier(nil, "", nil)
	assert.Equal(t, DefaultChannel, n.Channel())
}
