package inbound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/supportdesk/dispatcher/internal/model"
)

func TestFromWebSurface(t *testing.T) {
	now := time.Now()
	event := FromWebSurface("user-1", "hello", now)

	assert.Equal(t, "user-1", event.UserKey)
	assert.Equal(t, "user-1", event.ChannelKey)
	assert.Equal(t, "hello", event.Text)
	assert.Equal(t, model.SurfaceWeb, event.Surface)
}

func TestFromWebhookSurface(t *testing.T) {
	now := time.Now()
	event := FromWebhookSurface("user-2", "chan-9", "hi", now)

	assert.Equal(t, "user-2", event.UserKey)
	assert.Equal(t, "chan-9", event.ChannelKey)
	assert.Equal(t, model.SurfaceWebhook, event.Surface)
}
