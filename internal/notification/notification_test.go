package notification

import (
	"errors"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/cardroomhq/cardroom/config"
)

func TestSlackNotification(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.slack.com/services/test",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"ok": true}))

	config.MockConfig(&config.Configuration{
		Notification: config.Notification{
			Slack: config.SlackWebhook{WebhookUrl: "https://hooks.slack.com/services/test"},
		},
	})

	SlackNotification(errors.New("dividend worker lost its database connection"))

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST https://hooks.slack.com/services/test"])
}

func TestSlackNotificationNoConfig(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{})

	// No webhook configured: nothing should be sent and nothing should panic.
	SlackNotification(errors.New("boom"))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
