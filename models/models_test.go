package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BroadcastJobStatus
		want     bool
	}{
		{BroadcastJobStatusQueued, BroadcastJobStatusRunning, true},
		{BroadcastJobStatusQueued, BroadcastJobStatusCancelled, true},
		{BroadcastJobStatusQueued, BroadcastJobStatusPaused, false},
		{BroadcastJobStatusQueued, BroadcastJobStatusDone, false},
		{BroadcastJobStatusRunning, BroadcastJobStatusPaused, true},
		{BroadcastJobStatusRunning, BroadcastJobStatusDone, true},
		{BroadcastJobStatusRunning, BroadcastJobStatusFailed, true},
		{BroadcastJobStatusRunning, BroadcastJobStatusCancelled, true},
		{BroadcastJobStatusRunning, BroadcastJobStatusQueued, false},
		{BroadcastJobStatusPaused, BroadcastJobStatusRunning, true},
		{BroadcastJobStatusPaused, BroadcastJobStatusCancelled, true},
		{BroadcastJobStatusPaused, BroadcastJobStatusDone, false},
		{BroadcastJobStatusDone, BroadcastJobStatusRunning, false},
		{BroadcastJobStatusCancelled, BroadcastJobStatusQueued, false},
		{BroadcastJobStatusFailed, BroadcastJobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionSources(t *testing.T) {
	all := []BroadcastJobStatus{
		BroadcastJobStatusQueued, BroadcastJobStatusRunning, BroadcastJobStatusPaused,
		BroadcastJobStatusCancelled, BroadcastJobStatusDone, BroadcastJobStatusFailed,
	}
	assert.Equal(t, []BroadcastJobStatus{BroadcastJobStatusQueued, BroadcastJobStatusRunning, BroadcastJobStatusPaused},
		TransitionSources(all, BroadcastJobStatusCancelled))
	assert.Equal(t, []BroadcastJobStatus{BroadcastJobStatusRunning}, TransitionSources(all, BroadcastJobStatusDone))
	assert.Empty(t, TransitionSources([]BroadcastJobStatus{BroadcastJobStatusDone}, BroadcastJobStatusRunning))
}

func TestBroadcastJobStatusTerminal(t *testing.T) {
	for _, s := range TerminalJobStatuses {
		assert.True(t, s.IsTerminal(), s)
		for _, target := range []BroadcastJobStatus{
			BroadcastJobStatusQueued, BroadcastJobStatusRunning, BroadcastJobStatusPaused,
			BroadcastJobStatusCancelled, BroadcastJobStatusDone, BroadcastJobStatusFailed,
		} {
			assert.False(t, s.CanTransitionTo(target), "%s must not leave to %s", s, target)
		}
	}
	for _, s := range ActionableJobStatuses {
		assert.False(t, s.IsTerminal())
	}
}

func TestBroadcastJobStatusValuer(t *testing.T) {
	v, err := BroadcastJobStatusRunning.Value()
	require.NoError(t, err)
	assert.Equal(t, "running", v)

	_, err = BroadcastJobStatus("bogus").Value()
	assert.Error(t, err)

	var s BroadcastJobStatus
	require.NoError(t, s.Scan([]byte("paused")))
	assert.Equal(t, BroadcastJobStatusPaused, s)
	assert.Error(t, s.Scan(42))

	var rs RecipientStatus
	require.NoError(t, rs.Scan("sent"))
	assert.Equal(t, RecipientStatusSent, rs)
	assert.False(t, RecipientStatus("queued").Valid())
}

func TestDeliveryConfigScan(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var c DeliveryConfig
		require.NoError(t, c.Scan([]byte(`{"image_url":"https://x.io/a.png","custom_buttons":[{"text":"Read","url":"x.io"}]}`)))
		assert.True(t, c.HasImage())
		require.Len(t, c.CustomButtons, 1)
		assert.Equal(t, "Read", c.CustomButtons[0].Text)
	})

	t.Run("malformed becomes empty", func(t *testing.T) {
		c := DeliveryConfig{ButtonText: "stale"}
		require.NoError(t, c.Scan([]byte(`{"custom_buttons": "oops`)))
		assert.Equal(t, DeliveryConfig{}, c)
	})

	t.Run("unexpected type becomes empty", func(t *testing.T) {
		var c DeliveryConfig
		require.NoError(t, c.Scan(12))
		assert.Empty(t, c.CustomButtons)
	})

	t.Run("round trip", func(t *testing.T) {
		in := DeliveryConfig{ButtonText: "Go", ButtonURL: "https://a.b", ParseMode: "HTML"}
		raw, err := in.Value()
		require.NoError(t, err)
		var out DeliveryConfig
		require.NoError(t, out.Scan(raw))
		assert.Equal(t, in, out)
	})
}

func TestAudienceFilterScan(t *testing.T) {
	var f AudienceFilter
	require.NoError(t, f.Scan(`{"zodiac_signs":["Leo"],"include_inactive":true}`))
	assert.Equal(t, []string{"Leo"}, f.ZodiacSigns)
	assert.True(t, f.IncludeInactive)

	require.NoError(t, f.Scan(`not json`))
	assert.Equal(t, AudienceFilter{}, f)
}

func TestBroadcastJobPending(t *testing.T) {
	assert.Equal(t, 3, BroadcastJob{Total: 10, Sent: 5, Failed: 2}.Pending())
	assert.Equal(t, 0, BroadcastJob{Total: 1, Sent: 1, Failed: 1}.Pending())
}

func TestBroadcastJobBeforeCreate(t *testing.T) {
	j := &BroadcastJob{}
	require.NoError(t, j.BeforeCreate(nil))
	assert.NotEmpty(t, j.UUID.String())
	assert.Equal(t, BroadcastJobStatusQueued, j.Status)
}

func TestSubscriberFilterFromAudience(t *testing.T) {
	f := SubscriberFilterFromAudience(AudienceFilter{ZodiacSigns: []string{" Leo ", "PISCES"}, PlanCodes: []string{"gold"}})
	assert.Equal(t, []string{"leo", "pisces"}, f.ZodiacSigns)
	assert.Equal(t, []string{"gold"}, f.PlanCodes)
	require.NotNil(t, f.IsActive)
	require.NotNil(t, f.IsBlocked)
	assert.True(t, *f.IsActive)
	assert.False(t, *f.IsBlocked)

	f = SubscriberFilterFromAudience(AudienceFilter{IncludeInactive: true})
	assert.Nil(t, f.IsActive)
	assert.Nil(t, f.IsBlocked)
}

func TestSubscriberDisplayName(t *testing.T) {
	first := "  Sara "
	user := "@stargazer"
	assert.Equal(t, "Sara", *Subscriber{FirstName: &first, Username: &user}.DisplayName())
	assert.Equal(t, "@stargazer", *Subscriber{Username: &user}.DisplayName())
	assert.Nil(t, Subscriber{}.DisplayName())
	assert.True(t, IsZodiacSign("Scorpio"))
	assert.False(t, IsZodiacSign("ophiuchus"))
}
