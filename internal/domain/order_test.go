package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderStatusActive.Terminal())
	assert.False(t, OrderStatusClaimed.Terminal())
	assert.True(t, OrderStatusExecuted.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusFailed.Terminal())
	assert.True(t, OrderStatusExpired.Terminal())
}

func TestTriggerConditionValid(t *testing.T) {
	assert.True(t, TriggerAbove.Valid())
	assert.True(t, TriggerBelow.Valid())
	assert.False(t, TriggerCondition("sideways").Valid())
	assert.False(t, TriggerCondition("").Valid())
}

func TestOrderExpired(t *testing.T) {
	now := time.Now().UTC()
	deadline := now.Add(time.Hour)

	o := Order{ExpiresAt: &deadline}
	assert.False(t, o.Expired(now))
	assert.False(t, o.Expired(deadline), "the deadline itself is still within the lifetime")
	assert.True(t, o.Expired(deadline.Add(time.Second)))

	assert.False(t, Order{}.Expired(now), "orders without an expiry never expire")
}

func TestRetriesExhausted(t *testing.T) {
	assert.False(t, Order{RetryCount: 1, MaxRetries: 3}.RetriesExhausted())
	assert.True(t, Order{RetryCount: 3, MaxRetries: 3}.RetriesExhausted())
}

func TestValidationErrorUnwrapsToInvalidOrder(t *testing.T) {
	err := &ValidationError{
		Reason:       "trigger condition already satisfied at current price",
		CurrentPrice: 0.12,
		Threshold:    0.10,
		Distance:     0.02,
	}

	assert.True(t, errors.Is(err, ErrInvalidOrder))
	assert.Contains(t, err.Error(), "already satisfied")
}
