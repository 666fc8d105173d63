package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "", DecodeText(nil))
	assert.Equal(t, "héllo", DecodeText([]byte("héllo")))
	assert.Equal(t, "a��b", DecodeText([]byte{'a', 0xff, 0xfe, 'b'}))
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "1.500", FormatMillis(1500*time.Microsecond))
	assert.Equal(t, "0.000", FormatMillis(0))
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), 1, time.Millisecond, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 2, calls)
}

func TestRetryNegativeRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), -1, time.Millisecond, func() error {
		calls++
		return errors.New("unreachable")
	})
	assert.EqualError(t, err, "unreachable")
	assert.Equal(t, 1, calls)
}

func TestRetryIfStopsOnPermanent(t *testing.T) {
	permanent := errors.New("closed")
	calls := 0
	err := RetryIf(context.Background(), 5, time.Millisecond,
		func(err error) bool { return err != permanent },
		func() error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return permanent
		})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 2, calls)
}

func TestSleepContextStops(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	assert.False(t, SleepContext(context.Background(), time.Hour, stop))
	assert.True(t, SleepContext(context.Background(), time.Millisecond, nil))
}
