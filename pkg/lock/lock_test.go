package lock_test

import (
	"sync"
	"testing"

	"github.com/dukex/flowrule/pkg/lock"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := lock.New()
	counter := 0

	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := locks.Lock("rule_1")
			defer unlock()

			current := counter
			counter = current + 1
		}()
	}

	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	t.Parallel()

	locks := lock.New()

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")

	assert.Equal(t, 2, locks.Len())

	unlockA()
	unlockB()

	assert.Equal(t, 0, locks.Len())
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tenant/rules/rule_1", lock.Key("tenant", "rules", "rule_1"))
	assert.Equal(t, "", lock.Key())
}
