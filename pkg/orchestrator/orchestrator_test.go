package orchestrator

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"venue-swap/pkg/metrics"
)

func TestIssueIsMonotonic(t *testing.T) {
	ch := NewChannel(VenueAMM, nil)
	h1 := ch.Issue()
	h2 := ch.Issue()

	assert.Greater(t, h2.Token(), h1.Token())
	assert.True(t, ch.IsStale(h1))
	assert.False(t, ch.IsStale(h2))
}

func TestLaterRequestWinsRegardlessOfResolutionOrder(t *testing.T) {
	ch := NewChannel(VenueOffchain, nil)
	before := testutil.ToFloat64(metrics.StaleResponses.WithLabelValues("offchain"))

	var applied string
	r1 := ch.Issue() // old amount
	r2 := ch.Issue() // amount the user typed next

	release1 := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-release1
		ch.Apply(r1, func() { applied = "r1" })
	}()
	go func() {
		defer wg.Done()
		ch.Apply(r2, func() { applied = "r2" })
		close(release1)
	}()
	wg.Wait()

	assert.Equal(t, "r2", applied)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StaleResponses.WithLabelValues("offchain")))
}

func TestApplyWhenFirstResolvesFirst(t *testing.T) {
	ch := NewChannel(VenueAMM, nil)
	var applied []string

	r1 := ch.Issue()
	r2 := ch.Issue()

	assert.False(t, ch.Apply(r1, func() { applied = append(applied, "r1") }))
	assert.True(t, ch.Apply(r2, func() { applied = append(applied, "r2") }))
	assert.Equal(t, []string{"r2"}, applied)
}

func TestChannelsAreIndependent(t *testing.T) {
	o := New(nil)
	amm := o.Channel(VenueAMM)
	off := o.Channel(VenueOffchain)

	hAMM := amm.Issue()
	hOff := off.Issue()
	off.Issue()

	assert.False(t, amm.IsStale(hAMM))
	assert.True(t, off.IsStale(hOff))
	assert.Same(t, amm, o.Channel(VenueAMM))
}

func TestInvalidateAll(t *testing.T) {
	o := New(nil)
	h1 := o.Channel(VenueAMM).Issue()
	h2 := o.Channel(VenueComposite).Issue()

	o.InvalidateAll()

	assert.True(t, o.Channel(VenueAMM).IsStale(h1))
	assert.True(t, o.Channel(VenueComposite).IsStale(h2))
}

func TestConcurrentIssueApply(t *testing.T) {
	ch := NewChannel(VenueAMM, nil)
	var mu sync.Mutex
	var last uint64

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := ch.Issue()
			ch.Apply(h, func() {
				mu.Lock()
				if h.Token() > last {
					last = h.Token()
				}
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	final := ch.Issue()
	assert.Less(t, last, final.Token())
}
