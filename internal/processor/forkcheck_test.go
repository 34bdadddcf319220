package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

func setIndex(rec *monitor.ServerRecord, idx int64) {
	v := idx
	rec.LedgerIndex = &v
}

func TestForkDetectedAndResolved(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())
	now := time.Now().UTC()

	a := p.servers.ByURL("wss://a.example.net:51233")
	b := p.servers.ByURL("wss://b.example.net:51233")
	c := p.servers.ByURL("wss://c.example.net:51233")
	setIndex(a, 100)
	setIndex(b, 100)
	setIndex(c, 80)

	p.checkForks(now)

	require.NotNil(t, c.Forked)
	assert.True(t, *c.Forked)
	assert.NotNil(t, c.TimeForked)
	assert.False(t, *a.Forked)
	assert.False(t, *b.Forked)

	notifications := drainNotifications(q)
	require.Len(t, notifications, 1)
	assert.Regexp(t,
		`^Forked server: 'C' '' returned index: '80'\. The consensus mode was: '100'\. Time UTC: .+\.$`,
		notifications[0].Message)
	assert.Equal(t, "C", notifications[0].RecipientName)

	// C catches back up.
	setIndex(c, 100)
	p.checkForks(now.Add(10 * time.Second))

	assert.False(t, *c.Forked)
	assert.Nil(t, c.TimeForked)
	notifications = drainNotifications(q)
	require.Len(t, notifications, 1)
	assert.Regexp(t,
		`^Previously forked server: 'C' '' is back in consensus at ledger: '100'\. Time UTC: .+\.$`,
		notifications[0].Message)
}

func TestForkAlertedOnce(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())
	now := time.Now().UTC()

	setIndex(p.servers.ByURL("wss://a.example.net:51233"), 100)
	setIndex(p.servers.ByURL("wss://b.example.net:51233"), 100)
	c := p.servers.ByURL("wss://c.example.net:51233")
	setIndex(c, 80)

	for i := 0; i < 5; i++ {
		p.checkForks(now.Add(time.Duration(i) * 10 * time.Second))
	}

	assert.Len(t, drainNotifications(q), 1)
	require.NotNil(t, c.TimeForked)
	// time_forked marks the start of the run, not the latest sweep.
	assert.Equal(t, now, *c.TimeForked)
}

func TestMultimodalSkips(t *testing.T) {
	fleet := &config.Fleet{
		Servers: []config.ServerConfig{
			{URL: "ws://a.example.net", ServerName: "A"},
			{URL: "ws://b.example.net", ServerName: "B"},
			{URL: "ws://c.example.net", ServerName: "C"},
			{URL: "ws://d.example.net", ServerName: "D"},
		},
	}
	p, q := newTestProcessor(t, testConfig(), fleet)

	setIndex(p.servers.ByURL("ws://a.example.net"), 100)
	setIndex(p.servers.ByURL("ws://b.example.net"), 100)
	setIndex(p.servers.ByURL("ws://c.example.net"), 200)
	setIndex(p.servers.ByURL("ws://d.example.net"), 200)

	p.checkForks(time.Now().UTC())

	assert.Empty(t, drainNotifications(q))
	for _, rec := range p.servers.All() {
		assert.Nil(t, rec.Forked)
		assert.Nil(t, rec.TimeForked)
	}
	assert.True(t, p.modesAmbiguous)
}

func TestNoResolvedAlertWithoutPriorFork(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())

	for _, rec := range p.servers.All() {
		setIndex(rec, 100)
	}
	p.checkForks(time.Now().UTC())

	// Everyone is in consensus and nobody was previously forked.
	assert.Empty(t, drainNotifications(q))
	for _, rec := range p.servers.All() {
		require.NotNil(t, rec.Forked)
		assert.False(t, *rec.Forked)
	}
}

func TestDisconnectedServersExcluded(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())

	setIndex(p.servers.ByURL("wss://a.example.net:51233"), 100)
	setIndex(p.servers.ByURL("wss://b.example.net:51233"), 100)
	c := p.servers.ByURL("wss://c.example.net:51233")
	setIndex(c, 50)
	status := monitor.ServerStatusDisconnected
	c.ServerStatus = &status

	p.checkForks(time.Now().UTC())

	// A stale index on a disconnected server never reads as a fork.
	assert.Nil(t, c.Forked)
	assert.Empty(t, drainNotifications(q))
}

func TestValidatorsParticipateInForkCheck(t *testing.T) {
	fleet := stockFleet()
	fleet.Validators = []config.ValidatorConfig{
		{ServerName: "val1", MasterKey: "nHUkey1validator"},
	}
	p, q := newTestProcessor(t, testConfig(), fleet)

	setIndex(p.servers.ByURL("wss://a.example.net:51233"), 100)
	setIndex(p.servers.ByURL("wss://b.example.net:51233"), 100)
	setIndex(p.servers.ByURL("wss://c.example.net:51233"), 100)
	val := p.validators.All()[0]
	idx := int64(60)
	val.LedgerIndex = &idx

	p.checkForks(time.Now().UTC())

	require.NotNil(t, val.Forked)
	assert.True(t, *val.Forked)
	notifications := drainNotifications(q)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "Forked server: 'val1' 'nHUke'")
}

func TestCalcModes(t *testing.T) {
	assert.Equal(t, []int64{100}, calcModes([]int64{100, 100, 80}))
	assert.Equal(t, []int64{100, 200}, calcModes([]int64{100, 100, 200, 200}))
	assert.Equal(t, []int64{7}, calcModes([]int64{7}))
}
