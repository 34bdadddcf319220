package processor

import (
	"fmt"
	"sort"
	"time"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/metrics"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// forkable is the slice of record behavior the fork sweep needs; both server
// and validator records satisfy it.
type forkable interface {
	DisplayName() string
	ShortKey() string
	Evaluable() bool
	ForkState() (forked *bool, index *int64)
	SetForked(forked bool, now time.Time)
	Recipient() *config.NotificationTargets
}

// checkForks runs one fork sweep over both tables. The consensus reference
// is the mode of all observed ledger indexes; a sweep with more than one
// mode mutates nothing, because the network is mid-transition and any alert
// would be noise.
func (p *Processor) checkForks(now time.Time) {
	records := make([]forkable, 0, p.servers.Len()+p.validators.Len())
	for _, r := range p.servers.All() {
		records = append(records, r)
	}
	for _, r := range p.validators.All() {
		records = append(records, r)
	}

	var indexes []int64
	for _, r := range records {
		if _, idx := r.ForkState(); idx != nil {
			indexes = append(indexes, *idx)
		}
	}
	if len(indexes) == 0 {
		return
	}

	modes := calcModes(indexes)
	if len(modes) > 1 {
		p.modesAmbiguous = true
		metrics.RecordForkCheckSkipped()
		p.logger.Warn().Ints64("modes", modes).Int("records", len(records)).
			Msg("Multiple modes found for last ledger indexes, skipping fork check")
		return
	}
	mode := modes[0]
	p.llMode = mode
	p.llModeKnown = true
	p.modesAmbiguous = false

	forkedCount := 0
	for _, r := range records {
		if !r.Evaluable() {
			continue
		}
		prior, idx := r.ForkState()
		forked := absInt64(*idx-mode) > p.cfg.LLForkCutoff
		r.SetForked(forked, now)
		if forked {
			forkedCount++
		}

		switch {
		case forked && (prior == nil || !*prior):
			body := fmt.Sprintf(
				"Forked server: '%s' '%s' returned index: '%d'. The consensus mode was: '%d'. Time UTC: %s.",
				r.DisplayName(), r.ShortKey(), *idx, mode, now.Format(monitor.AlertTimeLayout),
			)
			p.logger.Warn().Msg(body)
			p.alert(body, r.DisplayName(), r.Recipient())
		case !forked && prior != nil && *prior:
			body := fmt.Sprintf(
				"Previously forked server: '%s' '%s' is back in consensus at ledger: '%d'. Time UTC: %s.",
				r.DisplayName(), r.ShortKey(), *idx, now.Format(monitor.AlertTimeLayout),
			)
			p.logger.Warn().Msg(body)
			p.alert(body, r.DisplayName(), r.Recipient())
		}
	}

	metrics.SetForkedCount(forkedCount)
	p.logger.Debug().Int64("mode", mode).Int("forked", forkedCount).
		Msg("Fork check complete")
}

// calcModes returns the value(s) of maximum frequency, sorted ascending.
func calcModes(values []int64) []int64 {
	counts := make(map[int64]int, len(values))
	max := 0
	for _, v := range values {
		counts[v]++
		if counts[v] > max {
			max = counts[v]
		}
	}
	var modes []int64
	for v, c := range counts {
		if c == max {
			modes = append(modes, v)
		}
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
