// Package console renders refreshing human-readable tables of the current
// fleet state. Output is cosmetic only; nothing reads it back.
package console

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/olekukonko/tablewriter"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
	"github.com/adred-codev/fleetwatch/internal/xrplversion"
)

const clearScreen = "\x1b[2J\x1b[H"

// Renderer draws the server, validator and amendment tables.
type Renderer struct {
	w               io.Writer
	amendments      []config.Amendment
	printAmendments bool
}

func New(w io.Writer, amendments []config.Amendment, printAmendments bool) *Renderer {
	return &Renderer{w: w, amendments: amendments, printAmendments: printAmendments}
}

// Render replaces the terminal contents with a fresh snapshot.
func (r *Renderer) Render(servers []*monitor.ServerRecord, validators []*monitor.ValidatorRecord) {
	fmt.Fprint(r.w, clearScreen)
	r.renderServers(servers)
	if len(validators) > 0 {
		r.renderValidators(validators)
		if r.printAmendments && len(r.amendments) > 0 {
			r.renderAmendments(validators)
		}
	}
}

func (r *Renderer) renderServers(servers []*monitor.ServerRecord) {
	sort.Slice(servers, func(i, j int) bool { return servers[i].ServerName < servers[j].ServerName })

	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{
		"Server Name", "State", "O.L. Fee", "Queue Fee", "Load Multiplier",
		"LL Hash", "History", "LL # Tx", "Forked?", "Last Updated",
	})

	for _, s := range servers {
		name := s.ServerName
		status := "-"
		if s.ServerStatus != nil {
			if *s.ServerStatus == "full" {
				status = aurora.Green(*s.ServerStatus).String()
			} else {
				status = aurora.Red(*s.ServerStatus).String()
				name = aurora.Red(name).String()
			}
		}
		forked := forkedCell(s.Forked)
		if s.Forked == nil || *s.Forked {
			name = aurora.Red(s.ServerName).String()
		}

		table.Append([]string{
			name,
			status,
			feeCell(s.LoadFactorFeeEscalation, s.FeeBase, s.LoadBase),
			feeCell(s.LoadFactorFeeQueue, s.FeeBase, s.LoadBase),
			loadCell(s.LoadFactor, s.LoadBase),
			trunc(s.LedgerHash),
			orDash(s.ValidatedLedgers),
			intCell(s.TxnCount),
			forked,
			s.TimeUpdated.Format(monitor.UpdatedTimeLayout),
		})
	}
	table.Render()
}

func (r *Renderer) renderValidators(validators []*monitor.ValidatorRecord) {
	sort.Slice(validators, func(i, j int) bool {
		return strings.ToLower(validators[i].ServerName) < strings.ToLower(validators[j].ServerName)
	})

	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{
		"Validator Name", "Master Key", "Eph Key", "Version", "Base Fee", "Local LL Fee",
		"LL Hash", "LL Index", "Full?", "Forked?", "Last Updated",
	})

	for _, v := range validators {
		name := strings.ToLower(v.ServerName)
		full := aurora.Red("false").String()
		if v.Full != nil && *v.Full {
			full = aurora.Green("true").String()
		} else {
			name = aurora.Red(name).String()
		}
		forked := forkedCell(v.Forked)
		if v.Forked == nil || *v.Forked {
			name = aurora.Red(strings.ToLower(v.ServerName)).String()
		}

		version := "-"
		if v.ServerVersion != nil {
			version = xrplversion.DecodeString(*v.ServerVersion)
		}

		table.Append([]string{
			name,
			trunc(v.MasterKey),
			trunc(v.ValidationPublicKey),
			version,
			intCell(v.BaseFee),
			intCell(v.LoadFee),
			trunc(v.LedgerHash),
			intCell(v.LedgerIndex),
			full,
			forked,
			v.TimeUpdated.Format(monitor.UpdatedTimeLayout),
		})
	}
	table.Render()
}

// renderAmendments aggregates which validators signal support for each known
// amendment, ranked by yea votes.
func (r *Renderer) renderAmendments(validators []*monitor.ValidatorRecord) {
	type vote struct {
		name       string
		supporters []string
	}
	votes := make([]vote, 0, len(r.amendments))
	for _, a := range r.amendments {
		v := vote{name: a.Name}
		for _, val := range validators {
			for _, id := range val.Amendments {
				if id == a.ID {
					v.supporters = append(v.supporters, val.ServerName)
					break
				}
			}
		}
		sort.Slice(v.supporters, func(i, j int) bool {
			return strings.ToLower(v.supporters[i]) < strings.ToLower(v.supporters[j])
		})
		votes = append(votes, v)
	}
	sort.SliceStable(votes, func(i, j int) bool { return len(votes[i].supporters) > len(votes[j].supporters) })

	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{"Amendment", "Yea Votes", "Nay Votes", "% Support", "Supporters"})
	table.SetRowLine(true)

	for _, v := range votes {
		yea := len(v.supporters)
		pct := math.Round(float64(yea)/float64(len(validators))*1000) / 10
		name := v.name
		pctCell := strconv.FormatFloat(pct, 'f', 1, 64)
		if pct > 80 {
			name = aurora.Green(name).String()
			pctCell = aurora.Green(pctCell).String()
		}
		table.Append([]string{
			name,
			strconv.Itoa(yea),
			strconv.Itoa(len(validators) - yea),
			pctCell,
			strings.Join(v.supporters, ", "),
		})
	}
	table.Render()
}

func forkedCell(forked *bool) string {
	switch {
	case forked == nil:
		return aurora.Red("unknown").String()
	case *forked:
		return aurora.Red("true").String()
	default:
		return aurora.Green("false").String()
	}
}

// feeCell scales an escalation fee into drops and colors it when elevated.
func feeCell(fee, feeBase, loadBase *int64) string {
	if fee != nil && feeBase != nil && loadBase != nil && *loadBase != 0 {
		calc := math.Round(float64(*fee)/float64(*loadBase)*float64(*feeBase)*10) / 10
		cell := strconv.FormatFloat(calc, 'f', 1, 64)
		switch {
		case calc > float64(*feeBase):
			return aurora.Red(cell).String()
		case calc == float64(*feeBase):
			return aurora.Green(cell).String()
		default:
			return strconv.FormatInt(*fee, 10)
		}
	}
	if feeBase != nil {
		return aurora.Green(strconv.FormatInt(*feeBase, 10)).String()
	}
	return intCell(fee)
}

// loadCell shows the load factor as a multiple of the base load.
func loadCell(loadFactor, loadBase *int64) string {
	if loadFactor == nil || loadBase == nil || *loadBase == 0 {
		return intCell(loadFactor)
	}
	ratio := math.Round(float64(*loadFactor)/float64(*loadBase)*10) / 10
	cell := strconv.FormatFloat(ratio, 'f', 1, 64)
	if *loadFactor == *loadBase {
		return aurora.Green(cell).String()
	}
	return aurora.Red(cell).String()
}

func trunc(s *string) string {
	if s == nil {
		return "-"
	}
	if len(*s) > monitor.KeyDisplayLen {
		return (*s)[:monitor.KeyDisplayLen]
	}
	return *s
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func intCell(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
