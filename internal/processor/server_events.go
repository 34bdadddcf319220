package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// flexInt64 tolerates numeric fields that some server versions send as JSON
// strings (notably ledger_index in validation messages).
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = flexInt64(v)
	return nil
}

// serverStatusMsg covers both the initial subscribe response result and
// subsequent serverStatus stream messages. Absent fields stay nil and leave
// the record untouched.
type serverStatusMsg struct {
	ServerStatus  *string `json:"server_status"`
	PubkeyNode    *string `json:"pubkey_node"`
	HostID        *string `json:"hostid"`
	ServerVersion *string `json:"server_version"`
	BuildVersion  *string `json:"build_version"`

	FeeBase                 *flexInt64 `json:"fee_base"`
	FeeRef                  *flexInt64 `json:"fee_ref"`
	LoadBase                *flexInt64 `json:"load_base"`
	ReserveBase             *flexInt64 `json:"reserve_base"`
	ReserveInc              *flexInt64 `json:"reserve_inc"`
	LoadFactor              *flexInt64 `json:"load_factor"`
	LoadFactorServer        *flexInt64 `json:"load_factor_server"`
	LoadFactorFeeReference  *flexInt64 `json:"load_factor_fee_reference"`
	LoadFactorFeeEscalation *flexInt64 `json:"load_factor_fee_escalation"`
	LoadFactorFeeQueue      *flexInt64 `json:"load_factor_fee_queue"`

	LedgerIndex      *flexInt64 `json:"ledger_index"`
	LedgerHash       *string    `json:"ledger_hash"`
	LedgerTime       *flexInt64 `json:"ledger_time"`
	ValidatedLedgers *string    `json:"validated_ledgers"`
}

// ledgerClosedMsg carries the fields of a ledgerClosed stream message.
type ledgerClosedMsg struct {
	LedgerIndex      *flexInt64 `json:"ledger_index"`
	LedgerHash       *string    `json:"ledger_hash"`
	LedgerTime       *flexInt64 `json:"ledger_time"`
	TxnCount         *flexInt64 `json:"txn_count"`
	ValidatedLedgers *string    `json:"validated_ledgers"`
	FeeBase          *flexInt64 `json:"fee_base"`
	FeeRef           *flexInt64 `json:"fee_ref"`
	ReserveBase      *flexInt64 `json:"reserve_base"`
	ReserveInc       *flexInt64 `json:"reserve_inc"`
}

// updateServerStatus applies a server-status message to the matching record.
// A status transition alerts before the new status is written, so the alert
// carries both the old and new values.
func (p *Processor) updateServerStatus(sourceURL string, raw []byte, now time.Time) {
	rec := p.servers.ByURL(sourceURL)
	if rec == nil {
		p.logger.Warn().Str("url", sourceURL).Msg("Server status message from unknown URL")
		return
	}

	var msg serverStatusMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.logger.Warn().Str("url", sourceURL).Err(err).Msg("Undecodable server status message")
		return
	}

	if msg.ServerStatus != nil && rec.ServerStatus != nil && *rec.ServerStatus != *msg.ServerStatus {
		body := fmt.Sprintf(
			"State changed for server: '%s' with key '%s'. From: '%s'. To: '%s'. Time UTC: %s.",
			rec.ServerName, rec.ShortKey(), *rec.ServerStatus, *msg.ServerStatus,
			now.Format(monitor.AlertTimeLayout),
		)
		p.logger.Warn().Msg(body)
		p.alert(body, rec.ServerName, rec.Notifications)
	}

	setStr(&rec.ServerStatus, msg.ServerStatus)
	setStr(&rec.PubkeyNode, msg.PubkeyNode)
	setStr(&rec.HostID, msg.HostID)
	setStr(&rec.ServerVersion, msg.ServerVersion)
	if msg.ServerVersion == nil {
		setStr(&rec.ServerVersion, msg.BuildVersion)
	}
	setInt(&rec.FeeBase, msg.FeeBase)
	setInt(&rec.FeeRef, msg.FeeRef)
	setInt(&rec.LoadBase, msg.LoadBase)
	setInt(&rec.ReserveBase, msg.ReserveBase)
	setInt(&rec.ReserveInc, msg.ReserveInc)
	setInt(&rec.LoadFactor, msg.LoadFactor)
	setInt(&rec.LoadFactorServer, msg.LoadFactorServer)
	setInt(&rec.LoadFactorFeeReference, msg.LoadFactorFeeReference)
	setInt(&rec.LoadFactorFeeEscalation, msg.LoadFactorFeeEscalation)
	setInt(&rec.LoadFactorFeeQueue, msg.LoadFactorFeeQueue)
	setInt(&rec.LedgerIndex, msg.LedgerIndex)
	setStr(&rec.LedgerHash, msg.LedgerHash)
	setInt(&rec.LedgerTime, msg.LedgerTime)
	setStr(&rec.ValidatedLedgers, msg.ValidatedLedgers)
	rec.TimeUpdated = now

	p.logger.Debug().Str("url", sourceURL).Msg("Updated server status table")
}

// updateLedger applies a ledgerClosed message to the matching record.
func (p *Processor) updateLedger(sourceURL string, raw []byte, now time.Time) {
	rec := p.servers.ByURL(sourceURL)
	if rec == nil {
		p.logger.Warn().Str("url", sourceURL).Msg("Ledger close message from unknown URL")
		return
	}

	var msg ledgerClosedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.logger.Warn().Str("url", sourceURL).Err(err).Msg("Undecodable ledger close message")
		return
	}

	setInt(&rec.LedgerIndex, msg.LedgerIndex)
	setStr(&rec.LedgerHash, msg.LedgerHash)
	setInt(&rec.LedgerTime, msg.LedgerTime)
	setInt(&rec.TxnCount, msg.TxnCount)
	setStr(&rec.ValidatedLedgers, msg.ValidatedLedgers)
	setInt(&rec.FeeBase, msg.FeeBase)
	setInt(&rec.FeeRef, msg.FeeRef)
	setInt(&rec.ReserveBase, msg.ReserveBase)
	setInt(&rec.ReserveInc, msg.ReserveInc)
	rec.TimeUpdated = now

	p.logger.Debug().Str("url", sourceURL).Msg("Updated table with ledger closed message")
}

func setStr(dst **string, src *string) {
	if src != nil {
		*dst = src
	}
}

func setInt(dst **int64, src *flexInt64) {
	if src != nil {
		v := int64(*src)
		*dst = &v
	}
}

func setBool(dst **bool, src *bool) {
	if src != nil {
		*dst = src
	}
}
