package processor

import (
	"encoding/json"
	"time"

	"github.com/adred-codev/fleetwatch/internal/metrics"
)

// validationMsg carries the fields of a validationReceived stream message.
type validationMsg struct {
	MasterKey           *string `json:"master_key"`
	ValidationPublicKey *string `json:"validation_public_key"`
	Cookie              *string `json:"cookie"`
	ServerVersion       *string `json:"server_version"`
	LedgerHash          *string `json:"ledger_hash"`
	ValidatedHash       *string `json:"validated_hash"`
	Signature           *string `json:"signature"`

	BaseFee     *flexInt64 `json:"base_fee"`
	ReserveBase *flexInt64 `json:"reserve_base"`
	ReserveInc  *flexInt64 `json:"reserve_inc"`
	LedgerIndex *flexInt64 `json:"ledger_index"`
	SigningTime *flexInt64 `json:"signing_time"`
	LoadFee     *flexInt64 `json:"load_fee"`

	Full       *bool    `json:"full"`
	Amendments []string `json:"amendments"`
}

// processValidation applies one validation message. Messages from validators
// we are not tracking are dropped by key, then duplicates are dropped by
// signature; every stock subscription reports every validation, so most
// messages die here.
func (p *Processor) processValidation(raw []byte, now time.Time) {
	var msg validationMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.logger.Warn().Err(err).Msg("Undecodable validation message")
		return
	}

	masterKey := deref(msg.MasterKey)
	validationKey := deref(msg.ValidationPublicKey)
	if !p.valKeys[masterKey] && !p.valKeys[validationKey] {
		p.logger.Debug().Str("master_key", masterKey).Msg("Ignored validation message")
		return
	}

	if msg.Signature == nil {
		p.logger.Warn().RawJSON("payload", raw).Msg("Validation message without signature")
		return
	}
	if p.processedSet[*msg.Signature] {
		metrics.RecordDuplicateValidation()
		return
	}

	if rec := p.validators.Find(masterKey, validationKey); rec != nil {
		// Flag ledgers signal amendment votes; omitted fields mean dropped
		// support and must not survive from the previous flag ledger.
		if msg.LedgerIndex != nil && (int64(*msg.LedgerIndex)+1)%256 == 0 {
			rec.Amendments = nil
			rec.BaseFee = nil
			rec.LoadFee = nil
			rec.ReserveBase = nil
			rec.ReserveInc = nil
			rec.ServerVersion = nil
		}

		setStr(&rec.MasterKey, msg.MasterKey)
		setStr(&rec.ValidationPublicKey, msg.ValidationPublicKey)
		setStr(&rec.Cookie, msg.Cookie)
		setStr(&rec.ServerVersion, msg.ServerVersion)
		setStr(&rec.LedgerHash, msg.LedgerHash)
		setStr(&rec.ValidatedHash, msg.ValidatedHash)
		setStr(&rec.Signature, msg.Signature)
		setInt(&rec.BaseFee, msg.BaseFee)
		setInt(&rec.ReserveBase, msg.ReserveBase)
		setInt(&rec.ReserveInc, msg.ReserveInc)
		setInt(&rec.LedgerIndex, msg.LedgerIndex)
		setInt(&rec.SigningTime, msg.SigningTime)
		setInt(&rec.LoadFee, msg.LoadFee)
		setBool(&rec.Full, msg.Full)
		if msg.Amendments != nil {
			rec.Amendments = msg.Amendments
		}
		rec.TimeUpdated = now
		p.logger.Debug().Str("validator", rec.ServerName).Msg("Updated validator table")
	}

	p.processed = append(p.processed, *msg.Signature)
	p.processedSet[*msg.Signature] = true
	p.pruneProcessed()

	if p.logValidations[masterKey] {
		p.logger.Error().RawJSON("payload", raw).Msg("Logged validation")
	}
}

// pruneProcessed keeps the dedupe window bounded by discarding the oldest
// half once it fills. Duplicate-validator culling runs only from this path,
// mirroring the original coupling of the two policies.
func (p *Processor) pruneProcessed() {
	if len(p.processed) < p.cfg.ProcessedValMax {
		return
	}

	half := p.cfg.ProcessedValMax / 2
	p.logger.Info().Int("limit", p.cfg.ProcessedValMax).Int("deleting", half).
		Msg("Pruning processed validation list")
	for _, sig := range p.processed[:half] {
		delete(p.processedSet, sig)
	}
	p.processed = append([]string(nil), p.processed[half:]...)

	if p.cfg.RemoveDupValidators {
		if dropped := p.validators.CullDuplicates(); dropped > 0 {
			p.logger.Warn().Int("removed", dropped).Msg("Removed duplicate validators")
		}
		p.valKeys = p.validators.Keys()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
