package monitor

import (
	"encoding/json"
	"time"

	"github.com/adred-codev/fleetwatch/internal/config"
)

// ServerStatusDisconnected is the sentinel status injected by the connection
// supervisor when a subscription drops. It never originates upstream; every
// other server_status value is copied verbatim from the wire.
const ServerStatusDisconnected = "disconnected from monitoring"

// KeyDisplayLen is how many leading characters of keys and hashes are shown
// in alerts and console tables.
const KeyDisplayLen = 5

// Timestamp layouts, both rendered in UTC.
const (
	// AlertTimeLayout is used inside alert texts (month-day clock time).
	AlertTimeLayout = "01-02 15:04:05"
	// UpdatedTimeLayout is used for time_updated columns in console output.
	UpdatedTimeLayout = "06-01-02 15:04:05"
)

// Event is one tagged message from the supervisor to the processor. Payload
// is a complete JSON document as received (or synthesized on disconnect).
type Event struct {
	SourceURL string
	Payload   json.RawMessage
}

// Notification is one rendered alert heading for the dispatcher.
type Notification struct {
	Message       string
	RecipientName string
	Recipient     *config.NotificationTargets
}

// ServerRecord tracks the last observed state of one stock server. Records
// are created at startup from the fleet file and live for the process
// lifetime. Only the response processor writes to them after creation.
//
// Pointer fields mean "not yet observed"; upstream messages carry only the
// fields that changed, and absent fields must not clobber prior state.
type ServerRecord struct {
	ID            int
	URL           string
	ServerName    string
	SSLVerify     bool
	Notifications *config.NotificationTargets

	// Last observed server state
	ServerStatus  *string
	PubkeyNode    *string
	HostID        *string
	ServerVersion *string

	// Last observed economics
	FeeBase                 *int64
	FeeRef                  *int64
	LoadBase                *int64
	ReserveBase             *int64
	ReserveInc              *int64
	LoadFactor              *int64
	LoadFactorServer        *int64
	LoadFactorFeeReference  *int64
	LoadFactorFeeEscalation *int64
	LoadFactorFeeQueue      *int64

	// Last observed ledger
	LedgerIndex      *int64
	LedgerHash       *string
	LedgerTime       *int64
	ValidatedLedgers *string
	TxnCount         *int64

	// Derived by the fork checker; never set from upstream data.
	Forked      *bool
	TimeForked  *time.Time
	TimeUpdated time.Time
}

// ValidatorRecord tracks the last observed validation from one validator.
// Identity is the (master key, validation public key) tuple; a message
// matching either key updates the record, which is how the missing key is
// learned at runtime.
type ValidatorRecord struct {
	ID                  int
	ServerName          string
	MasterKey           *string
	ValidationPublicKey *string
	Notifications       *config.NotificationTargets

	// Last observed validation
	Cookie        *string
	ServerVersion *string
	BaseFee       *int64
	ReserveBase   *int64
	ReserveInc    *int64
	Full          *bool
	LedgerHash    *string
	ValidatedHash *string
	LedgerIndex   *int64
	Signature     *string
	SigningTime   *int64
	LoadFee       *int64
	Amendments    []string

	Forked      *bool
	TimeForked  *time.Time
	TimeUpdated time.Time
}

// DisplayName returns the configured name for alerts and tables.
func (s *ServerRecord) DisplayName() string { return s.ServerName }

// ShortKey returns the truncated node public key, or "" when unknown.
func (s *ServerRecord) ShortKey() string { return truncate(strOrEmpty(s.PubkeyNode)) }

func (s *ServerRecord) ForkState() (forked *bool, index *int64) { return s.Forked, s.LedgerIndex }

// Evaluable reports whether this record participates in a fork sweep.
// Disconnected servers are excluded; their stale index would read as forked.
func (s *ServerRecord) Evaluable() bool {
	return s.LedgerIndex != nil &&
		(s.ServerStatus == nil || *s.ServerStatus != ServerStatusDisconnected)
}

func (s *ServerRecord) SetForked(forked bool, now time.Time) {
	prev := s.Forked
	s.Forked = &forked
	if forked {
		if prev == nil || !*prev {
			t := now
			s.TimeForked = &t
		}
	} else {
		s.TimeForked = nil
	}
}

func (s *ServerRecord) Recipient() *config.NotificationTargets { return s.Notifications }

func (v *ValidatorRecord) DisplayName() string { return v.ServerName }

// ShortKey prefers the master key and falls back to the ephemeral key.
func (v *ValidatorRecord) ShortKey() string {
	if v.MasterKey != nil {
		return truncate(*v.MasterKey)
	}
	return truncate(strOrEmpty(v.ValidationPublicKey))
}

func (v *ValidatorRecord) ForkState() (forked *bool, index *int64) { return v.Forked, v.LedgerIndex }

func (v *ValidatorRecord) Evaluable() bool { return v.LedgerIndex != nil }

func (v *ValidatorRecord) SetForked(forked bool, now time.Time) {
	prev := v.Forked
	v.Forked = &forked
	if forked {
		if prev == nil || !*prev {
			t := now
			v.TimeForked = &t
		}
	} else {
		v.TimeForked = nil
	}
}

func (v *ValidatorRecord) Recipient() *config.NotificationTargets { return v.Notifications }

// Clone deep-copies the record for console snapshots.
func (s *ServerRecord) Clone() *ServerRecord {
	c := *s
	c.ServerStatus = cloneStr(s.ServerStatus)
	c.PubkeyNode = cloneStr(s.PubkeyNode)
	c.HostID = cloneStr(s.HostID)
	c.ServerVersion = cloneStr(s.ServerVersion)
	c.FeeBase = cloneInt(s.FeeBase)
	c.FeeRef = cloneInt(s.FeeRef)
	c.LoadBase = cloneInt(s.LoadBase)
	c.ReserveBase = cloneInt(s.ReserveBase)
	c.ReserveInc = cloneInt(s.ReserveInc)
	c.LoadFactor = cloneInt(s.LoadFactor)
	c.LoadFactorServer = cloneInt(s.LoadFactorServer)
	c.LoadFactorFeeReference = cloneInt(s.LoadFactorFeeReference)
	c.LoadFactorFeeEscalation = cloneInt(s.LoadFactorFeeEscalation)
	c.LoadFactorFeeQueue = cloneInt(s.LoadFactorFeeQueue)
	c.LedgerIndex = cloneInt(s.LedgerIndex)
	c.LedgerHash = cloneStr(s.LedgerHash)
	c.LedgerTime = cloneInt(s.LedgerTime)
	c.ValidatedLedgers = cloneStr(s.ValidatedLedgers)
	c.TxnCount = cloneInt(s.TxnCount)
	c.Forked = cloneBool(s.Forked)
	c.TimeForked = cloneTime(s.TimeForked)
	return &c
}

// Clone deep-copies the record for console snapshots.
func (v *ValidatorRecord) Clone() *ValidatorRecord {
	c := *v
	c.MasterKey = cloneStr(v.MasterKey)
	c.ValidationPublicKey = cloneStr(v.ValidationPublicKey)
	c.Cookie = cloneStr(v.Cookie)
	c.ServerVersion = cloneStr(v.ServerVersion)
	c.BaseFee = cloneInt(v.BaseFee)
	c.ReserveBase = cloneInt(v.ReserveBase)
	c.ReserveInc = cloneInt(v.ReserveInc)
	c.Full = cloneBool(v.Full)
	c.LedgerHash = cloneStr(v.LedgerHash)
	c.ValidatedHash = cloneStr(v.ValidatedHash)
	c.LedgerIndex = cloneInt(v.LedgerIndex)
	c.Signature = cloneStr(v.Signature)
	c.SigningTime = cloneInt(v.SigningTime)
	c.LoadFee = cloneInt(v.LoadFee)
	if v.Amendments != nil {
		c.Amendments = append([]string(nil), v.Amendments...)
	}
	c.Forked = cloneBool(v.Forked)
	c.TimeForked = cloneTime(v.TimeForked)
	return &c
}

func truncate(s string) string {
	if len(s) > KeyDisplayLen {
		return s[:KeyDisplayLen]
	}
	return s
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
