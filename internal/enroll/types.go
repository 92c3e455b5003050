package enroll

import (
	"strings"
	"time"
)

// Status is the lifecycle state of one target.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusOK      Status = "ok"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Final reports whether s ends an item.
func (s Status) Final() bool {
	return s == StatusOK || s == StatusFail || s == StatusSkipped
}

// Class is the device class of a target.
type Class string

const (
	ClassSensor Class = "sensor"
	ClassLight  Class = "light"
)

// Phase is the state-machine state an item is in.
type Phase string

const (
	PhasePending             Phase = "pending"
	PhaseWaitingForDefault   Phase = "waiting_for_default"
	PhaseReadingIdentity     Phase = "reading_identity"
	PhaseAdjustingAuxiliary  Phase = "adjusting_auxiliary"
	PhaseCheckingCollision   Phase = "checking_collision"
	PhaseWritingAddress      Phase = "writing_address"
	PhaseAwaitingHandover    Phase = "awaiting_handover"
	PhaseVerifyingNewAddress Phase = "verifying_new_address"
	PhaseWritingAddressBlock Phase = "writing_address_block"
	PhaseSettingTimeout      Phase = "setting_timeout"
	PhaseSoftVerify          Phase = "soft_verify"
	PhaseDone                Phase = "done"
	PhaseSkipped             Phase = "skipped"
	PhaseCanceled            Phase = "canceled"
)

// BuzzerMode is the requested buzzer setting of a sensor.
type BuzzerMode string

const (
	BuzzerUnchanged BuzzerMode = ""
	BuzzerEnable    BuzzerMode = "enable"
	BuzzerDisable   BuzzerMode = "disable"
)

// ParseBuzzerMode maps free text to a BuzzerMode. Unknown values leave the
// buzzer unchanged.
func ParseBuzzerMode(s string) BuzzerMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enable", "buzzer enable":
		return BuzzerEnable
	case "disable", "buzzer disable":
		return BuzzerDisable
	default:
		return BuzzerUnchanged
	}
}

// Light timeout modes.
const (
	TimeoutModeOff      uint16 = 0
	TimeoutModeStandard uint16 = 180
)

// NormalizeTimeoutMode coerces any value other than 180 to 0.
func NormalizeTimeoutMode(v int) uint16 {
	if v == int(TimeoutModeStandard) {
		return TimeoutModeStandard
	}
	return TimeoutModeOff
}

// SensorTarget is one gas sensor row of the data source.
type SensorTarget struct {
	Index      int        `json:"index"`
	Row        int        `json:"row"`
	Model      string     `json:"model"`
	Location   string     `json:"location"`
	Address    byte       `json:"address"`
	Selected   bool       `json:"selected"`
	Buzzer     BuzzerMode `json:"buzzer,omitempty"`
	Status     Status     `json:"status"`
	Identifier uint32     `json:"identifier,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// LightTarget is one indicator light row of the data source.
type LightTarget struct {
	Index       int    `json:"index"`
	Row         int    `json:"row"`
	Model       string `json:"model"`
	Location    string `json:"location"`
	Address     byte   `json:"address"`
	Selected    bool   `json:"selected"`
	TimeoutMode uint16 `json:"timeout_mode"`
	Status      Status `json:"status"`
	Note        string `json:"note,omitempty"`
}

// IdentifierRecord pairs a data-source row with the identifier read from
// the device enrolled for it.
type IdentifierRecord struct {
	Row        int    `json:"row"`
	Identifier uint32 `json:"identifier"`
}

// ProgressEvent reports one state change of one target.
type ProgressEvent struct {
	RunID      string    `json:"run_id"`
	Class      Class     `json:"class"`
	Index      int       `json:"index"`
	Row        int       `json:"row"`
	Address    byte      `json:"address"`
	Status     Status    `json:"status"`
	Phase      Phase     `json:"phase"`
	Identifier uint32    `json:"identifier,omitempty"`
	Note       string    `json:"note,omitempty"`
	Time       time.Time `json:"time"`

	// ElapsedMS is set on final events: time spent on the item.
	ElapsedMS int64 `json:"elapsed_ms,omitempty"`
}

// Final reports whether the event ends its item.
func (e ProgressEvent) Final() bool {
	return e.Status.Final()
}

// Outcome is the result of enrolling one device.
type Outcome struct {
	Status     Status
	Identifier uint32

	// Err is the reason for a Fail.
	Err error

	// Warnings are soft conditions that did not fail the item.
	Warnings []error
}

// Note joins the failure reason and all warnings for display.
func (o Outcome) Note() string {
	parts := make([]string, 0, len(o.Warnings)+1)
	if o.Err != nil {
		parts = append(parts, o.Err.Error())
	}
	for _, w := range o.Warnings {
		parts = append(parts, w.Error())
	}
	return strings.Join(parts, "; ")
}

func (o *Outcome) fail(err error) {
	o.Status = StatusFail
	o.Err = err
}

func (o *Outcome) warn(err error) {
	o.Warnings = append(o.Warnings, err)
}
