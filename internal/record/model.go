// Package record implements the ICE web-client data convention: a JSON array
// of patient records whose immunization, evaluation, and forecast entries are
// positional string arrays rather than keyed objects. The types here carry
// named fields; the positional layout exists only at the JSON boundary.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Immunization entry kinds.
const (
	KindImmunization = "I"
	KindDisease      = "D"
)

// Immunization is one administered dose (kind "I") or one documented disease
// (kind "D"). Wire form: [id, date, code[: name], kind].
type Immunization struct {
	ID   string
	Date string // YYYYMMDD
	Code string // code with optional ": display name" suffix; CVX for "I", ICD-9/ICD-10/SNOMED CT for "D"
	Kind string
}

// CodeParts splits the Code field on the first ":" into the bare code and the
// optional display name.
func (iz Immunization) CodeParts() (code, name string) {
	idx := strings.Index(iz.Code, ":")
	if idx < 0 {
		return strings.TrimSpace(iz.Code), ""
	}
	return strings.TrimSpace(iz.Code[:idx]), strings.TrimSpace(iz.Code[idx+1:])
}

// MarshalJSON writes the positional array form.
func (iz Immunization) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{iz.ID, iz.Date, iz.Code, iz.Kind})
}

// UnmarshalJSON reads the positional array form. Entries with fewer than four
// positions are rejected; extra trailing positions are ignored.
func (iz *Immunization) UnmarshalJSON(data []byte) error {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return &MalformedRecordError{Reason: fmt.Sprintf("immunization entry is not a string array: %v", err)}
	}
	if len(fields) < 4 {
		return &MalformedRecordError{Reason: fmt.Sprintf("immunization entry has %d positions, want 4", len(fields))}
	}
	iz.ID, iz.Date, iz.Code, iz.Kind = fields[0], fields[1], fields[2], fields[3]
	return nil
}

// Evaluation is one decision-support evaluation result for an administered
// dose. Wire form, in order: immunization id, administration date, CVX code,
// vaccine group name, validity, dose number, evaluation code, comma-joined
// interpretation codes, evaluation group code.
type Evaluation struct {
	ImmunizationID string
	Date           string // YYYYMMDD
	CVX            string
	GroupName      string
	Validity       string // "true", "false", or "unsupported"
	DoseNumber     string // "0" when unsupported
	Code           string
	Interpretation string // comma-joined, no spaces
	GroupCode      string
}

func (ev Evaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{
		ev.ImmunizationID, ev.Date, ev.CVX, ev.GroupName, ev.Validity,
		ev.DoseNumber, ev.Code, ev.Interpretation, ev.GroupCode,
	})
}

func (ev *Evaluation) UnmarshalJSON(data []byte) error {
	fields, err := positional(data, 9, "evaluation")
	if err != nil {
		return err
	}
	ev.ImmunizationID, ev.Date, ev.CVX, ev.GroupName, ev.Validity = fields[0], fields[1], fields[2], fields[3], fields[4]
	ev.DoseNumber, ev.Code, ev.Interpretation, ev.GroupCode = fields[5], fields[6], fields[7], fields[8]
	return nil
}

// Forecast is one decision-support recommendation for a vaccine group. Wire
// form, in order: vaccine group name, forecast concept, comma-joined
// interpretation codes, due date, forecast group code, recommended CVX code,
// earliest date, past-due date. The trailing three positions are optional on
// the server side and serialize as empty strings when unset.
type Forecast struct {
	GroupName      string
	Concept        string
	Interpretation string // comma-joined, no spaces
	DueDate        string // YYYYMMDD
	GroupCode      string
	CVX            string
	EarliestDate   string
	PastDueDate    string
}

func (fc Forecast) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{
		fc.GroupName, fc.Concept, fc.Interpretation, fc.DueDate,
		fc.GroupCode, fc.CVX, fc.EarliestDate, fc.PastDueDate,
	})
}

func (fc *Forecast) UnmarshalJSON(data []byte) error {
	fields, err := positional(data, 8, "forecast")
	if err != nil {
		return err
	}
	fc.GroupName, fc.Concept, fc.Interpretation, fc.DueDate = fields[0], fields[1], fields[2], fields[3]
	fc.GroupCode, fc.CVX, fc.EarliestDate, fc.PastDueDate = fields[4], fields[5], fields[6], fields[7]
	return nil
}

// positional unmarshals a string array and pads it to want positions.
// Evaluations and forecasts are produced by the server, so short arrays are
// padded with empty strings rather than rejected.
func positional(data []byte, want int, kind string) ([]string, error) {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &MalformedRecordError{Reason: fmt.Sprintf("%s entry is not a string array: %v", kind, err)}
	}
	for len(fields) < want {
		fields = append(fields, "")
	}
	return fields, nil
}

// PatientRecord is one patient in the web-client convention.
type PatientRecord struct {
	ID            string         `json:"id"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Gender        string         `json:"gender"`
	DOB           string         `json:"dob"`      // YYYYMMDD
	EvalDate      string         `json:"evalDate"` // YYYYMMDD
	Immunizations []Immunization `json:"izs"`
	Evaluations   []Evaluation   `json:"evaluations"`
	Forecasts     []Forecast     `json:"forecasts"`

	// decodeErr flags a malformed immunization entry found while decoding
	// this record, so one bad record never sinks the rest of its batch.
	decodeErr *MalformedRecordError
}

// patientRecordAlias avoids marshal recursion.
type patientRecordAlias PatientRecord

// patientRecordWire mirrors PatientRecord with raw immunization entries so
// each entry can be decoded on its own.
type patientRecordWire struct {
	ID            string            `json:"id"`
	FirstName     string            `json:"firstName"`
	LastName      string            `json:"lastName"`
	Gender        string            `json:"gender"`
	DOB           string            `json:"dob"`
	EvalDate      string            `json:"evalDate"`
	Immunizations []json.RawMessage `json:"izs"`
	Evaluations   []Evaluation      `json:"evaluations"`
	Forecasts     []Forecast        `json:"forecasts"`
}

// UnmarshalJSON decodes one record. A malformed immunization entry does not
// fail the decode: the entry is dropped and the record is flagged via Err, so
// the other records of a batch still come through.
func (r *PatientRecord) UnmarshalJSON(data []byte) error {
	var w patientRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = PatientRecord{
		ID:          w.ID,
		FirstName:   w.FirstName,
		LastName:    w.LastName,
		Gender:      w.Gender,
		DOB:         w.DOB,
		EvalDate:    w.EvalDate,
		Evaluations: w.Evaluations,
		Forecasts:   w.Forecasts,
	}
	for _, raw := range w.Immunizations {
		var iz Immunization
		if err := json.Unmarshal(raw, &iz); err != nil {
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				return err
			}
			if r.decodeErr == nil {
				malformed.RecordID = w.ID
				r.decodeErr = malformed
			}
			continue
		}
		r.Immunizations = append(r.Immunizations, iz)
	}
	return nil
}

// Err reports the malformed immunization entry captured while decoding the
// record, if any. A flagged record must not be sent for evaluation.
func (r PatientRecord) Err() error {
	if r.decodeErr != nil {
		return r.decodeErr
	}
	return nil
}

// MarshalJSON emits empty arrays instead of null for the three sequences, as
// the web client does.
func (r PatientRecord) MarshalJSON() ([]byte, error) {
	a := patientRecordAlias(r)
	if a.Immunizations == nil {
		a.Immunizations = []Immunization{}
	}
	if a.Evaluations == nil {
		a.Evaluations = []Evaluation{}
	}
	if a.Forecasts == nil {
		a.Forecasts = []Forecast{}
	}
	return json.Marshal(a)
}

// Clone returns a deep copy. The per-record evaluate cycle updates a copy so
// the caller's input is never mutated.
func (r PatientRecord) Clone() PatientRecord {
	out := r
	out.Immunizations = append([]Immunization(nil), r.Immunizations...)
	out.Evaluations = append([]Evaluation(nil), r.Evaluations...)
	out.Forecasts = append([]Forecast(nil), r.Forecasts...)
	return out
}

// MalformedRecordError reports an input record whose shape does not match the
// web-client convention.
type MalformedRecordError struct {
	RecordID string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("record: malformed record %s: %s", e.RecordID, e.Reason)
	}
	return fmt.Sprintf("record: malformed record: %s", e.Reason)
}
