// Package vmr converts between the flat web-client record convention and the
// vMR clinical-document payloads exchanged with the ICE decision-support
// service: Generator builds the request cdsInput, Parser reads the response
// cdsOutput back into evaluation and forecast entries.
package vmr

import (
	"encoding/xml"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/openimmunize/iceclient/internal/record"
)

// Disease codes carry no vocabulary tag in the web-client convention; the
// coding system is inferred from the shape of the code itself, trying
// SNOMED CT, then ICD-10, then ICD-9.
var (
	reSNOMED = regexp.MustCompile(`^[0-9]{6}[0-9]*`)
	reICD10  = regexp.MustCompile(`^[A-TV-Z][0-9][A-Z0-9](\.?[A-Z0-9]{0,4})?`)
	reICD9   = regexp.MustCompile(`^([V0-9][0-9]{2}(\.?[0-9]{0,2})?|E[0-9]{3}(\.?[0-9])?|[0-9]{2}(\.?[0-9]{0,2})?)`)
)

// DiseaseCodeSystem returns the code system OID for a disease code, or
// ok=false when the code matches none of the accepted vocabularies.
func DiseaseCodeSystem(code string) (oid string, ok bool) {
	switch {
	case reSNOMED.MatchString(code):
		return OIDSNOMED, true
	case reICD10.MatchString(code):
		return OIDICD10, true
	case reICD9.MatchString(code):
		return OIDICD9, true
	default:
		return "", false
	}
}

// Generator builds request vMR documents from patient records. It is safe for
// concurrent use because it holds no mutable state.
type Generator struct{}

// NewGenerator creates a new request vMR generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds the cdsInput document for one patient record. A record
// flagged while decoding fails here, before any network call. Demographics
// pass through unchanged. Each kind-"I" immunization becomes one substance
// administration event; each kind-"D" entry becomes one immunity observation.
// Entries with an empty code or date are skipped, as are disease codes that
// match no accepted vocabulary.
func (g *Generator) Generate(rec record.PatientRecord) (*CDSInput, error) {
	if err := rec.Err(); err != nil {
		return nil, err
	}
	if rec.DOB == "" {
		return nil, &record.MalformedRecordError{RecordID: rec.ID, Reason: "dob is required"}
	}
	if rec.Gender == "" {
		return nil, &record.MalformedRecordError{RecordID: rec.ID, Reason: "gender is required"}
	}

	patient := InputPatient{
		TemplateID: TemplateID{Root: OIDPatientTemplate},
		ID:         InstanceID{Root: uuid.New().String()},
		Demographics: Demographics{
			BirthTime: ValueAttr{Value: rec.DOB},
			Gender:    Code{Code: rec.Gender, CodeSystem: OIDAdminGender},
		},
	}

	for _, iz := range rec.Immunizations {
		code, _ := iz.CodeParts()
		if code == "" || iz.Date == "" {
			continue
		}
		switch iz.Kind {
		case record.KindImmunization:
			patient.ClinicalStatements.Events.Events = append(patient.ClinicalStatements.Events.Events,
				AdministrationEvent{
					TemplateID:     TemplateID{Root: OIDImmunizationEvent},
					ID:             InstanceID{Root: iz.ID},
					GeneralPurpose: Code{Code: CodeImmunizationPurpose, CodeSystem: OIDSNOMEDLegacy},
					Substance: Substance{
						ID:            InstanceID{Root: uuid.New().String()},
						SubstanceCode: Code{Code: code, CodeSystem: OIDCVX},
					},
					TimeInterval: Interval{Low: iz.Date, High: iz.Date},
				})
		case record.KindDisease:
			system, ok := DiseaseCodeSystem(code)
			if !ok {
				continue
			}
			patient.ClinicalStatements.ObservationResults.Results = append(patient.ClinicalStatements.ObservationResults.Results,
				ImmunityObservation{
					TemplateID:     TemplateID{Root: OIDImmunityObservation},
					ID:             InstanceID{Root: uuid.New().String()},
					Focus:          Code{Code: code, CodeSystem: system},
					EventTime:      Interval{Low: iz.Date, High: iz.Date},
					Value:          ConceptValue{Concept: Code{Code: CodeDiseaseDocumented, CodeSystem: OIDICEConcept}},
					Interpretation: Code{Code: CodeIsImmune, CodeSystem: OIDICEInterpretation},
				})
		}
	}

	return &CDSInput{
		XMLNSVMR:   VMRNamespace,
		XMLNS:      CDSInputNamespace,
		TemplateID: TemplateID{Root: OIDCDSInputTemplate},
		Context: CDSContext{
			Language: Code{Code: "en", CodeSystem: OIDLanguage, DisplayName: "English"},
		},
		VMRInput: VMRInput{
			TemplateID: TemplateID{Root: OIDCDSInputTemplate},
			Patient:    patient,
		},
	}, nil
}

// GenerateXML builds the cdsInput document and serializes it with an XML
// declaration.
func (g *Generator) GenerateXML(rec record.PatientRecord) ([]byte, error) {
	doc, err := g.Generate(rec)
	if err != nil {
		return nil, err
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("vmr: marshal cdsInput: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body))
	out = append(out, xml.Header...)
	out = append(out, body...)
	return out, nil
}
