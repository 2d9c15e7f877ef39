package vmr

import "encoding/xml"

// OIDs and template identifiers for OpenCDS vMR payloads as the ICE knowledge
// module expects them.
const (
	// XML namespaces
	CDSInputNamespace  = "org.opencds.vmr.v1_0.schema.cdsinput"
	CDSOutputNamespace = "org.opencds.vmr.v1_0.schema.cdsoutput"
	VMRNamespace       = "org.opencds.vmr.v1_0.schema.vmr"

	// Template roots
	OIDCDSInputTemplate    = "2.16.840.1.113883.3.795.11.1.1"
	OIDPatientTemplate     = "2.16.840.1.113883.3.795.11.2.1.1"
	OIDImmunizationEvent   = "2.16.840.1.113883.3.795.11.9.1.1"
	OIDImmunityObservation = "2.16.840.1.113883.3.795.11.6.3.1"

	// Code system OIDs
	OIDCVX         = "2.16.840.1.113883.12.292"
	OIDICD9        = "2.16.840.1.113883.6.103"
	OIDICD10       = "2.16.840.1.113883.6.90"
	OIDSNOMED      = "2.16.840.1.113883.6.96"
	OIDAdminGender = "2.16.840.1.113883.5.1"
	OIDLanguage    = "2.16.840.1.113883.6.99"

	// Legacy SNOMED OID the ICE payloads use on the administration
	// general-purpose code.
	OIDSNOMEDLegacy = "2.16.840.1.113883.6.5"

	// ICE concept code systems
	OIDICEConcept        = "2.16.840.1.113883.3.795.12.100.8"
	OIDICEInterpretation = "2.16.840.1.113883.3.795.12.100.9"

	// SNOMED CT "immunization" general purpose code
	CodeImmunizationPurpose = "384810002"

	// Immunity observation concept and interpretation
	CodeDiseaseDocumented = "DISEASE_DOCUMENTED"
	CodeIsImmune          = "IS_IMMUNE"
)

// TemplateID is a templateId element.
type TemplateID struct {
	Root string `xml:"root,attr"`
}

// InstanceID is an id element carrying a root identifier.
type InstanceID struct {
	Root string `xml:"root,attr"`
}

// Code is a coded attribute set shared by focus, value, gender, and
// interpretation elements.
type Code struct {
	Code        string `xml:"code,attr,omitempty"`
	CodeSystem  string `xml:"codeSystem,attr,omitempty"`
	DisplayName string `xml:"displayName,attr,omitempty"`
}

// ValueAttr carries a single value attribute (birthTime, isValid, doseNumber).
type ValueAttr struct {
	Value string `xml:"value,attr"`
}

// Interval is a time interval with low/high boundary attributes. An absent
// attribute unmarshals to the empty string, which the parser preserves.
type Interval struct {
	Low  string `xml:"low,attr,omitempty"`
	High string `xml:"high,attr,omitempty"`
}

// ---- cdsInput (request) ----

// CDSInput is the root of the request vMR. The root element carries prefixed
// namespace declarations while every child stays unprefixed, matching the
// payloads the ICE service accepts; the prefix is written literally because
// encoding/xml would otherwise move the children into a default namespace.
type CDSInput struct {
	XMLName    xml.Name   `xml:"ns3:cdsInput"`
	XMLNSVMR   string     `xml:"xmlns:ns2,attr"`
	XMLNS      string     `xml:"xmlns:ns3,attr"`
	TemplateID TemplateID `xml:"templateId"`
	Context    CDSContext `xml:"cdsContext"`
	VMRInput   VMRInput   `xml:"vmrInput"`
}

// CDSContext carries the caller's language preference.
type CDSContext struct {
	Language Code `xml:"cdsSystemUserPreferredLanguage"`
}

// VMRInput wraps the patient block.
type VMRInput struct {
	TemplateID TemplateID   `xml:"templateId"`
	Patient    InputPatient `xml:"patient"`
}

// InputPatient holds demographics and clinical statements for one patient.
type InputPatient struct {
	TemplateID         TemplateID              `xml:"templateId"`
	ID                 InstanceID              `xml:"id"`
	Demographics       Demographics            `xml:"demographics"`
	ClinicalStatements InputClinicalStatements `xml:"clinicalStatements"`
}

// Demographics is the patient demographics block.
type Demographics struct {
	BirthTime ValueAttr `xml:"birthTime"`
	Gender    Code      `xml:"gender"`
}

// InputClinicalStatements holds immunity observations and administered doses.
// Both containers are always emitted, matching the payloads the ICE service
// is tested against.
type InputClinicalStatements struct {
	ObservationResults ObservationResults `xml:"observationResults"`
	Events             EventContainer     `xml:"substanceAdministrationEvents"`
}

// ObservationResults contains documented-disease immunity observations.
type ObservationResults struct {
	Results []ImmunityObservation `xml:"observationResult"`
}

// ImmunityObservation records a documented disease conferring immunity.
type ImmunityObservation struct {
	TemplateID     TemplateID   `xml:"templateId"`
	ID             InstanceID   `xml:"id"`
	Focus          Code         `xml:"observationFocus"`
	EventTime      Interval     `xml:"observationEventTime"`
	Value          ConceptValue `xml:"observationValue"`
	Interpretation Code         `xml:"interpretation"`
}

// ConceptValue wraps a coded concept value.
type ConceptValue struct {
	Concept Code `xml:"concept"`
}

// EventContainer holds substance administration events.
type EventContainer struct {
	Events []AdministrationEvent `xml:"substanceAdministrationEvent"`
}

// AdministrationEvent is one administered dose in the request.
type AdministrationEvent struct {
	TemplateID     TemplateID `xml:"templateId"`
	ID             InstanceID `xml:"id"`
	GeneralPurpose Code       `xml:"substanceAdministrationGeneralPurpose"`
	Substance      Substance  `xml:"substance"`
	TimeInterval   Interval   `xml:"administrationTimeInterval"`
}

// Substance identifies the administered substance by code.
type Substance struct {
	ID            InstanceID `xml:"id"`
	SubstanceCode Code       `xml:"substanceCode"`
}

// ---- cdsOutput (response) ----
//
// The response types carry no namespace qualifiers so they match the
// prefixed elements OpenCDS emits regardless of prefix choice.

// CDSOutput is the root of the response vMR.
type CDSOutput struct {
	XMLName   xml.Name   `xml:"cdsOutput"`
	VMROutput *VMROutput `xml:"vmrOutput"`
}

// VMROutput wraps the evaluated patient.
type VMROutput struct {
	Patient *OutputPatient `xml:"patient"`
}

// OutputPatient is the patient block of the response.
type OutputPatient struct {
	ID                 *InstanceID               `xml:"id"`
	Demographics       *Demographics             `xml:"demographics"`
	ClinicalStatements *OutputClinicalStatements `xml:"clinicalStatements"`
}

// OutputClinicalStatements holds the evaluated doses and the forecast
// proposals.
type OutputClinicalStatements struct {
	Events    *OutputEventContainer `xml:"substanceAdministrationEvents"`
	Proposals *ProposalContainer    `xml:"substanceAdministrationProposals"`
}

// OutputEventContainer holds the echoed administration events with their
// evaluation results attached.
type OutputEventContainer struct {
	Events []OutputEvent `xml:"substanceAdministrationEvent"`
}

// OutputEvent is an administered dose in the response. At the top level it
// echoes the request event; nested inside a relatedClinicalStatement it
// carries the evaluation verdict for one vaccine group.
type OutputEvent struct {
	ID           InstanceID                 `xml:"id"`
	Substance    Substance                  `xml:"substance"`
	TimeInterval Interval                   `xml:"administrationTimeInterval"`
	IsValid      *ValueAttr                 `xml:"isValid"`
	DoseNumber   *ValueAttr                 `xml:"doseNumber"`
	Related      []RelatedClinicalStatement `xml:"relatedClinicalStatement"`
}

// RelatedClinicalStatement links an event or proposal to nested statements.
type RelatedClinicalStatement struct {
	Events      []OutputEvent      `xml:"substanceAdministrationEvent"`
	Observation *ObservationResult `xml:"observationResult"`
}

// ObservationResult carries an evaluation or forecast observation.
type ObservationResult struct {
	Focus           Code         `xml:"observationFocus"`
	Value           ConceptValue `xml:"observationValue"`
	Interpretations []Code       `xml:"interpretation"`
}

// ProposalContainer holds the forecast proposals.
type ProposalContainer struct {
	Proposals []Proposal `xml:"substanceAdministrationProposal"`
}

// Proposal is one forecast recommendation for a vaccine group.
type Proposal struct {
	ID               InstanceID                 `xml:"id"`
	Substance        Substance                  `xml:"substance"`
	ProposedInterval *Interval                  `xml:"proposedAdministrationTimeInterval"`
	ValidInterval    *Interval                  `xml:"validAdministrationTimeInterval"`
	Related          []RelatedClinicalStatement `xml:"relatedClinicalStatement"`
}
