package vmr

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/openimmunize/iceclient/internal/record"
)

// reDate extracts the first 8-digit YYYYMMDD run from an interval attribute,
// which may carry a longer timestamp.
var reDate = regexp.MustCompile(`[0-9]{8}`)

// Result holds the entries extracted from one response vMR, in server order.
type Result struct {
	Evaluations []record.Evaluation
	Forecasts   []record.Forecast
}

// Parser extracts evaluation and forecast entries from response vMR
// documents. It is safe for concurrent use because it holds no mutable state.
type Parser struct{}

// NewParser creates a new response vMR parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a cdsOutput document. The document is never mutated; the
// returned Result is freshly allocated. A response without the expected
// patient clinicalStatements or forecast proposal containers is malformed;
// a missing field inside an otherwise well-formed entry becomes an empty
// string.
func (p *Parser) Parse(xmlData []byte) (*Result, error) {
	if len(xmlData) == 0 {
		return nil, &MalformedResponseError{Reason: "response vMR is empty"}
	}

	var doc CDSOutput
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("parse cdsOutput: %v", err)}
	}
	if doc.VMROutput == nil || doc.VMROutput.Patient == nil || doc.VMROutput.Patient.ClinicalStatements == nil {
		return nil, &MalformedResponseError{Reason: "cdsOutput has no patient clinicalStatements"}
	}
	statements := doc.VMROutput.Patient.ClinicalStatements

	result := &Result{}

	// A response with no substanceAdministrationEvents container simply has
	// no doses to evaluate; the proposals container is always present in a
	// well-formed response.
	if statements.Events != nil {
		for _, event := range statements.Events.Events {
			result.Evaluations = append(result.Evaluations, p.parseEvaluations(event)...)
		}
	}

	if statements.Proposals == nil {
		return nil, &MalformedResponseError{Reason: "cdsOutput has no substanceAdministrationProposals container"}
	}
	for _, proposal := range statements.Proposals.Proposals {
		result.Forecasts = append(result.Forecasts, p.parseForecast(proposal))
	}

	return result, nil
}

// parseEvaluations extracts the evaluation entries for one echoed dose. A
// dose the server attached no related statements to was not recognized and
// yields the literal unsupported entry.
func (p *Parser) parseEvaluations(event OutputEvent) []record.Evaluation {
	id := event.ID.Root
	cvx := event.Substance.SubstanceCode.Code
	date := extractDate(event.TimeInterval.High)

	if len(event.Related) == 0 {
		return []record.Evaluation{{
			ImmunizationID: id,
			Date:           date,
			CVX:            cvx,
			GroupName:      "Unsupported",
			Validity:       "unsupported",
			DoseNumber:     "0",
			Code:           "UNSUPPORTED",
			Interpretation: "",
			GroupCode:      "0",
		}}
	}

	var evals []record.Evaluation
	for _, related := range event.Related {
		for _, inner := range related.Events {
			ev := record.Evaluation{
				ImmunizationID: id,
				Date:           date,
				CVX:            cvx,
			}
			if inner.IsValid != nil {
				ev.Validity = inner.IsValid.Value
			}
			if inner.DoseNumber != nil {
				ev.DoseNumber = inner.DoseNumber.Value
			}
			var interps []string
			for _, innerRelated := range inner.Related {
				obs := innerRelated.Observation
				if obs == nil {
					continue
				}
				ev.Code = obs.Value.Concept.Code
				ev.GroupName = obs.Focus.DisplayName
				ev.GroupCode = obs.Focus.Code
				for _, interp := range obs.Interpretations {
					interps = append(interps, interp.Code)
				}
			}
			ev.Interpretation = strings.Join(interps, ",")
			evals = append(evals, ev)
		}
	}
	return evals
}

// parseForecast extracts one forecast entry from a proposal. The earliest and
// past-due dates are copied verbatim when the server emits them and stay
// empty otherwise; whether they appear is server configuration, not a client
// decision.
func (p *Parser) parseForecast(proposal Proposal) record.Forecast {
	fc := record.Forecast{}

	// Only CVX-coded substances carry a recommended vaccine.
	if proposal.Substance.SubstanceCode.CodeSystem == OIDCVX {
		fc.CVX = proposal.Substance.SubstanceCode.Code
	}

	for _, related := range proposal.Related {
		obs := related.Observation
		if obs == nil {
			continue
		}
		fc.GroupName = obs.Focus.DisplayName
		fc.GroupCode = obs.Focus.Code
		fc.Concept = obs.Value.Concept.Code
		var interps []string
		for _, interp := range obs.Interpretations {
			interps = append(interps, interp.Code)
		}
		fc.Interpretation = strings.Join(interps, ",")
	}

	if proposal.ProposedInterval != nil {
		fc.DueDate = extractDate(proposal.ProposedInterval.Low)
		if proposal.ProposedInterval.High != "" {
			fc.PastDueDate = extractDate(proposal.ProposedInterval.High)
		}
	}
	if proposal.ValidInterval != nil {
		fc.EarliestDate = extractDate(proposal.ValidInterval.Low)
	}

	return fc
}

// extractDate returns the first YYYYMMDD run in s, or "" when there is none.
func extractDate(s string) string {
	return reDate.FindString(s)
}

// MalformedResponseError reports a response vMR whose shape does not match
// what the ICE service emits.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("vmr: malformed response: %s", e.Reason)
}
