// Package dss is the transport to the OpenCDS decision-support-service
// evaluate endpoint: it wraps a request vMR in the SOAP
// evaluateAtSpecifiedTime envelope, POSTs it, and unwraps the response vMR.
package dss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// evaluateEnvelope is the SOAP request for the ICE knowledge module.
// Substitutions: specified time as YYYY-MM-DD, then the base64-encoded vMR.
const evaluateEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<S:Envelope xmlns:S="http://www.w3.org/2003/05/soap-envelope">
  <S:Body>
    <ns2:evaluateAtSpecifiedTime xmlns:ns2="http://www.omg.org/spec/CDSS/201105/dss">
      <interactionId scopingEntityId="gov.nyc.health" interactionId="123456"/>
      <specifiedTime>%s</specifiedTime>
      <evaluationRequest clientLanguage="" clientTimeZoneOffset="">
        <kmEvaluationRequest>
          <kmId scopingEntityId="org.nyc.cir" businessId="ICE" version="1.0.0"/>
        </kmEvaluationRequest>
        <dataRequirementItemData>
          <driId itemId="cdsPayload">
            <containingEntityId scopingEntityId="gov.nyc.health" businessId="ICEData" version="1.0.0.0"/>
          </driId>
          <data>
            <informationModelSSId scopingEntityId="org.opencds.vmr" businessId="VMR" version="1.0"/>
            <base64EncodedPayload>%s</base64EncodedPayload>
          </data>
        </dataRequirementItemData>
      </evaluationRequest>
    </ns2:evaluateAtSpecifiedTime>
  </S:Body>
</S:Envelope>`

// responseEnvelope mirrors the SOAP response down to the base64 payload. The
// element tags are unqualified so any namespace prefixing matches.
type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			EvaluationResponse struct {
				FinalKMEvaluationResponse struct {
					KMEvaluationResultData struct {
						Data struct {
							Base64EncodedPayload string `xml:"base64EncodedPayload"`
						} `xml:"data"`
					} `xml:"kmEvaluationResultData"`
				} `xml:"finalKMEvaluationResponse"`
			} `xml:"evaluationResponse"`
		} `xml:"evaluateAtSpecifiedTimeResponse"`
	} `xml:"Body"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-call timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// WithBasicAuth forwards the given credentials on every request.
func WithBasicAuth(username, password string) Option {
	return func(cl *Client) {
		cl.username = username
		cl.password = password
	}
}

// Client calls one configured evaluate endpoint. The underlying HTTP client
// is shared across calls so connections to the service are kept alive. It
// performs no retries.
type Client struct {
	endpoint   string
	httpClient *http.Client
	username   string
	password   string
}

// NewClient creates a Client for the given evaluate endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint returns the configured evaluate endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Evaluate sends the request vMR to the service with the supplied as-of date
// and returns the decoded response vMR. Any non-2xx status, unparsable
// response envelope, or missing payload yields a *TransportError carrying the
// raw status and body.
func (c *Client) Evaluate(ctx context.Context, requestVMR []byte, asOf time.Time) ([]byte, error) {
	payload := base64.StdEncoding.EncodeToString(requestVMR)
	body := fmt.Sprintf(evaluateEnvelope, asOf.Format("2006-01-02"), payload)
	// The service rejects envelopes with embedded newlines.
	body = strings.NewReplacer("\n", "", "\r", "").Replace(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/xml")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("non-2xx response"),
		}
	}

	var envelope responseEnvelope
	if err := xml.Unmarshal(respBody, &envelope); err != nil {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("parse response envelope: %w", err),
		}
	}

	encoded := envelope.Body.Response.EvaluationResponse.FinalKMEvaluationResponse.KMEvaluationResultData.Data.Base64EncodedPayload
	if encoded == "" {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("response envelope has no base64EncodedPayload"),
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("decode response payload: %w", err),
		}
	}
	return decoded, nil
}

// TransportError reports a failed exchange with the evaluate endpoint. The
// raw HTTP status and body are kept for diagnostics.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	var b bytes.Buffer
	b.WriteString("dss: evaluate call failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
