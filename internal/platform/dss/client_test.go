package dss

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const responsePayload = `<cdsOutput><vmrOutput/></cdsOutput>`

func soapResponse(payload string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<S:Envelope xmlns:S="http://www.w3.org/2003/05/soap-envelope">
  <S:Body>
    <ns2:evaluateAtSpecifiedTimeResponse xmlns:ns2="http://www.omg.org/spec/CDSS/201105/dss">
      <evaluationResponse>
        <finalKMEvaluationResponse>
          <kmEvaluationResultData>
            <data>
              <base64EncodedPayload>%s</base64EncodedPayload>
            </data>
          </kmEvaluationResultData>
        </finalKMEvaluationResponse>
      </evaluationResponse>
    </ns2:evaluateAtSpecifiedTimeResponse>
  </S:Body>
</S:Envelope>`, encoded)
}

// requestEnvelope picks the fields under test out of the outgoing SOAP body.
type requestEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Evaluate struct {
			SpecifiedTime string `xml:"specifiedTime"`
			Request       struct {
				Item struct {
					Data struct {
						Base64EncodedPayload string `xml:"base64EncodedPayload"`
					} `xml:"data"`
				} `xml:"dataRequirementItemData"`
			} `xml:"evaluationRequest"`
		} `xml:"evaluateAtSpecifiedTime"`
	} `xml:"Body"`
}

func TestClient_Evaluate(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		if ct := r.Header.Get("Content-Type"); ct != "application/xml" {
			t.Errorf("expected application/xml content type, got %q", ct)
		}
		fmt.Fprint(w, soapResponse(responsePayload))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	asOf := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	requestVMR := []byte(`<cdsInput><vmrInput/></cdsInput>`)

	got, err := client.Evaluate(context.Background(), requestVMR, asOf)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if string(got) != responsePayload {
		t.Errorf("unexpected decoded payload: %q", got)
	}

	if strings.ContainsAny(string(captured), "\n\r") {
		t.Error("request envelope must not contain newlines")
	}
	var env requestEnvelope
	if err := xml.Unmarshal(captured, &env); err != nil {
		t.Fatalf("request envelope is not parsable XML: %v", err)
	}
	if env.Body.Evaluate.SpecifiedTime != "2020-06-01" {
		t.Errorf("expected specifiedTime 2020-06-01, got %q", env.Body.Evaluate.SpecifiedTime)
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Body.Evaluate.Request.Item.Data.Base64EncodedPayload)
	if err != nil {
		t.Fatalf("request payload is not base64: %v", err)
	}
	if string(decoded) != string(requestVMR) {
		t.Errorf("request payload round-trip mismatch: %q", decoded)
	}
}

func TestClient_Evaluate_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, soapResponse(responsePayload))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithBasicAuth("ice", "secret"))
	if _, err := client.Evaluate(context.Background(), []byte("<x/>"), time.Now()); err != nil {
		t.Fatalf("evaluate with credentials failed: %v", err)
	}

	anon := NewClient(srv.URL)
	_, err := anon.Evaluate(context.Background(), []byte("<x/>"), time.Now())
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if transport.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", transport.StatusCode)
	}
}

func TestClient_Evaluate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "knowledge module exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Evaluate(context.Background(), []byte("<x/>"), time.Now())

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if transport.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", transport.StatusCode)
	}
	if !strings.Contains(transport.Body, "knowledge module exploded") {
		t.Errorf("expected raw body to be kept, got %q", transport.Body)
	}
	if !strings.Contains(transport.Error(), "status 500") {
		t.Errorf("expected status in error message, got %q", transport.Error())
	}
}

func TestClient_Evaluate_MalformedEnvelope(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not xml", "this is not xml"},
		{"no payload", `<Envelope><Body/></Envelope>`},
		{"bad base64", strings.Replace(soapResponse(responsePayload), base64.StdEncoding.EncodeToString([]byte(responsePayload)), "!!!not-base64!!!", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			client := NewClient(srv.URL)
			_, err := client.Evaluate(context.Background(), []byte("<x/>"), time.Now())
			var transport *TransportError
			if !errors.As(err, &transport) {
				t.Fatalf("expected TransportError, got %T: %v", err, err)
			}
		})
	}
}

func TestClient_Evaluate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Evaluate(context.Background(), []byte("<x/>"), time.Now())
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if transport.StatusCode != 0 {
		t.Errorf("expected no status code before a response, got %d", transport.StatusCode)
	}
}

func TestClient_Evaluate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Evaluate(ctx, []byte("<x/>"), time.Now())
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in the chain, got %v", err)
	}
}
