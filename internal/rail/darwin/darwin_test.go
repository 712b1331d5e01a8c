package darwin_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/railuk/internal/rail"
	"github.com/MrWong99/railuk/internal/rail/darwin"
)

const boardResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">
  <soap:Body>
    <GetDepartureBoardResponse xmlns="http://thalesgroup.com/RTTI/2016-02-16/ldb/">
      <GetStationBoardResult xmlns:lt4="http://thalesgroup.com/RTTI/2015-11-27/ldb/types" xmlns:lt5="http://thalesgroup.com/RTTI/2016-02-16/ldb/types">
        <lt4:generatedAt>2019-03-01T19:45:00.0000000+00:00</lt4:generatedAt>
        <lt4:locationName>Home Town</lt4:locationName>
        <lt4:crs>HTX</lt4:crs>
        <lt5:trainServices>
          <lt5:service>
            <lt4:std>22:00</lt4:std>
            <lt4:etd>On time</lt4:etd>
            <lt4:operator>Train Operator Limited</lt4:operator>
            <lt5:destination><lt4:location><lt4:locationName>Train City</lt4:locationName><lt4:crs>TCX</lt4:crs></lt4:location></lt5:destination>
          </lt5:service>
          <lt5:service>
            <lt4:std>22:15</lt4:std>
            <lt4:etd>22:21</lt4:etd>
            <lt4:operator>Midland Rail</lt4:operator>
            <lt5:destination><lt4:location><lt4:locationName>Train Town</lt4:locationName><lt4:crs>TTX</lt4:crs></lt4:location></lt5:destination>
          </lt5:service>
          <lt5:service>
            <lt4:std>22:30</lt4:std>
            <lt4:etd>Cancelled</lt4:etd>
            <lt4:operator>Midland Rail</lt4:operator>
            <lt5:destination>
              <lt4:location><lt4:locationName>Train Town</lt4:locationName><lt4:crs>TTX</lt4:crs></lt4:location>
              <lt4:location><lt4:locationName>Far Town</lt4:locationName><lt4:crs>FTX</lt4:crs></lt4:location>
            </lt5:destination>
          </lt5:service>
        </lt5:trainServices>
      </GetStationBoardResult>
    </GetDepartureBoardResponse>
  </soap:Body>
</soap:Envelope>`

const emptyBoardResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <GetDepartureBoardResponse xmlns="http://thalesgroup.com/RTTI/2016-02-16/ldb/">
      <GetStationBoardResult xmlns:lt4="http://thalesgroup.com/RTTI/2015-11-27/ldb/types">
        <lt4:locationName>Home Town</lt4:locationName>
        <lt4:crs>HTX</lt4:crs>
      </GetStationBoardResult>
    </GetDepartureBoardResponse>
  </soap:Body>
</soap:Envelope>`

const fastestResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <GetFastestDeparturesResponse xmlns="http://thalesgroup.com/RTTI/2016-02-16/ldb/">
      <DeparturesBoard xmlns:lt4="http://thalesgroup.com/RTTI/2015-11-27/ldb/types" xmlns:lt5="http://thalesgroup.com/RTTI/2016-02-16/ldb/types">
        <lt4:locationName>Home Town</lt4:locationName>
        <lt4:crs>HTX</lt4:crs>
        <lt5:departures>
          <lt5:destination crs="TTX">
            <lt5:service>
              <lt4:std>21:51</lt4:std>
              <lt4:etd>21:55</lt4:etd>
              <lt4:operator>Midland Rail</lt4:operator>
              <lt5:destination><lt4:location><lt4:locationName>Train Town</lt4:locationName><lt4:crs>TTX</lt4:crs></lt4:location></lt5:destination>
            </lt5:service>
          </lt5:destination>
        </lt5:departures>
      </DeparturesBoard>
    </GetFastestDeparturesResponse>
  </soap:Body>
</soap:Envelope>`

const fastestNilResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <soap:Body>
    <GetFastestDeparturesResponse xmlns="http://thalesgroup.com/RTTI/2016-02-16/ldb/">
      <DeparturesBoard xmlns:lt5="http://thalesgroup.com/RTTI/2016-02-16/ldb/types">
        <lt5:departures>
          <lt5:destination crs="TTX">
            <lt5:service xsi:nil="true" />
          </lt5:destination>
        </lt5:departures>
      </DeparturesBoard>
    </GetFastestDeparturesResponse>
  </soap:Body>
</soap:Envelope>`

func faultResponse(code, reason string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <soap:Fault>
      <soap:Code><soap:Value>` + code + `</soap:Value></soap:Code>
      <soap:Reason><soap:Text xml:lang="en">` + reason + `</soap:Text></soap:Reason>
      <soap:Detail />
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`
}

// soapServer returns canned body with status and records the last request
// body it received.
func soapServer(t *testing.T, status int, body string, gotBody *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/soap+xml") {
			t.Errorf("Content-Type = %q, want application/soap+xml", ct)
		}
		b, _ := io.ReadAll(r.Body)
		if gotBody != nil {
			*gotBody = string(b)
		}
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *darwin.Client {
	t.Helper()
	c, err := darwin.New("MOCK_DARWIN_TOKEN", darwin.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var boardReq = rail.BoardRequest{Origin: "HTX", Destination: "TTX", OffsetMinutes: 5, WindowMinutes: 120, Rows: 3}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := darwin.New(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestDepartures(t *testing.T) {
	t.Parallel()

	var sent string
	srv := soapServer(t, http.StatusOK, boardResponse, &sent)
	got, err := newClient(t, srv).Departures(context.Background(), boardReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"<typ:TokenValue>MOCK_DARWIN_TOKEN</typ:TokenValue>",
		"<ldb:GetDepartureBoardRequest>",
		"<ldb:numRows>3</ldb:numRows>",
		"<ldb:crs>HTX</ldb:crs>",
		"<ldb:filterCrs>TTX</ldb:filterCrs>",
		"<ldb:timeOffset>5</ldb:timeOffset>",
		"<ldb:timeWindow>120</ldb:timeWindow>",
	} {
		if !strings.Contains(sent, want) {
			t.Errorf("request body missing %s", want)
		}
	}

	want := []rail.Departure{
		{Scheduled: "22:00", Estimated: "On time", Operator: "Train Operator Limited", Destination: "Train City", Live: true},
		{Scheduled: "22:15", Estimated: "22:21", Operator: "Midland Rail", Destination: "Train Town", Live: true},
		{Scheduled: "22:30", Estimated: "Cancelled", Operator: "Midland Rail", Destination: "Train Town and Far Town", Live: true},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDepartures_RowsCap(t *testing.T) {
	t.Parallel()

	srv := soapServer(t, http.StatusOK, boardResponse, nil)
	req := boardReq
	req.Rows = 1
	got, err := newClient(t, srv).Departures(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Scheduled != "22:00" {
		t.Errorf("got %+v, want only the 22:00", got)
	}
}

func TestDepartures_EmptyBoard(t *testing.T) {
	t.Parallel()

	srv := soapServer(t, http.StatusOK, emptyBoardResponse, nil)
	got, err := newClient(t, srv).Departures(context.Background(), boardReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d departures, want none", len(got))
	}
}

func TestDepartures_EscapesInput(t *testing.T) {
	t.Parallel()

	var sent string
	srv := soapServer(t, http.StatusOK, emptyBoardResponse, &sent)
	req := boardReq
	req.Origin = "<X&>"
	if _, err := newClient(t, srv).Departures(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sent, "<ldb:crs>&lt;X&amp;&gt;</ldb:crs>") {
		t.Errorf("origin not escaped in request:\n%s", sent)
	}
}

func TestFastestDeparture(t *testing.T) {
	t.Parallel()

	var sent string
	srv := soapServer(t, http.StatusOK, fastestResponse, &sent)
	got, err := newClient(t, srv).FastestDeparture(context.Background(), boardReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sent, "<ldb:GetFastestDeparturesRequest>") ||
		!strings.Contains(sent, "<ldb:filterList>") {
		t.Errorf("unexpected request body:\n%s", sent)
	}
	want := rail.Departure{Scheduled: "21:51", Estimated: "21:55", Operator: "Midland Rail", Destination: "Train Town", Live: true}
	if got == nil || *got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFastestDeparture_None(t *testing.T) {
	t.Parallel()

	srv := soapServer(t, http.StatusOK, fastestNilResponse, nil)
	got, err := newClient(t, srv).FastestDeparture(context.Background(), boardReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantText string
	}{
		{
			name:     "sender fault",
			status:   http.StatusInternalServerError,
			body:     faultResponse("soap:Sender", "Invalid crs code supplied"),
			wantErr:  rail.ErrClient,
			wantText: "Request to Darwin failed - Invalid crs code supplied",
		},
		{
			name:     "receiver fault",
			status:   http.StatusInternalServerError,
			body:     faultResponse("soap:Receiver", "Unexpected server error"),
			wantErr:  rail.ErrProvider,
			wantText: "Request to Darwin failed - Unexpected server error",
		},
		{
			name:     "not xml",
			status:   http.StatusServiceUnavailable,
			body:     "<html><body>Service Unavailable",
			wantErr:  rail.ErrProvider,
			wantText: "Request to Darwin failed - Could not parse response.",
		},
		{
			name:     "unexpected document",
			status:   http.StatusOK,
			body:     `<?xml version="1.0"?><soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body/></soap:Envelope>`,
			wantErr:  rail.ErrProvider,
			wantText: "Request to Darwin failed - Could not parse response.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := soapServer(t, tc.status, tc.body, nil)
			_, err := newClient(t, srv).Departures(context.Background(), boardReq)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			var apiErr *rail.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %T, want *rail.APIError", err)
			}
			if apiErr.Provider != darwin.Provider {
				t.Errorf("Provider = %q", apiErr.Provider)
			}
			if got := err.Error(); got != tc.wantText {
				t.Errorf("Error() = %q, want %q", got, tc.wantText)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := darwin.New("token", darwin.WithEndpoint(url))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Departures(context.Background(), boardReq)
	if !errors.Is(err, rail.ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}
