package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/observability"
)

var testMetrics = observability.NewMetrics()

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	log := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	tracer, _ := observability.NewTracer(observability.TraceConfig{})
	c, err := NewClient(config.LiveKitConfig{
		URL:            serverURL,
		APIKey:         "APItest",
		APISecret:      "testsecret",
		SIPTrunkID:     "ST_outbound",
		RequestTimeout: 5 * time.Second,
	}, log, testMetrics, tracer)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	log := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	tracer, _ := observability.NewTracer(observability.TraceConfig{})

	tests := []struct {
		name string
		cfg  config.LiveKitConfig
	}{
		{"missing url", config.LiveKitConfig{APIKey: "k", APISecret: "s"}},
		{"missing api key", config.LiveKitConfig{URL: "wss://lk.example.com", APISecret: "s"}},
		{"missing api secret", config.LiveKitConfig{URL: "wss://lk.example.com", APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg, log, testMetrics, tracer); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestAPIBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://lk.example.com", "https://lk.example.com"},
		{"ws://localhost:7880", "http://localhost:7880"},
		{"https://lk.example.com/", "https://lk.example.com"},
		{"http://localhost:7880", "http://localhost:7880"},
		{"  wss://lk.example.com/  ", "https://lk.example.com"},
	}
	for _, tt := range tests {
		if got := apiBaseURL(tt.in); got != tt.want {
			t.Errorf("apiBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateSIPParticipant(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"participant_id":       "PA_abc",
			"participant_identity": "phone_user",
			"room_name":            "call-42",
			"sip_call_id":          "SCL_xyz",
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	got, err := c.CreateSIPParticipant(context.Background(), CreateSIPParticipantRequest{
		TrunkID:             "ST_outbound",
		CallTo:              "+14155550123",
		RoomName:            "call-42",
		ParticipantIdentity: "phone_user",
		WaitUntilAnswered:   true,
	})
	if err != nil {
		t.Fatalf("CreateSIPParticipant() error = %v", err)
	}

	if gotPath != "/twirp/livekit.SIP/CreateSIPParticipant" {
		t.Errorf("path = %q, want twirp SIP create path", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Bearer eyJ") {
		t.Errorf("authorization = %q, want bearer JWT", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("content-type = %q, want application/json", gotContentType)
	}
	if gotBody["sip_trunk_id"] != "ST_outbound" || gotBody["sip_call_to"] != "+14155550123" {
		t.Errorf("request body = %v, want trunk and destination", gotBody)
	}
	if gotBody["wait_until_answered"] != true {
		t.Errorf("wait_until_answered = %v, want true", gotBody["wait_until_answered"])
	}
	if got.ParticipantID != "PA_abc" || got.SIPCallID != "SCL_xyz" {
		t.Errorf("participant = %+v, want PA_abc / SCL_xyz", got)
	}
}

func TestCreateSIPParticipantCarrierRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":"internal","msg":"sip call failed","meta":{"sip_status_code":"486","sip_status":"Busy Here"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateSIPParticipant(context.Background(), CreateSIPParticipantRequest{
		TrunkID:             "ST_outbound",
		CallTo:              "+14155550123",
		RoomName:            "call-42",
		ParticipantIdentity: "phone_user",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var twerr *Error
	if !errors.As(err, &twerr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if twerr.Code != CodeInternal {
		t.Errorf("code = %q, want %q", twerr.Code, CodeInternal)
	}
	if twerr.SIPStatusCode() != "486" {
		t.Errorf("sip status = %q, want 486", twerr.SIPStatusCode())
	}
	if !twerr.Temporary() {
		t.Error("internal twirp errors should be retryable")
	}
	if twerr.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("http status = %d, want 500", twerr.HTTPStatus)
	}
}

func TestCreateSIPParticipantValidatesInputs(t *testing.T) {
	c := testClient(t, "http://localhost:1")

	tests := []struct {
		name string
		req  CreateSIPParticipantRequest
	}{
		{"missing trunk", CreateSIPParticipantRequest{CallTo: "+1", RoomName: "r"}},
		{"missing destination", CreateSIPParticipantRequest{TrunkID: "t", RoomName: "r"}},
		{"missing room", CreateSIPParticipantRequest{TrunkID: "t", CallTo: "+1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.CreateSIPParticipant(context.Background(), tt.req); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestTransferSIPParticipant(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.TransferSIPParticipant(context.Background(), "call-42", "phone_user", "tel:+18005550199")
	if err != nil {
		t.Fatalf("TransferSIPParticipant() error = %v", err)
	}

	if gotPath != "/twirp/livekit.SIP/TransferSIPParticipant" {
		t.Errorf("path = %q, want twirp SIP transfer path", gotPath)
	}
	if gotBody["transfer_to"] != "tel:+18005550199" {
		t.Errorf("transfer_to = %v, want tel: destination", gotBody["transfer_to"])
	}
	if gotBody["room_name"] != "call-42" || gotBody["participant_identity"] != "phone_user" {
		t.Errorf("request body = %v, want room and identity", gotBody)
	}
}

func TestDeleteRoomNotFoundIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"not_found","msg":"requested room does not exist"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if err := c.DeleteRoom(context.Background(), "call-42"); err != nil {
		t.Errorf("DeleteRoom() on missing room = %v, want nil", err)
	}
}

func TestDeleteRoomGenuineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"code":"unavailable","msg":"server draining"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.DeleteRoom(context.Background(), "call-42")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if IsNotFound(err) {
		t.Error("unavailable must not classify as not_found")
	}
	if !IsTemporary(err) {
		t.Error("unavailable should be retryable")
	}
}

func TestDeleteRoomRequiresName(t *testing.T) {
	c := testClient(t, "http://localhost:1")
	if err := c.DeleteRoom(context.Background(), "  "); err == nil {
		t.Error("expected error for blank room name")
	}
}

func TestListRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/twirp/livekit.RoomService/ListRooms" {
			t.Errorf("path = %q, want twirp ListRooms path", r.URL.Path)
		}
		io.WriteString(w, `{"rooms":[
			{"sid":"RM_a","name":"call-1","num_participants":2,"creation_time":"1718000000"},
			{"sid":"RM_b","name":"call-2","num_participants":1,"creation_time":"1718000300"}
		]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	rooms, err := c.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms() error = %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("len(rooms) = %d, want 2", len(rooms))
	}
	if rooms[0].Name != "call-1" || rooms[0].NumParticipants != 2 {
		t.Errorf("rooms[0] = %+v, want call-1 with 2 participants", rooms[0])
	}
	if rooms[0].CreationTime != 1718000000 {
		t.Errorf("creation time = %d, want 1718000000", rooms[0].CreationTime)
	}
}

func TestTwirpErrorFallbackOnNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>upstream connect error</html>")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.ListRooms(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var twerr *Error
	if !errors.As(err, &twerr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if twerr.Code != CodeInternal {
		t.Errorf("fallback code = %q, want %q", twerr.Code, CodeInternal)
	}
	if !strings.Contains(twerr.Msg, "upstream connect error") {
		t.Errorf("fallback msg = %q, want raw body", twerr.Msg)
	}
}

func TestTemporaryClassification(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeUnavailable, true},
		{CodeInternal, true},
		{CodeDeadlineExceeded, true},
		{CodeResourceExhausted, true},
		{CodeNotFound, false},
		{CodeInvalidArgument, false},
		{CodeUnauthenticated, false},
		{CodePermissionDenied, false},
	}
	for _, tt := range tests {
		e := &Error{Code: tt.code}
		if got := e.Temporary(); got != tt.want {
			t.Errorf("Temporary(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
