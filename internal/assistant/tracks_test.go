package assistant

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/kenesbay/cargobot/internal/backend"
)

func TestExtractTrackCodes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"YT7788990011", []string{"YT7788990011"}},
		{"YT7788990011 AB1234567890", []string{"YT7788990011", "AB1234567890"}},
		{"YT7788990011,AB1234567890;CD1112223334", []string{"YT7788990011", "AB1234567890", "CD1112223334"}},
		{"YT7788990011\nAB1234567890", []string{"YT7788990011", "AB1234567890"}},
		{"АБС123456789", []string{"АБС123456789"}}, // transliterated Cyrillic codes
		{"АБС123456789 YT7788990011", []string{"АБС123456789", "YT7788990011"}},
		{"где мой заказ YT7788990011", nil}, // mixed prose is not a track message
		{"привет", nil},
		{"short", nil}, // below minimum length
		{"", nil},
	}
	for _, tc := range cases {
		if got := extractTrackCodes(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("extractTrackCodes(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// A message of known track codes is answered from the customer's own
// orders, with no model call and no confirmation round trip.
func TestCustomerTracks_KnownTrackStatus(t *testing.T) {
	crm := newFakeCRM(t)
	crm.orders = []backend.Order{
		{ID: 1, TrackCode: "YT7788990011", Status: "В пути", PartyDate: "2026-08-20", ClientID: 42, CompanyID: testCompanyID},
	}
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()

	res := a.HandleMessage(context.Background(), customerActor(), conv, "YT7788990011")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v: %s", res.Kind, res.Text)
	}
	if !strings.Contains(res.Text, "В пути") {
		t.Errorf("status missing from reply: %q", res.Text)
	}
	if crm.mutationCount() != 0 {
		t.Error("status lookup must not mutate")
	}
}

// A single unknown track starts the claim flow: the bot asks for a
// comment and only creates the order on the follow-up message.
func TestCustomerTracks_SingleUnknownClaimFlow(t *testing.T) {
	crm := newFakeCRM(t)
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()
	actor := customerActor()

	res := a.HandleMessage(context.Background(), actor, conv, "AB1234567890")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v", res.Kind)
	}
	if conv.PendingTrack != "AB1234567890" {
		t.Fatalf("PendingTrack = %q", conv.PendingTrack)
	}
	if n := crm.count(http.MethodPost, "/api/orders"); n != 0 {
		t.Fatal("order must not be created before the comment round trip")
	}

	res = a.HandleMessage(context.Background(), actor, conv, "красные кроссовки")
	if res.Kind != KindReply || !strings.Contains(res.Text, "добавлен") {
		t.Fatalf("claim failed: %v: %s", res.Kind, res.Text)
	}
	if conv.PendingTrack != "" {
		t.Error("PendingTrack should be cleared after the claim")
	}
	body := crm.lastBody(http.MethodPost, "/api/orders")
	if body == nil {
		t.Fatal("expected a POST /api/orders")
	}
	if body["track_code"] != "AB1234567890" {
		t.Errorf("track_code = %v", body["track_code"])
	}
	if body["client_id"].(float64) != 42 {
		t.Errorf("client_id = %v, want the actor's own", body["client_id"])
	}
	if body["comment"] != "красные кроссовки" {
		t.Errorf("comment = %v", body["comment"])
	}
}

// A Cyrillic track code rides the same fast path: claim flow without any
// model call, and the code reaches the created order untouched.
func TestCustomerTracks_CyrillicClaimFlow(t *testing.T) {
	crm := newFakeCRM(t)
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()
	actor := customerActor()

	res := a.HandleMessage(context.Background(), actor, conv, "АБС123456789")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v: %s", res.Kind, res.Text)
	}
	if conv.PendingTrack != "АБС123456789" {
		t.Fatalf("PendingTrack = %q", conv.PendingTrack)
	}

	res = a.HandleMessage(context.Background(), actor, conv, "-")
	if res.Kind != KindReply || !strings.Contains(res.Text, "добавлен") {
		t.Fatalf("claim failed: %v: %s", res.Kind, res.Text)
	}
	body := crm.lastBody(http.MethodPost, "/api/orders")
	if body == nil {
		t.Fatal("expected a POST /api/orders")
	}
	if body["track_code"] != "АБС123456789" {
		t.Errorf("track_code = %v", body["track_code"])
	}
}

// An order staff already imported without an owner is claimed by PATCHing
// its client_id; creating a duplicate would be rejected by the backend.
func TestCustomerTracks_ClaimsUnclaimedInventory(t *testing.T) {
	crm := newFakeCRM(t)
	crm.orders = []backend.Order{
		{ID: 9, TrackCode: "AB1234567890", Status: "На складе", CompanyID: testCompanyID},
	}
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()

	res := a.HandleMessage(context.Background(), customerActor(), conv, "AB1234567890")
	if res.Kind != KindReply || !strings.Contains(res.Text, "добавлен") {
		t.Fatalf("expected a claim reply, got %v: %s", res.Kind, res.Text)
	}
	if conv.PendingTrack != "" {
		t.Error("claiming from inventory must not wait for a comment")
	}
	if n := crm.count(http.MethodPost, "/api/orders"); n != 0 {
		t.Fatalf("claiming must not create a duplicate order, got %d POSTs", n)
	}
	body := crm.lastBody(http.MethodPatch, "/api/orders/9")
	if body == nil {
		t.Fatal("expected a PATCH /api/orders/9")
	}
	if body["client_id"].(float64) != 42 {
		t.Errorf("client_id = %v, want the actor's own", body["client_id"])
	}
}

// A track already owned by another customer is never reassigned or
// duplicated from the self-service path.
func TestCustomerTracks_ForeignOwnedTrackNotClaimed(t *testing.T) {
	crm := newFakeCRM(t)
	crm.orders = []backend.Order{
		{ID: 9, TrackCode: "AB1234567890", Status: "В пути", ClientID: 99, CompanyID: testCompanyID},
	}
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()

	res := a.HandleMessage(context.Background(), customerActor(), conv, "AB1234567890")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v: %s", res.Kind, res.Text)
	}
	if strings.Contains(res.Text, "добавлен") {
		t.Errorf("foreign track must not be claimed: %q", res.Text)
	}
	if crm.mutationCount() != 0 {
		t.Error("foreign track must not cause any write")
	}
}

func TestCustomerTracks_SkipCommentWithDash(t *testing.T) {
	crm := newFakeCRM(t)
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()
	actor := customerActor()

	a.HandleMessage(context.Background(), actor, conv, "AB1234567890")
	res := a.HandleMessage(context.Background(), actor, conv, "-")
	if res.Kind != KindReply || !strings.Contains(res.Text, "добавлен") {
		t.Fatalf("claim failed: %v: %s", res.Kind, res.Text)
	}
	body := crm.lastBody(http.MethodPost, "/api/orders")
	if _, has := body["comment"]; has {
		t.Errorf("dash should skip the comment, body = %v", body)
	}
}

// Several unknown tracks at once are claimed immediately, without the
// per-track comment round trip.
func TestCustomerTracks_MultipleUnknownClaimedDirectly(t *testing.T) {
	crm := newFakeCRM(t)
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()

	res := a.HandleMessage(context.Background(), customerActor(), conv, "AB1234567890 CD1112223334")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v: %s", res.Kind, res.Text)
	}
	if conv.PendingTrack != "" {
		t.Error("bulk claims must not wait for a comment")
	}
	if n := crm.count(http.MethodPost, "/api/orders"); n != 2 {
		t.Fatalf("expected 2 created orders, got %d", n)
	}
}

// A mix of known and unknown tracks reports statuses and claims the rest.
func TestCustomerTracks_MixedKnownAndUnknown(t *testing.T) {
	crm := newFakeCRM(t)
	crm.orders = []backend.Order{
		{ID: 1, TrackCode: "YT7788990011", Status: "Готов к выдаче", ClientID: 42, CompanyID: testCompanyID},
	}
	provider := &fakeProvider{mustSkip: true, t: t}
	a := newTestAssistant(t, crm, provider)
	conv := newConv()

	res := a.HandleMessage(context.Background(), customerActor(), conv, "YT7788990011 AB1234567890")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v: %s", res.Kind, res.Text)
	}
	if !strings.Contains(res.Text, "Готов к выдаче") {
		t.Errorf("known track status missing: %q", res.Text)
	}
	if !strings.Contains(res.Text, "добавлен") {
		t.Errorf("unknown track should be claimed: %q", res.Text)
	}
	if n := crm.count(http.MethodPost, "/api/orders"); n != 1 {
		t.Fatalf("expected 1 created order, got %d", n)
	}
}

// Prose from a customer goes to the model, not the track fast path.
func TestCustomerTracks_ProseFallsThroughToModel(t *testing.T) {
	crm := newFakeCRM(t)
	provider := &fakeProvider{reply: "Здравствуйте!"}
	a := newTestAssistant(t, crm, provider)

	res := a.HandleMessage(context.Background(), customerActor(), newConv(), "когда приедет мой заказ?")
	if res.Kind != KindReply {
		t.Fatalf("expected KindReply, got %v", res.Kind)
	}
	if provider.calls != 1 {
		t.Errorf("model calls = %d, want 1", provider.calls)
	}
}
