package bot_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/bdobrica/Molo/internal/molo/bot"
	"github.com/bdobrica/Molo/internal/molo/erasure"
	"github.com/bdobrica/Molo/internal/molo/store"
	"github.com/bdobrica/Molo/internal/molo/templates"
)

// fakePending is an in-memory PendingStore with injectable failures.
type fakePending struct {
	values map[string]string
	setErr error
	getErr error
}

func newFakePending() *fakePending {
	return &fakePending{values: make(map[string]string)}
}

func (f *fakePending) SetWithExpiry(_ context.Context, key, value string, _ time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	return nil
}

func (f *fakePending) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", erasure.ErrNotFound
	}
	return v, nil
}

func (f *fakePending) Delete(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

type fixture struct {
	handler *bot.Handler
	store   *store.Store
	pending *fakePending
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "bot-test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:   s,
		pending: newFakePending(),
		now:     time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
	}
	f.handler = bot.New(bot.Config{
		Directory: s,
		Pending:   f.pending,
		Now:       func() time.Time { return f.now },
	})
	return f
}

// send delivers a direct-format payload and decodes the reply.
func (f *fixture) send(t *testing.T, sender, text string) (string, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"sender_id": sender, "text": text})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return f.deliver(t, payload)
}

func (f *fixture) deliver(t *testing.T, payload []byte) (string, string) {
	t.Helper()
	raw := f.handler.HandleIncoming(context.Background(), payload)

	var reply struct {
		ReplyTo   string `json:"reply_to"`
		ReplyText string `json:"reply_text"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("unmarshal reply %q: %v", raw, err)
	}
	return reply.ReplyTo, reply.ReplyText
}

func (f *fixture) seedBundles(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	bundles := []*store.Bundle{
		{
			BundleID:      "street_vendor",
			NameEN:        "Street-Vendor CRM",
			NameXH:        sql.NullString{String: "I-CRM yoMthengisi", Valid: true},
			DescriptionEN: sql.NullString{String: "Track customers and orders", Valid: true},
			PriceTier:     "basic",
			Active:        true,
			SortOrder:     0,
		},
		{
			BundleID:  "spaza",
			NameEN:    "Spaza Shop Pack",
			PriceTier: "standard",
			Active:    true,
			SortOrder: 1,
		},
	}
	for _, b := range bundles {
		if err := f.store.UpsertBundle(ctx, b); err != nil {
			t.Fatalf("UpsertBundle %s: %v", b.BundleID, err)
		}
	}
}

// makeUser creates a user directly in the store at the requested stage.
func (f *fixture) makeUser(t *testing.T, id, lang string, consent bool, bundle string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.CreateUser(ctx, id, lang, consent); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if bundle != "" {
		if err := f.store.UpdateUserBundle(ctx, id, bundle); err != nil {
			t.Fatalf("UpdateUserBundle: %v", err)
		}
	}
}

func (f *fixture) makeActiveUser(t *testing.T, id string) {
	t.Helper()
	f.seedBundles(t)
	f.makeUser(t, id, "en", true, "street_vendor")
}

const sender = "whatsapp:+27821234567"

func TestFirstContact_SendsConsentNotice(t *testing.T) {
	f := newFixture(t)

	to, text := f.send(t, sender, "Molo")
	if to != sender {
		t.Errorf("reply_to = %q, want %q", to, sender)
	}
	want := templates.Default().Resolve(templates.KeyPopiaNotice, "xh")
	if text != want {
		t.Errorf("reply = %q, want Xhosa consent notice", text)
	}

	user, err := f.store.GetUser(context.Background(), sender)
	if err != nil {
		t.Fatalf("GetUser after first contact: %v", err)
	}
	if user.PreferredLanguage != "xh" {
		t.Errorf("detected language = %q, want xh for greeting Molo", user.PreferredLanguage)
	}
	if user.PopiaConsent {
		t.Error("new user must not have consent")
	}
}

func TestConsentNotice_RepeatsUntilAgreement(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", false, "")

	notice := templates.Default().Resolve(templates.KeyPopiaNotice, "en")
	for _, msg := range []string{"hello", "/bundle", "1", "/delete"} {
		if _, text := f.send(t, sender, msg); text != notice {
			t.Errorf("message %q: reply = %q, want consent notice", msg, text)
		}
	}
}

func TestAgreePopia_GrantsConsent(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", false, "")

	_, text := f.send(t, sender, "AGREE POPIA")
	if !strings.HasPrefix(text, "Thank you for your consent.\n\n") {
		t.Errorf("reply = %q, want consent acknowledgement prefix", text)
	}
	welcome := templates.Default().Resolve(templates.KeyWelcome, "en")
	if !strings.Contains(text, welcome) {
		t.Errorf("reply %q does not contain welcome text", text)
	}

	user, err := f.store.GetUser(context.Background(), sender)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.PopiaConsent {
		t.Error("consent not recorded")
	}
}

func TestAgreePopia_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", false, "")

	_, text := f.send(t, sender, "  agree popia ")
	if !strings.Contains(text, "Thank you for your consent") {
		t.Errorf("reply = %q", text)
	}
}

func TestBundleGate_PromptsAfterConsent(t *testing.T) {
	f := newFixture(t)
	f.seedBundles(t)
	f.makeUser(t, sender, "en", true, "")

	_, text := f.send(t, sender, "hello")
	if !strings.Contains(text, "Please choose a service bundle") {
		t.Errorf("reply = %q, want bundle prompt", text)
	}
	if !strings.Contains(text, "1. Street-Vendor CRM - Track customers and orders") {
		t.Errorf("reply %q missing enumerated first bundle", text)
	}
	if !strings.Contains(text, "2. Spaza Shop Pack") {
		t.Errorf("reply %q missing second bundle", text)
	}
	if strings.Contains(text, "{bundle_list}") {
		t.Errorf("placeholder leaked into reply %q", text)
	}
}

func TestBundleGate_EmptyCatalogFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", true, "")

	_, text := f.send(t, sender, "hello")
	if text != "Echo: hello" {
		t.Errorf("reply = %q, want echo when no bundles exist", text)
	}
}

func TestSelectBundle_Valid(t *testing.T) {
	f := newFixture(t)
	f.seedBundles(t)
	f.makeUser(t, sender, "en", true, "")

	_, text := f.send(t, sender, "1")
	if text != "Bundle 'Street-Vendor CRM' selected!" {
		t.Errorf("reply = %q", text)
	}

	user, err := f.store.GetUser(context.Background(), sender)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.CurrentBundle.Valid || user.CurrentBundle.String != "street_vendor" {
		t.Errorf("current_bundle = %+v, want street_vendor", user.CurrentBundle)
	}
}

func TestSelectBundle_LocalizedConfirmation(t *testing.T) {
	f := newFixture(t)
	f.seedBundles(t)
	f.makeUser(t, sender, "xh", true, "")

	_, text := f.send(t, sender, "1")
	if text != "Iphakheji 'I-CRM yoMthengisi' ikhethiwe!" {
		t.Errorf("reply = %q", text)
	}
}

func TestSelectBundle_OutOfRange(t *testing.T) {
	f := newFixture(t)
	f.seedBundles(t)
	f.makeUser(t, sender, "en", true, "")

	_, text := f.send(t, sender, "9")
	if text != "Invalid selection. Please choose a valid bundle number." {
		t.Errorf("reply = %q", text)
	}

	user, err := f.store.GetUser(context.Background(), sender)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.CurrentBundle.Valid {
		t.Errorf("current_bundle mutated on invalid selection: %+v", user.CurrentBundle)
	}
}

func TestEcho_Verbatim(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	if _, text := f.send(t, sender, "Hello World"); text != "Echo: Hello World" {
		t.Errorf("reply = %q", text)
	}
	if _, text := f.send(t, sender, "  spaced out  "); text != "Echo: spaced out" {
		t.Errorf("reply = %q, want trimmed echo", text)
	}
}

func TestSetLanguage_SameReplyUsesNewLanguage(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	_, text := f.send(t, sender, "/lang xh")
	want := templates.Default().Resolve(templates.KeyLangConfirmation, "xh")
	if text != want {
		t.Errorf("reply = %q, want Xhosa confirmation", text)
	}

	user, err := f.store.GetUser(context.Background(), sender)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.PreferredLanguage != "xh" {
		t.Errorf("preferred_language = %q, want xh", user.PreferredLanguage)
	}
}

func TestSetLanguage_BypassesGates(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", false, "")

	_, text := f.send(t, sender, "/lang af")
	want := templates.Default().Resolve(templates.KeyLangConfirmation, "af")
	if text != want {
		t.Errorf("reply = %q, want Afrikaans confirmation before consent", text)
	}

	// The gate still applies to the next message, now in Afrikaans.
	_, text = f.send(t, sender, "hello")
	if want := templates.Default().Resolve(templates.KeyPopiaNotice, "af"); text != want {
		t.Errorf("follow-up reply = %q, want Afrikaans consent notice", text)
	}
}

func TestUnsupportedLanguageCode_EchoesThrough(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	if _, text := f.send(t, sender, "/lang zu"); text != "Echo: /lang zu" {
		t.Errorf("reply = %q", text)
	}
}

func TestListBundles_ShowsCurrentBundle(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	_, text := f.send(t, sender, "/bundle")
	if !strings.Contains(text, "Your current bundle is: 'Street-Vendor CRM'") {
		t.Errorf("reply = %q, want current bundle prefix", text)
	}
	if !strings.Contains(text, "To change your bundle, please choose a service bundle") {
		t.Errorf("reply = %q, want lowercased prompt tail", text)
	}
}

func TestListBundles_EmptyCatalog(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", true, "ghost_bundle")

	_, text := f.send(t, sender, "/bundle")
	if text != "Sorry, I couldn't retrieve the available bundles. Please try again later." {
		t.Errorf("reply = %q", text)
	}
}

func TestDeleteFlow_ConfirmWithinWindow(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)
	ctx := context.Background()

	_, text := f.send(t, sender, "/delete")
	if want := templates.Default().Resolve(templates.KeyDeletePrompt, "en"); text != want {
		t.Errorf("reply = %q, want delete prompt", text)
	}

	logs, err := f.store.ListSecurityLogs(ctx, sender)
	if err != nil {
		t.Fatalf("ListSecurityLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != store.EventDeleteRequested {
		t.Fatalf("security logs after request = %+v", logs)
	}

	f.now = f.now.Add(200 * time.Second)

	_, text = f.send(t, sender, "/delete confirm")
	if want := templates.Default().Resolve(templates.KeyDeleteAck, "en"); text != want {
		t.Errorf("reply = %q, want delete acknowledgement", text)
	}

	if _, err := f.store.GetUser(ctx, sender); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("user still present after confirmed delete: %v", err)
	}

	// The completion event is written after the purge so it survives.
	logs, err = f.store.ListSecurityLogs(ctx, sender)
	if err != nil {
		t.Fatalf("ListSecurityLogs after delete: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != store.EventDeleteCompleted {
		t.Fatalf("security logs after completion = %+v", logs)
	}
}

func TestDeleteFlow_ConfirmAfterWindowExpires(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	f.send(t, sender, "/delete")
	f.now = f.now.Add(301 * time.Second)

	_, text := f.send(t, sender, "/delete confirm")
	if !strings.Contains(text, "Your delete confirmation has expired") {
		t.Errorf("reply = %q", text)
	}

	if _, err := f.store.GetUser(context.Background(), sender); err != nil {
		t.Fatalf("user deleted despite expired confirmation: %v", err)
	}

	// The stale marker is cleared: another confirm reports no active request.
	_, text = f.send(t, sender, "/delete confirm")
	if !strings.Contains(text, "You have no active delete request") {
		t.Errorf("reply after cleared marker = %q", text)
	}
}

func TestDeleteConfirm_NoActiveRequest(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	_, text := f.send(t, sender, "/delete confirm")
	if text != "You have no active delete request. Please send '/delete' first if you want to delete your data." {
		t.Errorf("reply = %q", text)
	}
}

func TestDeleteConfirm_NoActiveRequest_Localized(t *testing.T) {
	f := newFixture(t)
	f.seedBundles(t)
	f.makeUser(t, sender, "xh", true, "spaza")

	_, text := f.send(t, sender, "/delete confirm")
	if text != "Awunasicelo socimo esisebenzayo. Nceda thumela '/delete' kuqala ukuba ufuna ukucima idatha yakho." {
		t.Errorf("reply = %q", text)
	}
}

func TestDeleteConfirm_StoreDownFallsBackToImmediateDeletion(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)
	f.pending.getErr = errors.New("connection refused")

	_, text := f.send(t, sender, "/delete confirm")
	if want := templates.Default().Resolve(templates.KeyDeleteAck, "en"); text != want {
		t.Errorf("reply = %q, want delete acknowledgement", text)
	}
	if _, err := f.store.GetUser(context.Background(), sender); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("user not deleted by fallback: %v", err)
	}
}

func TestDeleteRequest_MarkerWriteFailureIsNotRemembered(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)
	f.pending.setErr = errors.New("connection refused")

	_, text := f.send(t, sender, "/delete")
	if want := templates.Default().Resolve(templates.KeyDeletePrompt, "en"); text != want {
		t.Errorf("reply = %q, want delete prompt despite marker failure", text)
	}

	f.pending.setErr = nil
	_, text = f.send(t, sender, "/delete confirm")
	if !strings.Contains(text, "You have no active delete request") {
		t.Errorf("reply = %q", text)
	}
}

func TestAdminProvision(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)
	target := "+27830001111"

	to, text := f.send(t, sender, "/simulate_qr_user "+target)
	if to != sender {
		t.Errorf("reply_to = %q, want the admin sender", to)
	}
	if !strings.Contains(text, "Simulated QR user onboarding for "+target) {
		t.Errorf("reply = %q", text)
	}

	user, err := f.store.GetUser(context.Background(), target)
	if err != nil {
		t.Fatalf("provisioned user missing: %v", err)
	}
	if user.PopiaConsent {
		t.Error("provisioned user must start without consent")
	}
	if user.PreferredLanguage != "en" {
		t.Errorf("provisioned language = %q, want default en", user.PreferredLanguage)
	}

	_, text = f.send(t, sender, "/simulate_qr_user "+target)
	if text != "User "+target+" already exists." {
		t.Errorf("repeat reply = %q", text)
	}
}

func TestAdminProvision_Malformed(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)
	before, err := f.store.UserCount(context.Background())
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}

	_, text := f.send(t, sender, "/simulate_qr_user")
	if text != "Usage: /simulate_qr_user <phone_number>" {
		t.Errorf("reply = %q", text)
	}

	_, text = f.send(t, sender, "/simulate_qr_user not-a-phone")
	if !strings.Contains(text, "Invalid phone number") {
		t.Errorf("reply = %q", text)
	}

	after, err := f.store.UserCount(context.Background())
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if after != before {
		t.Errorf("user count changed from %d to %d on malformed provision", before, after)
	}
}

func TestAdminProvision_BypassesGates(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", false, "")

	_, text := f.send(t, sender, "/simulate_qr_user +27830002222")
	if !strings.Contains(text, "Simulated QR user onboarding for") {
		t.Errorf("reply = %q, want provisioning ack despite missing consent", text)
	}
}

func TestPaymentLink(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	_, text := f.send(t, sender, "SnapScan 75")
	if !strings.Contains(text, "Here's your SnapScan payment link for R75:") {
		t.Errorf("reply = %q", text)
	}
	if !strings.Contains(text, "https://snapscan.app.link/payment?") {
		t.Errorf("reply %q missing SnapScan link", text)
	}

	_, text = f.send(t, sender, "MoMo link 120.50")
	if !strings.Contains(text, "Here's your MoMo payment link for R120.5:") {
		t.Errorf("reply = %q", text)
	}
	if !strings.Contains(text, "https://momo.app.link/payment?") {
		t.Errorf("reply %q missing MoMo link", text)
	}
}

func TestMalformedPayload_DegradesToApology(t *testing.T) {
	f := newFixture(t)

	for _, payload := range []string{
		"This is not JSON",
		`{"text": "no sender here"}`,
		`{"sender_id": 42, "text": "typed wrong"}`,
	} {
		to, text := f.deliver(t, []byte(payload))
		if to != "unknown" {
			t.Errorf("payload %q: reply_to = %q, want unknown", payload, to)
		}
		if text != "Sorry, I couldn't process your message. Please try again." {
			t.Errorf("payload %q: reply = %q", payload, text)
		}
	}
}

func TestEnvelopedPayload(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)

	payload := []byte(`{"message": {"from": "` + sender + `", "body": "Hello World"}}`)
	to, text := f.deliver(t, payload)
	if to != sender {
		t.Errorf("reply_to = %q", to)
	}
	if text != "Echo: Hello World" {
		t.Errorf("reply = %q", text)
	}
}

func TestMessageLogging(t *testing.T) {
	f := newFixture(t)
	f.makeActiveUser(t, sender)
	ctx := context.Background()

	f.send(t, sender, "Hello World")

	entries, err := f.store.ListMessages(ctx, sender)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want inbound + outbound", len(entries))
	}
	if entries[0].Direction != store.DirectionInbound || entries[0].Content != "Hello World" {
		t.Errorf("inbound entry = %+v", entries[0])
	}
	if entries[1].Direction != store.DirectionOutbound || entries[1].Content != "Echo: Hello World" {
		t.Errorf("outbound entry = %+v", entries[1])
	}
	wantKB := float64(len("Hello World")) / 1024.0
	if entries[0].DataSizeKB != wantKB {
		t.Errorf("inbound size = %f, want %f", entries[0].DataSizeKB, wantKB)
	}
}

func TestConsentNotice_LoggedUnderNoticeDirection(t *testing.T) {
	f := newFixture(t)
	f.makeUser(t, sender, "en", false, "")

	f.send(t, sender, "hello")

	entries, err := f.store.ListMessages(context.Background(), sender)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Direction == store.DirectionPopiaNotice {
			found = true
		}
	}
	if !found {
		t.Errorf("no %s entry in %+v", store.DirectionPopiaNotice, entries)
	}
}

func TestBundlePrompt(t *testing.T) {
	bundles := []*store.Bundle{
		{BundleID: "a", NameEN: "Alpha", DescriptionEN: sql.NullString{String: "First one", Valid: true}},
		{BundleID: "b", NameEN: "Beta"},
	}

	reg := templates.NewRegistry(fstest.MapFS{
		"bundle_select_prompt_en.txt": &fstest.MapFile{Data: []byte("Pick one:\n{bundle_list}")},
		"bundle_select_prompt_xh.txt": &fstest.MapFile{Data: []byte("No placeholder here")},
	})

	got := bot.BundlePrompt(reg, bundles, "en")
	want := "Pick one:\n1. Alpha - First one\n2. Beta"
	if got != want {
		t.Errorf("BundlePrompt = %q, want %q", got, want)
	}

	// A template without the placeholder renders unchanged; the list is
	// silently dropped rather than appended.
	if got := bot.BundlePrompt(reg, bundles, "xh"); got != "No placeholder here" {
		t.Errorf("BundlePrompt without placeholder = %q", got)
	}
}
