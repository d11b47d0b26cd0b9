package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMessenger struct {
	mu     sync.Mutex
	sent   []string
	failAt int
}

func (r *recordingMessenger) Send(ctx context.Context, id string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		return errors.New("transport down")
	}
	r.sent = append(r.sent, text)
	return nil
}

func TestChunks(t *testing.T) {
	assert.Nil(t, Chunks("", 4000))
	assert.Equal(t, []string{"short"}, Chunks("short", 4000))

	text := strings.Repeat("a", 9500)
	chunks := Chunks(text, 4000)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4000)
	assert.Len(t, chunks[1], 4000)
	assert.Len(t, chunks[2], 1500)
	assert.Equal(t, text, strings.Join(chunks, ""))

	assert.Len(t, Chunks(strings.Repeat("a", 8000), 4000), 2)
}

func TestChunksCutAtLineBreaks(t *testing.T) {
	line := "   • Section *5* (ID: 12345) - Dr\\_A\n" // 37 runes
	text := strings.Repeat(line, 300)

	chunks := Chunks(text, 4000)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 4000)
		assert.True(t, strings.HasSuffix(chunk, "\n"))
		assert.Zero(t, len([]rune(chunk))%len([]rune(line)), "chunk splits a line")
	}
	assert.Equal(t, text, strings.Join(chunks, ""))

	// a single line longer than the limit is still cut hard
	long := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 5000)
	chunks = Chunks(long, 4000)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("a", 50)+"\n", chunks[0])
	assert.Len(t, chunks[1], 4000)
	assert.Equal(t, long, strings.Join(chunks, ""))
}

func TestChunksCountRunes(t *testing.T) {
	text := strings.Repeat("شعبة", 1500) // 6000 runes, 12000 bytes
	chunks := Chunks(text, 4000)
	require.Len(t, chunks, 2)
	assert.Equal(t, 4000, len([]rune(chunks[0])))
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSendChunked(t *testing.T) {
	messenger := &recordingMessenger{}
	text := strings.Repeat("x", 9500)

	require.NoError(t, SendChunked(context.Background(), messenger, "42", text))
	require.Len(t, messenger.sent, 3)
	assert.Equal(t, text, strings.Join(messenger.sent, ""))
}

func TestSendChunkedStopsAtFirstFailure(t *testing.T) {
	messenger := &recordingMessenger{failAt: 2}

	err := SendChunked(context.Background(), messenger, "42", strings.Repeat("x", 9500))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2 of 3")
	assert.Len(t, messenger.sent, 1)
}

var sampleSections = []sectionsense.Section{
	{CourseID: "C2", CourseCode: "201 MATH", CourseName: "Calculus I", SectionNumber: "3", SectionID: "31", Instructor: "Dr M"},
	{CourseID: "C1", CourseCode: "101 CSC", CourseName: "Intro_Programming", SectionNumber: "2", SectionID: "12", Instructor: sectionsense.UnknownInstructor},
	{CourseID: "C1", CourseCode: "101 CSC", CourseName: "Intro_Programming", SectionNumber: "1", SectionID: "11", Instructor: "Dr A"},
}

func TestFormatAddedGroupsByCourse(t *testing.T) {
	text := FormatAdded(sampleSections)

	expected := "🆕 *New sections available!*\n\n" +
		"📚 *101 CSC* - Intro\\_Programming\n" +
		"   • Section 1 (ID: 11) - Dr A\n" +
		"   • Section 2 (ID: 12) - unknown\n" +
		"\n" +
		"📚 *201 MATH* - Calculus I\n" +
		"   • Section 3 (ID: 31) - Dr M\n" +
		"\n"
	assert.Equal(t, expected, text)
}

func TestFormatRemoved(t *testing.T) {
	text := FormatRemoved(sampleSections[:1])
	assert.True(t, strings.HasPrefix(text, "❌ *Sections no longer available (full):*"))
	assert.Contains(t, text, "Section 3 (ID: 31) - Dr M")
}

func TestFormatSections(t *testing.T) {
	snapshot := sectionsense.Snapshot{}
	for _, section := range sampleSections {
		snapshot[section.Key()] = section
	}

	text := FormatSections(snapshot)
	assert.True(t, strings.HasPrefix(text, "📊 *Available sections (3):*"))
	assert.Less(t, strings.Index(text, "101 CSC"), strings.Index(text, "201 MATH"))

	assert.Contains(t, FormatSections(nil), "(0)")
}

func TestFormatStats(t *testing.T) {
	account := sectionsense.Account{
		ID:              "42",
		Username:        "441234567",
		Password:        "hunter2",
		Sections:        sectionsense.Snapshot{"C1_11": sampleSections[2]},
		IntervalSeconds: 1800,
		TotalChecks:     12,
		TotalGained:     4,
		TotalLost:       3,
		LastCheck:       time.Date(2024, 9, 1, 10, 30, 0, 0, time.UTC),
	}

	text := FormatStats(account)
	assert.Contains(t, text, "`441234567`")
	assert.Contains(t, text, "Available sections: 1")
	assert.Contains(t, text, "Checking every: 30 minutes")
	assert.Contains(t, text, "Last check: 2024-09-01 10:30")
	assert.Contains(t, text, "Total checks: 12")
	assert.Contains(t, text, "New sections found: 4")
	assert.Contains(t, text, "Sections filled: 3")
	assert.NotContains(t, text, "hunter2")

	account.LastCheck = time.Time{}
	assert.Contains(t, FormatStats(account), "Last check: never")
}

func TestFormatFailure(t *testing.T) {
	testCases := []struct {
		err     error
		reason  string
		reLogin bool
	}{
		{&sectionsense.AuthError{Reason: "rejected"}, "Login failed - check credentials", true},
		{&sectionsense.TimeoutError{Step: "login"}, "Connection timeout", false},
		{&sectionsense.NetworkError{Step: "login", Err: errors.New("reset")}, "Could not reach the portal", false},
		{fmt.Errorf("wrapped: %w", &sectionsense.ProtocolError{Step: "add courses", Reason: "no redirect"}), "Unexpected portal response (add courses)", false},
		{errors.New("boom"), "Unexpected error", false},
	}

	for _, test := range testCases {
		text := FormatFailure(test.err)
		assert.Contains(t, text, test.reason)
		assert.Equal(t, test.reLogin, strings.Contains(text, "Register again"))
	}
}

func TestDispatcher(t *testing.T) {
	messenger := &recordingMessenger{}
	dispatcher := NewDispatcher(messenger)
	ctx := context.Background()

	require.NoError(t, dispatcher.Handle(ctx, sectionsense.Event{Kind: sectionsense.EventSectionsAdded, AccountID: "42", Sections: sampleSections}))
	require.NoError(t, dispatcher.Handle(ctx, sectionsense.Event{Kind: sectionsense.EventSectionsRemoved, AccountID: "42", Sections: sampleSections[:1]}))
	require.NoError(t, dispatcher.Handle(ctx, sectionsense.Event{Kind: sectionsense.EventCheckFailed, AccountID: "42", Err: &sectionsense.TimeoutError{Step: "login"}}))

	require.Len(t, messenger.sent, 3)
	assert.Contains(t, messenger.sent[0], "New sections available")
	assert.Contains(t, messenger.sent[1], "no longer available")
	assert.Contains(t, messenger.sent[2], "Connection timeout")

	assert.Error(t, dispatcher.Handle(ctx, sectionsense.Event{Kind: sectionsense.EventKind(99), AccountID: "42"}))
}

func TestDispatcherReportsTransportFailure(t *testing.T) {
	dispatcher := NewDispatcher(&recordingMessenger{failAt: 1})

	err := dispatcher.Handle(context.Background(), sectionsense.Event{Kind: sectionsense.EventSectionsAdded, AccountID: "42", Sections: sampleSections})
	assert.Error(t, err)
}

// redirectTransport sends bot API calls to a local server
type redirectTransport struct {
	target *url.URL
}

func (r redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestTelegramSend(t *testing.T) {
	var mu sync.Mutex
	var sent []url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Section Sense","username":"section_sense_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			mu.Lock()
			sent = append(sent, r.PostForm)
			mu.Unlock()
			if r.PostForm.Get("chat_id") == "13" {
				fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	telegram, err := NewTelegramWithClient(config.Telegram{Enabled: true, Token: "123:abc"}, &http.Client{Transport: redirectTransport{target}})
	require.NoError(t, err)

	require.NoError(t, telegram.Send(context.Background(), "42", "*hello*"))
	assert.Error(t, telegram.Send(context.Background(), "13", "hello"))
	assert.Error(t, telegram.Send(context.Background(), "not-a-chat", "hello"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)
	assert.Equal(t, "42", sent[0].Get("chat_id"))
	assert.Equal(t, "*hello*", sent[0].Get("text"))
	assert.Equal(t, "Markdown", sent[0].Get("parse_mode"))
}

// stalledBotAPI answers getMe and never answers sendMessage until the test ends
func stalledBotAPI(t *testing.T) *url.URL {
	t.Helper()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Section Sense","username":"section_sense_bot"}}`)
			return
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	target, err := url.Parse(server.URL)
	require.NoError(t, err)
	return target
}

func TestTelegramSendAbandonsStalledRequestOnDeadline(t *testing.T) {
	target := stalledBotAPI(t)

	telegram, err := NewTelegramWithClient(config.Telegram{Enabled: true, Token: "123:abc", Timeout: time.Minute}, &http.Client{Transport: redirectTransport{target}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = telegram.Send(ctx, "42", "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTelegramSendTimesOutWithoutDeadline(t *testing.T) {
	target := stalledBotAPI(t)

	telegram, err := NewTelegramWithClient(config.Telegram{Enabled: true, Token: "123:abc", Timeout: 300 * time.Millisecond}, &http.Client{Transport: redirectTransport{target}})
	require.NoError(t, err)

	start := time.Now()
	err = telegram.Send(context.Background(), "42", "hello")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestTelegramSendHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Telegram{}.Send(ctx, "42", "hello")
	assert.ErrorIs(t, err, context.Canceled)
}
