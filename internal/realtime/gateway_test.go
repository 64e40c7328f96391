package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/internal/service"
)

// enrollment is a mutable stand-in for the school schema.
type enrollment struct {
	mu       sync.Mutex
	teachers map[string]string
	students map[string]map[string]bool
}

func newEnrollment() *enrollment {
	return &enrollment{
		teachers: map[string]string{"42": "5"},
		students: map[string]map[string]bool{"42": {"9": true, "10": true}},
	}
}

func (e *enrollment) TeacherOwnsSubject(ctx context.Context, teacherID, subjectID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.teachers[subjectID] == teacherID, nil
}

func (e *enrollment) StudentEnrolledInSubject(ctx context.Context, studentID, subjectID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.students[subjectID][studentID], nil
}

func (e *enrollment) unenroll(subjectID, studentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.students[subjectID], studentID)
}

// chatLog assigns ids and timestamps the way the database does.
type chatLog struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

func (l *chatLog) Append(ctx context.Context, msg *models.ChatMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg.ID = int64(len(l.messages) + 1)
	msg.CreatedAt = time.Now().UTC()
	l.messages = append(l.messages, *msg)
	return nil
}

func (l *chatLog) History(ctx context.Context, subjectID string) ([]models.ChatMessage, error) {
	return l.HistoryAfter(ctx, subjectID, 0)
}

func (l *chatLog) HistoryAfter(ctx context.Context, subjectID string, afterID int64) ([]models.ChatMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ChatMessage, 0)
	for _, m := range l.messages {
		if m.SubjectID == subjectID && m.ID > afterID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l *chatLog) has(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

type chatFixture struct {
	gateway    *Gateway
	registry   *Registry
	enrollment *enrollment
	log        *chatLog
	messages   *service.MessageService
	url        string
}

func newChatFixture(t *testing.T) *chatFixture {
	return newChatFixtureWith(t, nil, Options{PongWait: 5 * time.Second, OperationTimeout: 2 * time.Second})
}

func newChatFixtureWith(t *testing.T, presence presenceStore, opts Options) *chatFixture {
	t.Helper()
	f := &chatFixture{registry: NewRegistry(), enrollment: newEnrollment(), log: &chatLog{}}
	f.messages = service.NewMessageService(f.log, 0, nil, nil)
	f.gateway = NewGateway(GatewayDeps{
		Registry: f.registry,
		Access:   service.NewAccessResolver(f.enrollment, nil, nil),
		Messages: f.messages,
		Presence: presence,
	}, opts)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		identity := models.Identity{UserID: q.Get("user"), Name: "user " + q.Get("user"), Role: models.ChatRole(q.Get("role"))}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.gateway.Serve(conn, identity)
	}))
	t.Cleanup(func() {
		f.gateway.Shutdown()
		srv.Close()
	})
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (f *chatFixture) dial(t *testing.T, userID string, role models.ChatRole) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/?user=%s&role=%s", f.url, userID, role), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{conn: conn}
}

func (c *testConn) send(t *testing.T, event string, data interface{}) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	require.NoError(t, c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

func (c *testConn) next(t *testing.T) wireFrame {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f wireFrame
	require.NoError(t, c.conn.ReadJSON(&f))
	return f
}

func (c *testConn) expect(t *testing.T, event string) wireFrame {
	f := c.next(t)
	require.Equal(t, event, f.Event, "payload: %s", string(f.Data))
	return f
}

func (c *testConn) expectError(t *testing.T, code string) dto.ErrorPayload {
	f := c.expect(t, dto.EventError)
	var p dto.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, code, p.Code)
	return p
}

func (c *testConn) expectMessage(t *testing.T) dto.NewMessage {
	f := c.expect(t, dto.EventNewMessage)
	var m dto.NewMessage
	require.NoError(t, json.Unmarshal(f.Data, &m))
	return m
}

// quiet proves no frame is pending by round-tripping a ping.
func (c *testConn) quiet(t *testing.T) {
	c.send(t, dto.EventPing, nil)
	c.expect(t, dto.EventPong)
}

func (c *testConn) join(t *testing.T, subjectID string) {
	c.send(t, dto.EventJoinSubject, map[string]string{"subjectId": subjectID})
	c.expect(t, dto.EventJoinedSubject)
}

func TestScenarioStudentMessageReachesRoom(t *testing.T) {
	f := newChatFixture(t)
	teacher := f.dial(t, "5", models.ChatRoleTeacher)
	student := f.dial(t, "9", models.ChatRoleStudent)
	teacher.join(t, "42")
	student.join(t, "42")

	student.send(t, dto.EventSendMessage, map[string]interface{}{"subjectId": 42, "message": "Hello", "userId": 9, "userType": "student"})

	fromTeacher := teacher.expectMessage(t)
	fromStudent := student.expectMessage(t)
	assert.Equal(t, fromTeacher, fromStudent)
	assert.Equal(t, "Hello", fromStudent.Message)
	assert.Equal(t, "9", fromStudent.UserID)
	assert.Equal(t, "user 9", fromStudent.UserName)
	assert.Equal(t, models.ChatRoleStudent, fromStudent.UserType)
	assert.NotZero(t, fromStudent.ChatID)
	assert.False(t, fromStudent.Time.IsZero())

	history, err := f.log.History(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ChatRoleStudent, history[0].AuthorRole)
	assert.Equal(t, "9", history[0].AuthorID)
	assert.Equal(t, "Hello", history[0].Body)
	assert.Equal(t, fromStudent.ChatID, history[0].ID)
}

func TestScenarioOutsiderIsDenied(t *testing.T) {
	f := newChatFixture(t)
	member := f.dial(t, "9", models.ChatRoleStudent)
	member.join(t, "42")
	outsider := f.dial(t, "11", models.ChatRoleStudent)

	outsider.send(t, dto.EventJoinSubject, map[string]interface{}{"subjectId": "42", "userId": "11", "userType": "student"})
	outsider.expectError(t, "ACCESS_DENIED")
	assert.Equal(t, []string{"9"}, f.registry.OnlineUsers("42"))

	outsider.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": "let me in"})
	outsider.expectError(t, "ACCESS_DENIED")

	member.quiet(t)
	history, _ := f.log.History(context.Background(), "42")
	assert.Empty(t, history)
}

func TestScenarioConcurrentSendersAreBothStored(t *testing.T) {
	f := newChatFixture(t)
	a := f.dial(t, "9", models.ChatRoleStudent)
	b := f.dial(t, "10", models.ChatRoleStudent)
	a.join(t, "42")
	b.join(t, "42")

	var wg sync.WaitGroup
	for _, pair := range []struct {
		conn *testConn
		body string
	}{{a, "A"}, {b, "B"}} {
		wg.Add(1)
		go func(c *testConn, body string) {
			defer wg.Done()
			c.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": body})
		}(pair.conn, pair.body)
	}
	wg.Wait()

	first, second := a.expectMessage(t), a.expectMessage(t)
	history, err := f.log.History(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{history[0].Body, history[1].Body})
	assert.Equal(t, []int64{history[0].ID, history[1].ID}, []int64{first.ChatID, second.ChatID})
}

func TestBroadcastFollowsCommitOrder(t *testing.T) {
	f := newChatFixture(t)
	const perSender = 15
	senders := []*testConn{
		f.dial(t, "5", models.ChatRoleTeacher),
		f.dial(t, "9", models.ChatRoleStudent),
		f.dial(t, "10", models.ChatRoleStudent),
	}
	for _, s := range senders {
		s.join(t, "42")
	}
	total := perSender * len(senders)

	received := make([][]int64, len(senders))
	var readers sync.WaitGroup
	for i, s := range senders {
		readers.Add(1)
		go func(i int, c *testConn) {
			defer readers.Done()
			for len(received[i]) < total {
				_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				var fr wireFrame
				if err := c.conn.ReadJSON(&fr); err != nil {
					return
				}
				if fr.Event != dto.EventNewMessage {
					continue
				}
				var m dto.NewMessage
				if err := json.Unmarshal(fr.Data, &m); err != nil {
					return
				}
				// Broadcast happens only after the message is stored.
				if !f.log.has(m.ChatID) {
					return
				}
				received[i] = append(received[i], m.ChatID)
			}
		}(i, s)
	}

	var writers sync.WaitGroup
	for i, s := range senders {
		writers.Add(1)
		go func(i int, c *testConn) {
			defer writers.Done()
			for j := 0; j < perSender; j++ {
				c.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": fmt.Sprintf("%d-%d", i, j)})
			}
		}(i, s)
	}
	writers.Wait()
	readers.Wait()

	history, err := f.log.History(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, history, total)
	order := make([]int64, 0, total)
	for _, m := range history {
		order = append(order, m.ID)
	}
	for i := range senders {
		assert.Equal(t, order, received[i], "member %d", i)
	}
}

func TestSendIsReauthorized(t *testing.T) {
	f := newChatFixture(t)
	teacher := f.dial(t, "5", models.ChatRoleTeacher)
	student := f.dial(t, "9", models.ChatRoleStudent)
	teacher.join(t, "42")
	student.join(t, "42")

	f.enrollment.unenroll("42", "9")
	student.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": "still here?"})
	student.expectError(t, "ACCESS_DENIED")

	teacher.quiet(t)
	history, _ := f.log.History(context.Background(), "42")
	assert.Empty(t, history)

	// The revoked connection no longer receives the room's traffic.
	assert.Equal(t, []string{"5"}, f.registry.OnlineUsers("42"))
	teacher.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": "class dismissed"})
	assert.Equal(t, "class dismissed", teacher.expectMessage(t).Message)
	student.quiet(t)
}

func TestEmptyMessageIsRejected(t *testing.T) {
	f := newChatFixture(t)
	teacher := f.dial(t, "5", models.ChatRoleTeacher)
	student := f.dial(t, "9", models.ChatRoleStudent)
	teacher.join(t, "42")
	student.join(t, "42")

	for _, body := range []string{"", "   "} {
		student.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": body})
		student.expectError(t, "VALIDATION_ERROR")
	}

	teacher.quiet(t)
	history, _ := f.log.History(context.Background(), "42")
	assert.Empty(t, history)
}

func TestProtocolErrors(t *testing.T) {
	f := newChatFixture(t)
	c := f.dial(t, "9", models.ChatRoleStudent)

	c.wmu.Lock()
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	c.wmu.Unlock()
	c.expectError(t, "BAD_REQUEST")

	c.send(t, "shout", map[string]string{"subjectId": "42"})
	p := c.expectError(t, "BAD_REQUEST")
	assert.Equal(t, "shout", p.Event)

	c.send(t, dto.EventJoinSubject, map[string]string{})
	c.expectError(t, "BAD_REQUEST")

	c.send(t, dto.EventJoinSubject, map[string]interface{}{"subjectId": "42", "userId": "10"})
	c.expectError(t, "ACCESS_DENIED")

	c.send(t, dto.EventJoinSubject, map[string]interface{}{"subjectId": "42", "userType": "teacher"})
	c.expectError(t, "ACCESS_DENIED")

	c.quiet(t)
}

func TestLeaveAndRejoin(t *testing.T) {
	f := newChatFixture(t)
	c := f.dial(t, "5", models.ChatRoleTeacher)
	c.join(t, "42")

	c.send(t, dto.EventLeaveSubject, map[string]string{"subjectId": "42"})
	c.expect(t, dto.EventLeftSubject)
	assert.Empty(t, f.registry.MembersOf("42"))

	c.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": "anyone?"})
	c.expectError(t, "NOT_IN_ROOM")

	c.join(t, "42")
	c.send(t, dto.EventSendMessage, map[string]string{"subjectId": "42", "message": "back"})
	assert.Equal(t, "back", c.expectMessage(t).Message)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	f := newChatFixture(t)
	c := f.dial(t, "9", models.ChatRoleStudent)
	c.join(t, "42")
	require.Len(t, f.registry.MembersOf("42"), 1)

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, func() bool {
		return len(f.registry.MembersOf("42")) == 0 && f.gateway.Connections() == 0
	}, 3*time.Second, 20*time.Millisecond)

	online, err := f.gateway.Online(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestShutdownClosesConnections(t *testing.T) {
	f := newChatFixture(t)
	c := f.dial(t, "9", models.ChatRoleStudent)
	c.join(t, "42")

	f.gateway.Shutdown()

	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

// presenceLog records presence calls per connection.
type presenceLog struct {
	mu      sync.Mutex
	live    map[string]map[string]string
	adds    int
	touches int
}

func newPresenceLog() *presenceLog {
	return &presenceLog{live: make(map[string]map[string]string)}
}

func (p *presenceLog) Enabled() bool { return true }

func (p *presenceLog) Add(ctx context.Context, subjectID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adds++
	if p.live[subjectID] == nil {
		p.live[subjectID] = make(map[string]string)
	}
	p.live[subjectID][connID] = userID
	return nil
}

func (p *presenceLog) Remove(ctx context.Context, subjectID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live[subjectID], connID)
	return nil
}

func (p *presenceLog) Touch(ctx context.Context, subjectID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[subjectID][connID]; ok {
		p.touches++
	}
	return nil
}

func (p *presenceLog) Online(ctx context.Context, subjectID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool)
	users := make([]string, 0)
	for _, u := range p.live[subjectID] {
		if !seen[u] {
			seen[u] = true
			users = append(users, u)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (p *presenceLog) counts() (adds, touches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adds, p.touches
}

func TestRepeatedJoinIsIdempotent(t *testing.T) {
	presence := newPresenceLog()
	f := newChatFixtureWith(t, presence, Options{PongWait: 5 * time.Second, OperationTimeout: 2 * time.Second})
	c := f.dial(t, "9", models.ChatRoleStudent)

	c.join(t, "42")
	c.join(t, "42")
	adds, _ := presence.counts()
	assert.Equal(t, 1, adds)
	assert.Len(t, f.registry.MembersOf("42"), 1)

	online, err := f.gateway.Online(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"9"}, online)

	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool { return f.gateway.Connections() == 0 }, 3*time.Second, 20*time.Millisecond)

	online, err = f.gateway.Online(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestKeepaliveRefreshesPresence(t *testing.T) {
	presence := newPresenceLog()
	f := newChatFixtureWith(t, presence, Options{
		PongWait:         2 * time.Second,
		PingInterval:     30 * time.Millisecond,
		OperationTimeout: 2 * time.Second,
	})
	c := f.dial(t, "9", models.ChatRoleStudent)
	c.join(t, "42")

	// Reading lets the client answer server pings with pongs.
	_ = c.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)

	_, touches := presence.counts()
	assert.Positive(t, touches)
}
