// Package main provides a CI-friendly WebSocket smoke test for the archive.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack binding for two users
//   - message_send -> message_new delivery
//   - archive_query paging, ordering, and the closing archive_fin
//   - policy_violation for an oversized page request
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "mam/contracts/realtime/v1"
)

const (
	defaultSubprotocol = "arc.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name string
	jid  string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		alice   = flag.String("alice", "alice@localhost/smoke", "sender JID")
		bob     = flag.String("bob", "bob@localhost/smoke", "recipient JID")
		token   = flag.String("token", os.Getenv("ARC_HELLO_TOKEN"), "hello token, if the server requires one")
		count   = flag.Int("n", 3, "messages to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *count < 1 || *count > 50 {
		fatalf("-n must be in [1,50]")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *alice, *token, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", *wsURL, *origin, *bob, *token, *timeout)
	defer closeWS(b.conn)

	run := strconv.FormatInt(time.Now().UnixNano(), 36)
	start := time.Now().UTC().Add(-time.Second)

	bodies := make([]string, 0, *count)
	for i := range *count {
		body := fmt.Sprintf("smoke %s #%d", run, i)
		bodies = append(bodies, body)
		mustWrite(root, a.conn, v1.TypeMessageSend, v1.MessageSendPayload{
			Message: v1.Message{To: b.jid, Type: v1.MessageChat, Body: body},
		}, *timeout)
		env := b.mustReadUntilType(root, v1.TypeMessageNew, *timeout)
		var p v1.MessageNewPayload
		mustUnmarshal(env.Payload, &p)
		if p.Message.Body != body {
			fatalf("message_new body=%q want %q", p.Message.Body, body)
		}
	}

	// Intake is asynchronous; give the archive a moment before reading it back.
	time.Sleep(250 * time.Millisecond)

	got, fin := mustQuery(root, a, "smoke-"+run, []v1.Element{
		{Name: "with", Text: bareJID(b.jid)},
		{Name: "start", Text: start.Format(time.RFC3339)},
		{Name: "set", NS: v1.NSPaging, Children: []v1.Element{{Name: "max", Text: strconv.Itoa(*count)}}},
	}, *timeout)
	if fin.Count != len(got) {
		fatalf("archive_fin count=%d but received %d results", fin.Count, len(got))
	}
	if strings.Join(got, "\n") != strings.Join(bodies, "\n") {
		fatalf("archive results mismatch:\n got=%q\nwant=%q", got, bodies)
	}

	mustWrite(root, a.conn, v1.TypeArchiveQuery, v1.ArchiveQueryPayload{
		QueryID: "oversized-" + run,
		Elements: []v1.Element{
			{Name: "set", NS: v1.NSPaging, Children: []v1.Element{{Name: "max", Text: "51"}}},
		},
	}, *timeout)
	env := a.mustReadUntilType(root, v1.TypeError, *timeout)
	var ep v1.ErrorPayload
	mustUnmarshal(env.Payload, &ep)
	if ep.Code != v1.CodePolicyViolation {
		fatalf("oversized page: code=%q want %q", ep.Code, v1.CodePolicyViolation)
	}

	if *verbose {
		fmt.Printf("archived bodies: %q\n", got)
	}
	fmt.Printf("OK: A=%s B=%s archived=%d\n", a.jid, b.jid, len(got))
}

func mustQuery(parent context.Context, c *smokeClient, queryID string, elems []v1.Element, stepTimeout time.Duration) ([]string, v1.ArchiveFinPayload) {
	mustWrite(parent, c.conn, v1.TypeArchiveQuery, v1.ArchiveQueryPayload{QueryID: queryID, Elements: elems}, stepTimeout)

	var bodies []string
	for {
		env := c.mustReadUntilType(parent, "", stepTimeout)
		switch env.Type {
		case v1.TypeArchiveResult:
			var p v1.ArchiveResultPayload
			mustUnmarshal(env.Payload, &p)
			if p.QueryID != queryID {
				fatalf("archive_result query_id=%q want %q", p.QueryID, queryID)
			}
			bodies = append(bodies, p.Forwarded.Message.Body)
		case v1.TypeArchiveFin:
			var fin v1.ArchiveFinPayload
			mustUnmarshal(env.Payload, &fin)
			return bodies, fin
		case v1.TypeError:
			var ep v1.ErrorPayload
			mustUnmarshal(env.Payload, &ep)
			fatalf("archive query failed: code=%q msg=%q", ep.Code, ep.Message)
		}
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, jid, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if sp := conn.Subprotocol(); sp != defaultSubprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, sp, defaultSubprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, v1.TypeHello, v1.HelloPayload{JID: jid, Token: token}, stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	mustUnmarshal(ack.Payload, &p)
	if strings.TrimSpace(p.JID) == "" {
		fatalf("hello_ack missing jid (%s)", name)
	}
	c.jid = p.JID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustReadUntilType returns the next envelope of wantType, or the next
// envelope of any type when wantType is empty. message_new is skipped.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if wantType == "" || env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == v1.TypeMessageNew {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustUnmarshal(raw json.RawMessage, v any) {
	if err := json.Unmarshal(raw, v); err != nil {
		fatalf("unmarshal payload: %v", err)
	}
}

func bareJID(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
