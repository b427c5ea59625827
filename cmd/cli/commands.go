package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/pflag"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/convert"
	"github.com/and161185/cipher-relay/internal/crypto/e2e"
	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

// maxReadPages bounds how much history a single read fetches.
const maxReadPages = 50

type app struct {
	api   relayAPI
	out   io.Writer
	in    io.Reader
	store store
	sess  *session
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"register":     cmdRegister,
	"login":        cmdLogin,
	"chats":        cmdChats,
	"dm":           cmdDM,
	"send":         cmdSend,
	"read":         cmdRead,
	"group-create": cmdGroupCreate,
	"groups":       cmdGroups,
	"join":         cmdJoin,
	"pending":      cmdPending,
	"approve":      cmdApprove,
	"decline":      cmdDecline,
	"state":        cmdState,
	"exit":         cmdExit,
	"unread":       cmdUnread,
	"inbox":        cmdInbox,
	"mark-read":    cmdMarkRead,
	"delete-all":   cmdDeleteAll,
	"presence":     cmdPresence,
}

func (a *app) run(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	return cmd(ctx, a, args)
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *app) stdin() io.Reader {
	if a.in != nil {
		return a.in
	}
	return os.Stdin
}

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func passwordFlag(fs *pflag.FlagSet) *string {
	return fs.StringP("password", "p", "", "password (default $RELAY_PASSWORD)")
}

func password(v string) ([]byte, error) {
	if v == "" {
		v = os.Getenv("RELAY_PASSWORD")
	}
	if v == "" {
		return nil, errors.New("need -p or RELAY_PASSWORD")
	}
	return []byte(v), nil
}

func (a *app) me() (uuid.UUID, error) {
	if a.sess == nil {
		return uuid.Nil, errors.New("not logged in")
	}
	return a.sess.UserID, nil
}

// unlock opens the stored identity with the password.
func (a *app) unlock(pw string) (*e2e.Vault, error) {
	if a.sess == nil {
		return nil, errors.New("not logged in")
	}
	p, err := password(pw)
	if err != nil {
		return nil, err
	}
	v, err := e2e.UnlockKeys(p, a.sess.Keys)
	if err != nil {
		return nil, fmt.Errorf("unlock identity: %w", err)
	}
	return v, nil
}

func (a *app) publicKey(ctx context.Context, id uuid.UUID) (*[e2e.KeySize]byte, error) {
	resp, err := a.api.PublicKey(ctx, &relayv1.PublicKeyRequest{UserID: id.String()})
	if err != nil {
		return nil, fmt.Errorf("public key of %s: %w", id, err)
	}
	return e2e.ParseKey(resp.PublicKey)
}

func parseIDList(v string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("bad id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}

func requireFlag(name, v string) error {
	if v == "" {
		return fmt.Errorf("need --%s", name)
	}
	return nil
}

// ---- identity ----

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags("register")
	user := fs.StringP("user", "u", "", "username")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := password(*pw)
	if err != nil || *user == "" {
		return errors.New("need -u and -p")
	}
	v, keys, err := e2e.NewIdentity(p)
	if err != nil {
		return err
	}
	v.Close()

	resp, err := a.api.Register(ctx, &relayv1.RegisterRequest{
		Username:          *user,
		Password:          string(p),
		PublicKey:         keys.PublicKey,
		WrappedPrivateKey: keys.WrappedPrivateKey,
		Salt:              keys.Salt,
		IV:                keys.IV,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, resp.UserID)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login")
	user := fs.StringP("user", "u", "", "username")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := password(*pw)
	if err != nil || *user == "" {
		return errors.New("need -u and -p")
	}
	resp, err := a.api.Login(ctx, &relayv1.LoginRequest{Username: *user, Password: string(p)})
	if err != nil {
		return err
	}
	id, err := uuid.FromString(resp.UserID)
	if err != nil {
		return fmt.Errorf("bad user id from server: %w", err)
	}
	keys := model.IdentityKeys{PublicKey: resp.PublicKey, WrappedPrivateKey: resp.WrappedPrivateKey, Salt: resp.Salt, IV: resp.IV}

	// the wrapped key must open with this password before it is trusted
	v, err := e2e.UnlockKeys(p, keys)
	if err != nil {
		return fmt.Errorf("unlock identity: %w", err)
	}
	v.Close()

	sess := session{AccessToken: resp.AccessToken, ExpiresAt: resp.ExpiresAt, UserID: id, Username: *user, Keys: keys}
	if err := a.store.save(sess); err != nil {
		return err
	}
	a.sess = &sess
	fmt.Fprintln(a.out, "ok")
	return nil
}

// ---- conversations ----

func cmdChats(ctx context.Context, a *app, args []string) error {
	resp, err := a.api.ListChats(ctx, &relayv1.Empty{})
	if err != nil {
		return err
	}
	type row struct {
		ID      string   `json:"id"`
		Name    string   `json:"name,omitempty"`
		Group   bool     `json:"group"`
		Members []string `json:"members"`
		Unread  int64    `json:"unread"`
	}
	rows := []row{}
	for _, c := range resp.Conversations {
		rows = append(rows, row{ID: c.ID, Name: c.Name, Group: c.IsGroup, Members: c.Members, Unread: c.UnreadCount})
	}
	a.printJSON(rows)
	return nil
}

func cmdGroups(ctx context.Context, a *app, _ []string) error {
	resp, err := a.api.Groups(ctx, &relayv1.Empty{})
	if err != nil {
		return err
	}
	a.printJSON(resp.Groups)
	return nil
}

func cmdGroupCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("group-create")
	name := fs.String("name", "", "group name")
	members := fs.String("members", "", "comma separated member ids")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("name", *name); err != nil {
		return err
	}
	ids, err := parseIDList(*members)
	if err != nil {
		return err
	}
	v, err := a.unlock(*pw)
	if err != nil {
		return err
	}
	defer v.Close()
	me, _ := a.me()

	gk, err := e2e.NewGroupKey()
	if err != nil {
		return err
	}
	recipients := []e2e.Recipient{{ID: me, PublicKey: v.PublicKey()}}
	seen := map[uuid.UUID]bool{me: true}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		pub, err := a.publicKey(ctx, id)
		if err != nil {
			return err
		}
		recipients = append(recipients, e2e.Recipient{ID: id, PublicKey: pub})
	}
	entries, err := v.WrapGroupKey(gk, recipients)
	if err != nil {
		return err
	}
	keys := make([]relayv1.WrappedKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, relayv1.WrappedKey{MemberID: e.MemberID.String(), Key: convert.ToEnvelope(e.Key)})
	}

	resp, err := a.api.CreateGroup(ctx, &relayv1.CreateGroupRequest{Name: *name, Keys: keys})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, resp.Conversation.ID)
	return nil
}

func chatFlag(fs *pflag.FlagSet) *string { return fs.String("chat", "", "conversation id") }

func cmdJoin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("join")
	chat := chatFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("chat", *chat); err != nil {
		return err
	}
	resp, err := a.api.RequestJoin(ctx, &relayv1.ChatRequest{ChatID: *chat})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, resp.State)
	return nil
}

func cmdPending(ctx context.Context, a *app, _ []string) error {
	resp, err := a.api.AdminPending(ctx, &relayv1.Empty{})
	if err != nil {
		return err
	}
	type row struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Pending []string `json:"pending"`
	}
	rows := []row{}
	for _, c := range resp.Conversations {
		rows = append(rows, row{ID: c.ID, Name: c.Name, Pending: c.Pending})
	}
	a.printJSON(rows)
	return nil
}

// cmdApprove opens the admin's own key entry and re-wraps the group key for the new member.
func cmdApprove(ctx context.Context, a *app, args []string) error {
	fs := newFlags("approve")
	chat := chatFlag(fs)
	user := fs.String("user", "", "user to admit")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("chat", *chat); err != nil {
		return err
	}
	userID, err := uuid.FromString(*user)
	if err != nil {
		return errors.New("need --user <id>")
	}
	c, err := a.chat(ctx, *chat)
	if err != nil {
		return err
	}
	me, _ := a.me()
	own, ok := c.KeyFor(me)
	if !ok {
		return fmt.Errorf("%w: no key entry for me", errs.ErrMalformedKey)
	}
	pub, err := a.publicKey(ctx, userID)
	if err != nil {
		return err
	}
	v, err := a.unlock(*pw)
	if err != nil {
		return err
	}
	defer v.Close()
	entry, err := v.ReWrapFor(own, userID, pub)
	if err != nil {
		return err
	}
	if _, err := a.api.Approve(ctx, &relayv1.ApproveRequest{ChatID: *chat, UserID: userID.String(), Key: convert.ToEnvelope(entry.Key)}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func cmdDecline(ctx context.Context, a *app, args []string) error {
	fs := newFlags("decline")
	chat := chatFlag(fs)
	user := fs.String("user", "", "user to decline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *chat == "" || *user == "" {
		return errors.New("need --chat and --user")
	}
	if _, err := a.api.Decline(ctx, &relayv1.DeclineRequest{ChatID: *chat, UserID: *user}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

// chatOnly runs a call that needs nothing but --chat.
func chatOnly(name string, call func(ctx context.Context, a *app, req *relayv1.ChatRequest) error) command {
	return func(ctx context.Context, a *app, args []string) error {
		fs := newFlags(name)
		chat := chatFlag(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := requireFlag("chat", *chat); err != nil {
			return err
		}
		return call(ctx, a, &relayv1.ChatRequest{ChatID: *chat})
	}
}

var (
	cmdState = chatOnly("state", func(ctx context.Context, a *app, req *relayv1.ChatRequest) error {
		resp, err := a.api.MembershipState(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, resp.State)
		return nil
	})
	cmdExit = chatOnly("exit", func(ctx context.Context, a *app, req *relayv1.ChatRequest) error {
		if _, err := a.api.Exit(ctx, req); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ok")
		return nil
	})
	cmdUnread = chatOnly("unread", func(ctx context.Context, a *app, req *relayv1.ChatRequest) error {
		resp, err := a.api.UnreadCount(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, resp.Count)
		return nil
	})
	cmdMarkRead = chatOnly("mark-read", func(ctx context.Context, a *app, req *relayv1.ChatRequest) error {
		resp, err := a.api.MarkRead(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, resp.Count)
		return nil
	})
	cmdDeleteAll = chatOnly("delete-all", func(ctx context.Context, a *app, req *relayv1.ChatRequest) error {
		resp, err := a.api.DeleteAll(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted %d\n", resp.Count)
		return nil
	})
)

func cmdPresence(ctx context.Context, a *app, args []string) error {
	fs := newFlags("presence")
	users := fs.String("users", "", "comma separated user ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := parseIDList(*users)
	if err != nil {
		return err
	}
	req := &relayv1.PresenceRequest{}
	for _, id := range ids {
		req.UserIDs = append(req.UserIDs, id.String())
	}
	resp, err := a.api.GetPresence(ctx, req)
	if err != nil {
		return err
	}
	a.printJSON(resp.Statuses)
	return nil
}

// ---- messages ----

func (a *app) chat(ctx context.Context, id string) (*model.Conversation, error) {
	resp, err := a.api.GetChat(ctx, &relayv1.ChatRequest{ChatID: id})
	if err != nil {
		return nil, err
	}
	c, err := convert.FromConversation(resp.Conversation)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// cipher seals and opens messages of one conversation for the local identity.
type cipher struct {
	seal func(plaintext []byte) (model.Envelope, error)
	open func(m model.Message) ([]byte, error)
}

func (a *app) cipherFor(ctx context.Context, v *e2e.Vault, c *model.Conversation) (*cipher, error) {
	me, err := a.me()
	if err != nil {
		return nil, err
	}
	if c.IsGroup {
		// A missing or unopenable key entry leaves gk nil: every message then reads as
		// undecryptable and sending fails.
		var gk *e2e.GroupKey
		if own, ok := c.KeyFor(me); ok {
			adminPub, err := a.publicKey(ctx, c.AdminID)
			if err != nil {
				return nil, err
			}
			gk, _ = v.UnwrapGroupKey(own, adminPub)
		}
		return &cipher{
			seal: func(pt []byte) (model.Envelope, error) {
				if gk == nil {
					return model.Envelope{}, fmt.Errorf("%w: group key not available", errs.ErrDecryption)
				}
				return e2e.SealGroup(pt, gk)
			},
			open: func(m model.Message) ([]byte, error) { return e2e.OpenGroup(m.Payload, gk) },
		}, nil
	}

	peer, ok := c.Peer(me)
	if !ok {
		return nil, fmt.Errorf("%w: not a direct conversation of mine", errs.ErrInvalidArgument)
	}
	peerPub, err := a.publicKey(ctx, peer)
	if err != nil {
		return nil, err
	}
	myPub := v.PublicKey()
	return &cipher{
		seal: func(pt []byte) (model.Envelope, error) { return v.EncryptDirect(pt, peerPub) },
		open: func(m model.Message) ([]byte, error) {
			authorPub := peerPub
			if m.SenderID == me {
				authorPub = myPub
			}
			return v.DecryptDirect(m.Payload, e2e.CounterpartyKey(m.SenderID, me, authorPub, peerPub))
		},
	}, nil
}

func (a *app) send(ctx context.Context, chatID, text, pw string) error {
	pt, err := readText(text, a.stdin())
	if err != nil {
		return err
	}
	c, err := a.chat(ctx, chatID)
	if err != nil {
		return err
	}
	v, err := a.unlock(pw)
	if err != nil {
		return err
	}
	defer v.Close()
	ci, err := a.cipherFor(ctx, v, c)
	if err != nil {
		return err
	}
	env, err := ci.seal(pt)
	if err != nil {
		return err
	}
	resp, err := a.api.Send(ctx, &relayv1.SendRequest{ChatID: chatID, Payload: convert.ToEnvelope(env)})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, resp.Message.ID)
	return nil
}

func cmdSend(ctx context.Context, a *app, args []string) error {
	fs := newFlags("send")
	chat := chatFlag(fs)
	msg := fs.StringP("message", "m", "", "text, or - for stdin")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("chat", *chat); err != nil {
		return err
	}
	return a.send(ctx, *chat, *msg, *pw)
}

// cmdDM opens (or creates) the direct conversation with --to and sends to it.
func cmdDM(ctx context.Context, a *app, args []string) error {
	fs := newFlags("dm")
	to := fs.String("to", "", "peer user id")
	msg := fs.StringP("message", "m", "", "text, or - for stdin")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("to", *to); err != nil {
		return err
	}
	resp, err := a.api.AccessDirect(ctx, &relayv1.AccessDirectRequest{PeerID: *to})
	if err != nil {
		return err
	}
	return a.send(ctx, resp.Conversation.ID, *msg, *pw)
}

// cmdRead fetches history page by page, merges it by message id and prints it oldest first.
func cmdRead(ctx context.Context, a *app, args []string) error {
	fs := newFlags("read")
	chat := chatFlag(fs)
	pages := fs.Int("pages", 1, "pages to fetch, newest first")
	size := fs.Int("size", 0, "page size (server default when 0)")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("chat", *chat); err != nil {
		return err
	}
	if *pages < 1 || *pages > maxReadPages {
		return fmt.Errorf("--pages must be within 1..%d", maxReadPages)
	}

	c, err := a.chat(ctx, *chat)
	if err != nil {
		return err
	}
	v, err := a.unlock(*pw)
	if err != nil {
		return err
	}
	defer v.Close()
	ci, err := a.cipherFor(ctx, v, c)
	if err != nil {
		return err
	}

	var history []model.Message
	for p := 1; p <= *pages; p++ {
		resp, err := a.api.Page(ctx, &relayv1.PageRequest{ChatID: *chat, Page: p, Size: *size})
		if err != nil {
			return err
		}
		ms, err := convert.FromMessages(resp.Messages)
		if err != nil {
			return err
		}
		history = model.MergeHistory(history, ms)
		if p >= resp.TotalPages {
			break
		}
	}

	for i := len(history) - 1; i >= 0; i-- {
		a.printMessage(ci, history[i])
	}
	return nil
}

// cmdInbox decrypts the unread messages of a conversation without marking them read.
func cmdInbox(ctx context.Context, a *app, args []string) error {
	fs := newFlags("inbox")
	chat := chatFlag(fs)
	limit := fs.Int("limit", 0, "at most N messages (server default when 0)")
	pw := passwordFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("chat", *chat); err != nil {
		return err
	}
	c, err := a.chat(ctx, *chat)
	if err != nil {
		return err
	}
	v, err := a.unlock(*pw)
	if err != nil {
		return err
	}
	defer v.Close()
	ci, err := a.cipherFor(ctx, v, c)
	if err != nil {
		return err
	}
	resp, err := a.api.ListUnread(ctx, &relayv1.ListUnreadRequest{ChatID: *chat, Limit: *limit})
	if err != nil {
		return err
	}
	ms, err := convert.FromMessages(resp.Messages)
	if err != nil {
		return err
	}
	for _, m := range ms {
		a.printMessage(ci, m)
	}
	return nil
}

func (a *app) printMessage(ci *cipher, m model.Message) {
	me, _ := a.me()
	who := m.SenderID.String()[:8]
	if m.SenderID == me {
		who = "me"
	}
	text := "[undecryptable]"
	if pt, err := ci.open(m); err == nil {
		text = string(pt)
	}
	fmt.Fprintf(a.out, "%s %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), who, text)
}
