// Command relay is a CLI client for cipher-relay. Messages are encrypted and
// decrypted locally; the relay only ever sees ciphertext.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	insecurecreds "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
)

// relayAPI is the part of the relay client the commands use.
type relayAPI interface {
	Register(ctx context.Context, in *relayv1.RegisterRequest, opts ...grpc.CallOption) (*relayv1.RegisterResponse, error)
	Login(ctx context.Context, in *relayv1.LoginRequest, opts ...grpc.CallOption) (*relayv1.LoginResponse, error)
	PublicKey(ctx context.Context, in *relayv1.PublicKeyRequest, opts ...grpc.CallOption) (*relayv1.PublicKeyResponse, error)
	AccessDirect(ctx context.Context, in *relayv1.AccessDirectRequest, opts ...grpc.CallOption) (*relayv1.ConversationResponse, error)
	CreateGroup(ctx context.Context, in *relayv1.CreateGroupRequest, opts ...grpc.CallOption) (*relayv1.ConversationResponse, error)
	GetChat(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.ConversationResponse, error)
	ListChats(ctx context.Context, in *relayv1.Empty, opts ...grpc.CallOption) (*relayv1.ConversationsResponse, error)
	Groups(ctx context.Context, in *relayv1.Empty, opts ...grpc.CallOption) (*relayv1.GroupsResponse, error)
	AdminPending(ctx context.Context, in *relayv1.Empty, opts ...grpc.CallOption) (*relayv1.ConversationsResponse, error)
	RequestJoin(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.MembershipResponse, error)
	Approve(ctx context.Context, in *relayv1.ApproveRequest, opts ...grpc.CallOption) (*relayv1.Empty, error)
	Decline(ctx context.Context, in *relayv1.DeclineRequest, opts ...grpc.CallOption) (*relayv1.Empty, error)
	Exit(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.Empty, error)
	MembershipState(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.MembershipResponse, error)
	Send(ctx context.Context, in *relayv1.SendRequest, opts ...grpc.CallOption) (*relayv1.MessageResponse, error)
	Page(ctx context.Context, in *relayv1.PageRequest, opts ...grpc.CallOption) (*relayv1.PageResponse, error)
	MarkRead(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.CountResponse, error)
	UnreadCount(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.CountResponse, error)
	ListUnread(ctx context.Context, in *relayv1.ListUnreadRequest, opts ...grpc.CallOption) (*relayv1.MessagesResponse, error)
	DeleteAll(ctx context.Context, in *relayv1.ChatRequest, opts ...grpc.CallOption) (*relayv1.CountResponse, error)
	GetPresence(ctx context.Context, in *relayv1.PresenceRequest, opts ...grpc.CallOption) (*relayv1.PresenceResponse, error)
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialConfig struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(dc dialConfig, bearer string) (*grpc.ClientConn, *relayv1.Client, error) {
	var creds credentials.TransportCredentials
	if dc.plaintext {
		creds = insecurecreds.NewCredentials()
	} else {
		c, err := loadTLS(dc.caPath, dc.skipVerify)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !dc.plaintext}))
	}
	cc, err := grpc.NewClient(dc.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, relayv1.NewClient(cc), nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `relay CLI
Usage:
  relay [--addr HOST:PORT] [--cacert file | --insecure | --plaintext] <cmd> [args]

The password for commands that encrypt or decrypt comes from -p or RELAY_PASSWORD.

Commands:
  version
  register     -u <username> -p <password>
  login        -u <username> -p <password>           (saves token and wrapped keys)
  chats                                             (conversations with unread counts)
  dm           --to <userId> -m <text|->            (direct message)
  send         --chat <id> -m <text|->              (direct or group)
  read         --chat <id> [--pages N] [--size N]   (decrypt history)
  group-create --name <name> --members <id,...>
  groups                                            (group directory)
  join         --chat <id>
  pending                                           (my groups with join requests)
  approve      --chat <id> --user <id>              (re-wraps the group key)
  decline      --chat <id> --user <id>
  state        --chat <id>                          (none, pending or member)
  exit         --chat <id>
  unread       --chat <id>
  inbox        --chat <id> [--limit N]              (decrypt unread, oldest first)
  mark-read    --chat <id>
  delete-all   --chat <id>
  presence     --users <id,...>
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	global := pflag.NewFlagSet("relay", pflag.ExitOnError)
	dc := dialConfig{}
	global.StringVar(&dc.addr, "addr", "localhost:8443", "server addr")
	global.StringVar(&dc.caPath, "cacert", "", "CA cert (PEM)")
	global.BoolVar(&dc.skipVerify, "insecure", false, "skip cert verify (dev)")
	global.BoolVar(&dc.plaintext, "plaintext", false, "no TLS (dev)")
	global.SetInterspersed(false)
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	if global.NArg() < 1 {
		usage()
	}
	cmd, args := global.Arg(0), global.Args()[1:]
	if cmd == "version" {
		fmt.Printf("relay %s (%s)\n", version, buildDate)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := store{dir: cfgDir()}
	var bearer string
	sess, err := st.load()
	if err == nil {
		bearer = sess.AccessToken
	} else if cmd != "register" && cmd != "login" {
		fail(err)
	}

	conn, cl, err := dial(dc, bearer)
	if err != nil {
		fail(err)
	}
	defer conn.Close()

	a := &app{api: cl, out: os.Stdout, store: st, sess: sess}
	if err := a.run(ctx, cmd, args); err != nil {
		fail(err)
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// readText returns v, or stdin when v is "-".
func readText(v string, stdin io.Reader) ([]byte, error) {
	if v == "-" {
		return io.ReadAll(stdin)
	}
	if v == "" {
		return nil, errors.New("empty message")
	}
	return []byte(v), nil
}
