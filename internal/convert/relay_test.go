package convert

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

func TestParseID(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.NewV4())
	got, err := ParseID("chatId", id.String())
	require.NoError(t, err)
	require.Equal(t, id, got)

	for _, bad := range []string{"", "nope", uuid.Nil.String()} {
		_, err := ParseID("chatId", bad)
		require.ErrorIs(t, err, errs.ErrInvalidArgument, bad)
	}

	ids, err := ParseIDs("userIds", []string{id.String()})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{id}, ids)
	_, err = ParseIDs("userIds", []string{id.String(), "x"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestFromWrappedKeys(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.NewV4())
	got, err := FromWrappedKeys([]relayv1.WrappedKey{{MemberID: id.String(), Key: relayv1.Envelope{Ciphertext: []byte("c"), Nonce: []byte("n")}}})
	require.NoError(t, err)
	require.Equal(t, []model.WrappedKeyEntry{{MemberID: id, Key: model.Envelope{Ciphertext: []byte("c"), Nonce: []byte("n")}}}, got)

	_, err = FromWrappedKeys([]relayv1.WrappedKey{{MemberID: "zzz"}})
	require.ErrorIs(t, err, errs.ErrMalformedKey)
}

func TestToConversation_DirectOmitsGroupState(t *testing.T) {
	t.Parallel()
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	c := model.Conversation{ID: uuid.Must(uuid.NewV4()), Members: []uuid.UUID{a, b}}
	got := ToConversation(c)
	require.Empty(t, got.AdminID)
	require.Nil(t, got.Pending)
	require.Nil(t, got.Keys)
	require.Equal(t, []string{a.String(), b.String()}, got.Members)

	sum := ToSummaries([]model.ConversationSummary{{Conversation: c, UnreadCount: 3}})
	require.EqualValues(t, 3, sum[0].UnreadCount)
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := model.Message{
		ID: uuid.Must(uuid.NewV4()), ChatID: uuid.Must(uuid.NewV4()), SenderID: uuid.Must(uuid.NewV4()),
		Payload:   model.Envelope{Ciphertext: []byte{1}, Nonce: []byte{2}},
		CreatedAt: at,
		ReadBy:    []model.ReadMarker{{ReaderID: uuid.Must(uuid.NewV4()), ReadAt: at.Add(time.Minute)}},
	}
	back, err := FromMessages(ToMessages([]model.Message{m}))
	require.NoError(t, err)
	require.Equal(t, []model.Message{m}, back)

	wire := ToMessage(m)
	wire.SenderID = "bad"
	_, err = FromMessage(wire)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestToPresence(t *testing.T) {
	t.Parallel()
	on, off := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	seen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := ToPresence([]model.PresenceStatus{{UserID: on, Online: true}, {UserID: off, LastSeen: seen}})
	require.Nil(t, got[0].LastSeen)
	require.True(t, got[0].Online)
	require.NotNil(t, got[1].LastSeen)
	require.True(t, seen.Equal(*got[1].LastSeen))
}

func TestFromConversation_Group(t *testing.T) {
	t.Parallel()
	admin, m := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	env := model.Envelope{Ciphertext: []byte("c"), Nonce: []byte("n")}
	c := model.Conversation{
		ID:      uuid.Must(uuid.NewV4()),
		Name:    "ops",
		IsGroup: true,
		AdminID: admin,
		Members: []uuid.UUID{admin},
		Pending: []uuid.UUID{m},
		Keys:    []model.WrappedKeyEntry{{MemberID: admin, Key: env}},
	}
	got, err := FromConversation(ToConversation(c))
	require.NoError(t, err)
	require.Equal(t, c.AdminID, got.AdminID)
	require.Equal(t, c.Pending, got.Pending)
	require.Equal(t, c.Keys, got.Keys)

	w := ToConversation(c)
	w.AdminID = "bad"
	_, err = FromConversation(w)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}
