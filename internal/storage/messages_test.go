package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendRoomMessageIncrementsUnreadForOthersOnly(t *testing.T) {
	s := bootstrap(t)

	a, b := seedUser(t, s), seedUser(t, s)
	room, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	msg, err := s.AppendRoomMessage(context.Background(), room.ID, a, TypeText, "hi there")
	require.NoError(t, err)
	require.Equal(t, a, msg.SenderID)
	require.Equal(t, a, msg.Sender.ID)
	require.NotNil(t, msg.RoomID)
	require.Equal(t, room.ID, *msg.RoomID)

	roomsB, err := s.RoomsByUserID(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 1, roomsB[0].UnreadCount)

	roomsA, err := s.RoomsByUserID(context.Background(), a)
	require.NoError(t, err)
	require.Zero(t, roomsA[0].UnreadCount)
}

func TestAppendRoomMessageNotMember(t *testing.T) {
	s := bootstrap(t)

	a, b, outsider := seedUser(t, s), seedUser(t, s), seedUser(t, s)
	room, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	_, err = s.AppendRoomMessage(context.Background(), room.ID, outsider, TypeText, "hi")
	require.Equal(t, ErrNotMember, err)

	// the failed append must not touch unread counters
	rooms, err := s.RoomsByUserID(context.Background(), b)
	require.NoError(t, err)
	require.Zero(t, rooms[0].UnreadCount)
}

func TestRoomMessagesOrderedAndRepeatable(t *testing.T) {
	s := bootstrap(t)

	a, b := seedUser(t, s), seedUser(t, s)
	room, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err = s.AppendRoomMessage(context.Background(), room.ID, a, TypeText, text)
		require.NoError(t, err)
	}

	first, err := s.RoomMessages(context.Background(), room.ID, b)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Equal(t, "one", first[0].Content)
	require.Equal(t, "two", first[1].Content)
	require.Equal(t, "three", first[2].Content)
	for i := 1; i < len(first); i++ {
		require.False(t, first[i].CreatedAt.Before(first[i-1].CreatedAt))
	}

	second, err := s.RoomMessages(context.Background(), room.ID, b)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRoomMessagesResetsUnread(t *testing.T) {
	s := bootstrap(t)

	a, b := seedUser(t, s), seedUser(t, s)
	room, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	_, err = s.AppendRoomMessage(context.Background(), room.ID, a, TypeText, "unread me")
	require.NoError(t, err)

	rooms, err := s.RoomsByUserID(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 1, rooms[0].UnreadCount)

	_, err = s.RoomMessages(context.Background(), room.ID, b)
	require.NoError(t, err)

	rooms, err = s.RoomsByUserID(context.Background(), b)
	require.NoError(t, err)
	require.Zero(t, rooms[0].UnreadCount)

	// reading must not clear the counter of the other member
	_, err = s.AppendRoomMessage(context.Background(), room.ID, b, TypeText, "reply")
	require.NoError(t, err)
	rooms, err = s.RoomsByUserID(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, 1, rooms[0].UnreadCount)
}

func TestRoomMessagesNotMember(t *testing.T) {
	s := bootstrap(t)

	a, b, outsider := seedUser(t, s), seedUser(t, s), seedUser(t, s)
	room, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	_, err = s.RoomMessages(context.Background(), room.ID, outsider)
	require.Equal(t, ErrNotMember, err)
}

func TestGroupMessagesRoundTrip(t *testing.T) {
	s := bootstrap(t)

	admin, member := seedUser(t, s), seedUser(t, s)
	group, _, err := s.CreateGroup(context.Background(), "ledger", nil, nil, admin, []int64{member})
	require.NoError(t, err)

	sent, err := s.AppendGroupMessage(context.Background(), group.ID, member, TypeText, "group hi")
	require.NoError(t, err)
	require.NotNil(t, sent.GroupID)
	require.Equal(t, group.ID, *sent.GroupID)

	messages, err := s.GroupMessages(context.Background(), group.ID, admin)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "group hi", messages[0].Content)
	require.Equal(t, member, messages[0].Sender.ID)
}

func TestAppendGroupMessageNotMember(t *testing.T) {
	s := bootstrap(t)

	admin, outsider := seedUser(t, s), seedUser(t, s)
	group, _, err := s.CreateGroup(context.Background(), "closed", nil, nil, admin, nil)
	require.NoError(t, err)

	_, err = s.AppendGroupMessage(context.Background(), group.ID, outsider, TypeText, "hi")
	require.Equal(t, ErrNotMember, err)
}
