package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	mytesting "github.com/nexuschat/backend/internal/testing"
)

func TestProvideRoomIdempotent(t *testing.T) {
	s := bootstrap(t)

	a, b := seedUser(t, s), seedUser(t, s)

	first, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)
	require.Equal(t, "OPEN", first.Status)

	second, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestProvideRoomOrderInsensitive(t *testing.T) {
	s := bootstrap(t)

	pair := []int64{seedUser(t, s), seedUser(t, s)}

	first, err := s.ProvideRoom(context.Background(), pair[0], pair[1])
	require.NoError(t, err)

	reversed := mytesting.ReverseIDs(pair)
	second, err := s.ProvideRoom(context.Background(), reversed[0], reversed[1])
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestProvideRoomConcurrent(t *testing.T) {
	s := bootstrap(t)

	a, b := seedUser(t, s), seedUser(t, s)

	const callers = 8
	ids := make([]int64, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := s.ProvideRoom(context.Background(), a, b)
			require.NoError(t, err)
			ids[i] = room.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestProvideRoomManyPairs(t *testing.T) {
	s := bootstrap(t)

	users := []int64{seedUser(t, s), seedUser(t, s), seedUser(t, s), seedUser(t, s)}

	seen := map[int64]bool{}
	for _, pair := range mytesting.PairUserIDs(users) {
		room, err := s.ProvideRoom(context.Background(), pair[0], pair[1])
		require.NoError(t, err)
		require.False(t, seen[room.ID], "distinct pairs must get distinct rooms")
		seen[room.ID] = true
	}
}

func TestProvideRoomSeedsZeroUnread(t *testing.T) {
	s := bootstrap(t)

	a, b := seedUser(t, s), seedUser(t, s)

	_, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	for _, u := range []int64{a, b} {
		rooms, err := s.RoomsByUserID(context.Background(), u)
		require.NoError(t, err)
		require.Len(t, rooms, 1)
		require.Zero(t, rooms[0].UnreadCount)
		require.Nil(t, rooms[0].LastMessage)
	}
}

func TestProvideRoomBadUser(t *testing.T) {
	s := bootstrap(t)

	a := seedUser(t, s)

	_, err := s.ProvideRoom(context.Background(), a, -1)
	require.Equal(t, ErrUserNotExist, err)
}

func TestIsRoomMember(t *testing.T) {
	s := bootstrap(t)

	a, b, outsider := seedUser(t, s), seedUser(t, s), seedUser(t, s)

	room, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)

	member, err := s.IsRoomMember(context.Background(), room.ID, a)
	require.NoError(t, err)
	require.True(t, member)

	member, err = s.IsRoomMember(context.Background(), room.ID, outsider)
	require.NoError(t, err)
	require.False(t, member)
}

func TestRoomsByUserIDRecencyOrder(t *testing.T) {
	s := bootstrap(t)

	a, b, c := seedUser(t, s), seedUser(t, s), seedUser(t, s)

	roomAB, err := s.ProvideRoom(context.Background(), a, b)
	require.NoError(t, err)
	roomAC, err := s.ProvideRoom(context.Background(), a, c)
	require.NoError(t, err)

	// a message in the older room moves it to the front of a's list
	_, err = s.AppendRoomMessage(context.Background(), roomAB.ID, b, TypeText, "hello")
	require.NoError(t, err)

	rooms, err := s.RoomsByUserID(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, roomAB.ID, rooms[0].ID)
	require.Equal(t, roomAC.ID, rooms[1].ID)
	require.NotNil(t, rooms[0].LastMessage)
	require.Equal(t, "hello", rooms[0].LastMessage.Content)
}
