package rooms_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
	"github.com/codeready-toolchain/agentkernel/pkg/rooms"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func newTestService(t *testing.T) *rooms.Service {
	t.Helper()
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)
	engine := projector.NewEngine(pool.Pool, projector.RoomsProjector{})
	return rooms.NewService(pool.Pool, store, engine)
}

func userActor() chain.Actor {
	return chain.Actor{Kind: chain.ActorUser, ActorID: "user-1"}
}

func TestRooms_CreateRoomThreadAndPostMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	roomID, err := svc.CreateRoom(ctx, "ws-1", "incident-42", userActor())
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	room, err := svc.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, "incident-42", room.Title)
	require.Equal(t, "ws-1", room.WorkspaceID)

	threadID, err := svc.CreateThread(ctx, "ws-1", roomID, "root-cause", userActor())
	require.NoError(t, err)
	require.NotEmpty(t, threadID)

	threads, err := svc.ListThreads(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, "root-cause", threads[0].Title)

	msg1ID, err := svc.PostMessage(ctx, "ws-1", roomID, threadID, "checking the logs", userActor())
	require.NoError(t, err)
	require.NotEmpty(t, msg1ID)

	msg2ID, err := svc.PostMessage(ctx, "ws-1", roomID, "", "general room note", userActor())
	require.NoError(t, err)
	require.NotEmpty(t, msg2ID)

	all, err := svc.ListMessages(ctx, roomID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "checking the logs", all[0].Body)
	require.Equal(t, "general room note", all[1].Body)
	require.Less(t, all[0].StreamSeq, all[1].StreamSeq)

	scoped, err := svc.ListMessages(ctx, roomID, threadID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, "checking the logs", scoped[0].Body)
}

func TestRooms_ListRoomsScopedToWorkspace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	roomA, err := svc.CreateRoom(ctx, "ws-a", "room-a", userActor())
	require.NoError(t, err)
	_, err = svc.CreateRoom(ctx, "ws-b", "room-b", userActor())
	require.NoError(t, err)

	list, err := svc.ListRooms(ctx, "ws-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, roomA, list[0].RoomID)
}

func TestRooms_GetRoomNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetRoom(ctx, "missing-room")
	require.ErrorIs(t, err, kerrors.ErrNotFound)
}
