package registry

import (
	"fmt"
	"testing"

	"github.com/airjam/broker/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMasterCreatesRoom(t *testing.T) {
	r := New()
	master := newFakeConn("m1")

	created := r.RegisterMaster("ABCD", master, DefaultMaxPlayersSystem)
	require.True(t, created)

	snap, ok := r.SnapshotRoom("ABCD")
	require.True(t, ok)
	assert.Equal(t, FocusSystem, snap.Focus)
	assert.Equal(t, protocol.GameStatePaused, snap.GameState)
	assert.Equal(t, DefaultMaxPlayersSystem, snap.MaxPlayers)
	assert.Equal(t, ConnID("m1"), snap.MasterConnID)

	code, ok := r.HostRoom("m1")
	require.True(t, ok)
	assert.Equal(t, "ABCD", code)
}

func TestRegisterMasterTakeoverKeepsRoomState(t *testing.T) {
	r := New()
	oldMaster := newFakeConn("m1")
	r.RegisterMaster("ABCD", oldMaster, DefaultMaxPlayersSystem)

	_, _, _, _, err := r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))
	require.Nil(t, err)

	newMaster := newFakeConn("m2")
	created := r.RegisterMaster("ABCD", newMaster, DefaultMaxPlayersSystem)
	assert.False(t, created)

	snap, ok := r.SnapshotRoom("ABCD")
	require.True(t, ok)
	assert.Equal(t, ConnID("m2"), snap.MasterConnID)
	assert.Len(t, snap.Controllers, 1, "takeover keeps admitted controllers")

	// The old master's index entry is gone; the new one is live.
	_, ok = r.HostRoom("m1")
	assert.False(t, ok)
	code, ok := r.HostRoom("m2")
	require.True(t, ok)
	assert.Equal(t, "ABCD", code)
}

func TestRegisterMasterGeneratedSkipsLiveRooms(t *testing.T) {
	r := New()
	occupant := newFakeConn("m1")
	r.RegisterMaster("ABCD", occupant, DefaultMaxPlayersSystem)
	_, _, _, _, err := r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))
	require.Nil(t, err)

	// Force the generator to collide with the live room before yielding a
	// free code.
	calls := 0
	original := generateCode
	generateCode = func() string {
		calls++
		if calls == 1 {
			return "ABCD"
		}
		return "WXYZ"
	}
	defer func() { generateCode = original }()

	stranger := newFakeConn("m2")
	code := r.RegisterMasterGenerated(stranger, DefaultMaxPlayersSystem)
	assert.Equal(t, "WXYZ", code)
	assert.Equal(t, 2, calls)

	// The occupied room is untouched; no takeover happened.
	snap, ok := r.SnapshotRoom("ABCD")
	require.True(t, ok)
	assert.Equal(t, ConnID("m1"), snap.MasterConnID)
	assert.Len(t, snap.Controllers, 1)

	fresh, ok := r.SnapshotRoom("WXYZ")
	require.True(t, ok)
	assert.Equal(t, ConnID("m2"), fresh.MasterConnID)
	assert.Empty(t, fresh.Controllers)
}

func TestLaunchIsIdempotentUntilChildJoins(t *testing.T) {
	r := New()
	master := newFakeConn("m1")
	r.RegisterMaster("ABCD", master, DefaultMaxPlayersSystem)

	token1, _, reused, err := r.Launch("ABCD", "m1", "https://g/x")
	require.Nil(t, err)
	require.NotEmpty(t, token1)
	assert.False(t, reused)

	token2, conns, reused, err := r.Launch("ABCD", "m1", "https://g/other")
	require.Nil(t, err)
	assert.Equal(t, token1, token2)
	assert.True(t, reused)
	assert.Nil(t, conns, "idempotent relaunch must not re-instruct controllers")

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Equal(t, "https://g/x", snap.ActiveControllerURL, "second launch must not overwrite the URL")
}

func TestLaunchAuthorization(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)

	_, _, _, err := r.Launch("ZZZZ", "m1", "https://g/x")
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeRoomNotFound, err.Code)

	_, _, _, err = r.Launch("ABCD", "intruder", "https://g/x")
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeUnauthorized, err.Code)
}

func TestAttachChildConsumesToken(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	token, _, _, err := r.Launch("ABCD", "m1", "https://g/x")
	require.Nil(t, err)

	child := newFakeConn("ch1")
	require.Nil(t, r.AttachChild("ABCD", token, child))

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Equal(t, FocusGame, snap.Focus)
	assert.Equal(t, ConnID("ch1"), snap.ChildConnID)
	assert.Empty(t, snap.JoinToken, "a matched token is consumed")

	// The same token can never attach twice.
	err2 := r.AttachChild("ABCD", token, newFakeConn("ch2"))
	require.NotNil(t, err2)
	assert.Equal(t, protocol.CodeInvalidToken, err2.Code)
}

func TestAttachChildTokenMismatchLeavesTokenInPlace(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	token, _, _, err := r.Launch("ABCD", "m1", "https://g/x")
	require.Nil(t, err)

	attachErr := r.AttachChild("ABCD", "wrong-token", newFakeConn("ch1"))
	require.NotNil(t, attachErr)
	assert.Equal(t, protocol.CodeInvalidToken, attachErr.Code)

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Equal(t, token, snap.JoinToken)
	assert.Equal(t, FocusSystem, snap.Focus)
}

func TestLaunchRejectedWhileChildAttached(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	token, _, _, _ := r.Launch("ABCD", "m1", "https://g/x")
	require.Nil(t, r.AttachChild("ABCD", token, newFakeConn("ch1")))

	_, _, _, err := r.Launch("ABCD", "m1", "https://g/y")
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeAlreadyConnected, err.Code)
}

func TestAdmitControllerAssignsProfileFromAdmissionIndex(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)

	first, _, _, _, err := r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))
	require.Nil(t, err)
	assert.Equal(t, "Player 0", first.Player.Label)
	assert.Equal(t, palette[0], first.Player.Color)

	second, _, _, _, err := r.AdmitController("ABCD", "c-2", "ana", newFakeConn("p2"))
	require.Nil(t, err)
	assert.Equal(t, "ana", second.Player.Label)
	assert.Equal(t, palette[1], second.Player.Color)
}

func TestPaletteWrapsAtTwenty(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)

	for i := 0; i < 21; i++ {
		ctrl, _, _, _, err := r.AdmitController("ABCD", fmt.Sprintf("c-%d", i), "", newFakeConn(fmt.Sprintf("p%d", i)))
		require.Nil(t, err)
		assert.Equal(t, palette[i%len(palette)], ctrl.Player.Color)
	}
}

func TestAdmitControllerRoomFull(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), 2)

	_, _, _, _, err := r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))
	require.Nil(t, err)
	_, _, _, _, err = r.AdmitController("ABCD", "c-2", "", newFakeConn("p2"))
	require.Nil(t, err)

	_, _, _, _, err = r.AdmitController("ABCD", "c-3", "", newFakeConn("p3"))
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeRoomFull, err.Code)

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Len(t, snap.Controllers, 2, "rejected join must not change state")
}

func TestAdmitControllerRejoinOrphansOldSocket(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)

	oldSocket := newFakeConn("p1")
	_, _, _, _, err := r.AdmitController("ABCD", "c-1", "", oldSocket)
	require.Nil(t, err)

	newSocket := newFakeConn("p1b")
	_, _, _, _, err = r.AdmitController("ABCD", "c-1", "", newSocket)
	require.Nil(t, err)

	// Old socket no longer resolves; the new one does.
	_, _, ok := r.ControllerRoom("p1")
	assert.False(t, ok)
	code, id, ok := r.ControllerRoom("p1b")
	require.True(t, ok)
	assert.Equal(t, "ABCD", code)
	assert.Equal(t, "c-1", id)

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Len(t, snap.Controllers, 1)
}

func TestInputTargetFollowsFocus(t *testing.T) {
	r := New()
	master := newFakeConn("m1")
	r.RegisterMaster("ABCD", master, DefaultMaxPlayersSystem)

	target, ok := r.InputTarget("ABCD")
	require.True(t, ok)
	assert.Equal(t, ConnID("m1"), target.ID())

	token, _, _, _ := r.Launch("ABCD", "m1", "https://g/x")
	child := newFakeConn("ch1")
	require.Nil(t, r.AttachChild("ABCD", token, child))

	target, ok = r.InputTarget("ABCD")
	require.True(t, ok)
	assert.Equal(t, ConnID("ch1"), target.ID())

	_, ok = r.InputTarget("ZZZZ")
	assert.False(t, ok)
}

func TestDetachChildConnRevertsFocusAndClearsLaunchFields(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))
	token, _, _, _ := r.Launch("ABCD", "m1", "https://g/x")
	require.Nil(t, r.AttachChild("ABCD", token, newFakeConn("ch1")))

	code, controllers, ok := r.DetachChildConn("ch1")
	require.True(t, ok)
	assert.Equal(t, "ABCD", code)
	assert.Len(t, controllers, 1)

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Equal(t, FocusSystem, snap.Focus)
	assert.Empty(t, snap.ChildConnID)
	assert.Empty(t, snap.JoinToken)
	assert.Empty(t, snap.ActiveControllerURL)

	// A non-child host never triggers the child path.
	_, _, ok = r.DetachChildConn("m1")
	assert.False(t, ok)
}

func TestExitGameResetsGameState(t *testing.T) {
	r := New()
	master := newFakeConn("m1")
	r.RegisterMaster("ABCD", master, DefaultMaxPlayersSystem)
	token, _, _, _ := r.Launch("ABCD", "m1", "https://g/x")
	child := newFakeConn("ch1")
	require.Nil(t, r.AttachChild("ABCD", token, child))
	r.ApplyStatePatch("ABCD", protocol.StatePatch{GameState: protocol.GameStatePlaying})

	gotChild, gotMaster, _, ok := r.ExitGame("ABCD")
	require.True(t, ok)
	assert.Equal(t, ConnID("ch1"), gotChild.ID())
	assert.Equal(t, ConnID("m1"), gotMaster.ID())

	snap, _ := r.SnapshotRoom("ABCD")
	assert.Equal(t, protocol.GameStatePaused, snap.GameState)
	assert.Equal(t, FocusSystem, snap.Focus)
}

func TestToggleGameState(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)

	state, members, ok := r.ToggleGameState("ABCD")
	require.True(t, ok)
	assert.Equal(t, protocol.GameStatePlaying, state)
	assert.Len(t, members, 1)

	state, _, _ = r.ToggleGameState("ABCD")
	assert.Equal(t, protocol.GameStatePaused, state)
}

func TestSignalTargets(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	p1 := newFakeConn("p1")
	p2 := newFakeConn("p2")
	r.AdmitController("ABCD", "c-1", "", p1)
	r.AdmitController("ABCD", "c-2", "", p2)

	targets := r.SignalTargets("ABCD", "c-2", "m1")
	require.Len(t, targets, 1)
	assert.Equal(t, ConnID("p2"), targets[0].ID())

	assert.Nil(t, r.SignalTargets("ABCD", "c-9", "m1"), "unknown target id resolves to nobody")

	targets = r.SignalTargets("ABCD", "", "p1")
	require.Len(t, targets, 1, "broadcast excludes the sender")
	assert.Equal(t, ConnID("p2"), targets[0].ID())
}

func TestRemoveRoomIfMasterRechecksIdentity(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))

	// Takeover during the grace period: the old master's teardown is a no-op.
	r.RegisterMaster("ABCD", newFakeConn("m2"), DefaultMaxPlayersSystem)
	_, removed := r.RemoveRoomIfMaster("ABCD", "m1")
	assert.False(t, removed)
	assert.True(t, r.HasRoom("ABCD"))

	members, removed := r.RemoveRoomIfMaster("ABCD", "m2")
	assert.True(t, removed)
	assert.Len(t, members, 2)
	assert.False(t, r.HasRoom("ABCD"))

	// Both indices are cleaned up with the room.
	_, ok := r.HostRoom("m2")
	assert.False(t, ok)
	_, _, ok = r.ControllerRoom("p1")
	assert.False(t, ok)
}

func TestRemoveControllerNotifiesActiveHost(t *testing.T) {
	r := New()
	r.RegisterMaster("ABCD", newFakeConn("m1"), DefaultMaxPlayersSystem)
	r.AdmitController("ABCD", "c-1", "", newFakeConn("p1"))

	active, ctrl, removed := r.RemoveController("ABCD", "c-1")
	require.True(t, removed)
	assert.Equal(t, ConnID("m1"), active.ID())
	assert.Equal(t, "c-1", ctrl.ID)

	_, _, removed = r.RemoveController("ABCD", "c-1")
	assert.False(t, removed)
}
