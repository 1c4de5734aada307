package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/media"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		ClassId:        "c1",
		MeetingId:      "m1",
		Constraints:    media.Constraints{Audio: true},
		SendSpacing:    time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		RosterInterval: 20 * time.Millisecond,
		DownloadDir:    t.TempDir(),
	}
}

func TestSessionJoinLeaveLifecycle(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice", UserName: "Alice"})
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))

	require.NoError(t, sess.Join(context.Background()))
	assert.Equal(t, "alice", sess.LocalID())
	assert.ErrorIs(t, sess.Join(context.Background()), ErrAlreadyJoined)

	require.NoError(t, sess.Leave(context.Background()))
	fb.mu.Lock()
	assert.Equal(t, 1, fb.joinCalls)
	assert.Equal(t, 1, fb.leaveCalls)
	fb.mu.Unlock()

	// 2回目のLeaveは何もしない
	require.NoError(t, sess.Leave(context.Background()))
	fb.mu.Lock()
	assert.Equal(t, 1, fb.leaveCalls)
	fb.mu.Unlock()
}

func TestSessionLeaveStopsAllActivity(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	fb.participants = participants("alice", "bob")
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	require.NoError(t, sess.Join(context.Background()))

	require.Eventually(t, func() bool { return len(sess.Peers()) > 0 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Leave(context.Background()))

	assert.Empty(t, sess.Peers(), "no sessions survive leave")
	assert.Empty(t, sess.RemoteTracks(), "no remote tracks survive leave")

	// タイマーが止まっていることを確認する（退出後はポーリングも同期も走らない）
	fb.mu.Lock()
	polls, rosters := fb.signalsCalls, fb.participantCalls
	fb.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, polls, fb.signalsCalls)
	assert.Equal(t, rosters, fb.participantCalls)
}

func TestSessionJoinFailsWhenBackendRejects(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	fb.joinErr = context.DeadlineExceeded
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))

	require.Error(t, sess.Join(context.Background()))
	assert.Empty(t, sess.LocalID())
	require.NoError(t, sess.Leave(context.Background()), "leave after failed join is a no-op")
}

func TestSessionJoinFailsWithoutMedia(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	cfg := testConfig(t)
	cfg.Constraints = media.Constraints{}
	sess := New(fb, media.NewSyntheticSource(), cfg)

	err := sess.Join(context.Background())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
	fb.mu.Lock()
	assert.Zero(t, fb.joinCalls, "must not register on the relay if media acquisition fails")
	fb.mu.Unlock()
}

func TestSessionMuteDoesNotSignal(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	require.NoError(t, sess.Join(context.Background()))
	defer sess.Leave(context.Background())

	require.NoError(t, sess.SetAudioEnabled(context.Background(), false))
	require.NoError(t, sess.SetAudioEnabled(context.Background(), false)) // 冪等
	require.NoError(t, sess.SetAudioEnabled(context.Background(), true))
	require.NoError(t, sess.SetVideoEnabled(context.Background(), false))

	// ミュート切り替えは再ネゴシエーションを起こさない
	assert.Empty(t, fb.sentSignals(), "mute toggles must not emit signaling traffic")
}

func TestSessionMuteRequiresJoin(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	assert.ErrorIs(t, sess.SetAudioEnabled(context.Background(), false), ErrNotJoined)
}

func TestSessionConnectsToRosterPeers(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	fb.participants = participants("alice", "bob")
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	require.NoError(t, sess.Join(context.Background()))
	defer sess.Leave(context.Background())

	// ロスター同期が"bob"を見つけてオファーを送るまで待つ
	require.Eventually(t, func() bool {
		for _, s := range fb.sentSignals() {
			if s.To == "bob" && s.Kind == models.SignalOffer {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, sess.Peers(), "bob")
}

func TestSessionRecordingUpload(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	require.NoError(t, sess.Join(context.Background()))
	defer sess.Leave(context.Background())

	require.NoError(t, sess.StartRecording())
	assert.Error(t, sess.StartRecording(), "double start must fail")

	// 合成ソースがサンプルを流すまで少し待つ
	time.Sleep(100 * time.Millisecond)

	result, err := sess.StopRecording(context.Background(), "授業の録画")
	require.NoError(t, err)
	assert.Empty(t, result.LocalPath)
	assert.NotEmpty(t, result.Artifact.RecordingId)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.uploads, 1)
	assert.Equal(t, "授業の録画", fb.uploads[0].Title)
	assert.NotEmpty(t, fb.uploads[0].Data)
	assert.Equal(t, 1, fb.uploads[0].Meta.ParticipantCount)
	assert.Greater(t, fb.uploads[0].Meta.DurationMs, int64(0))
}

func TestSessionRecordingFallsBackToLocalFile(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	fb.uploadErr = context.DeadlineExceeded
	cfg := testConfig(t)
	sess := New(fb, media.NewSyntheticSource(), cfg)
	require.NoError(t, sess.Join(context.Background()))
	defer sess.Leave(context.Background())

	require.NoError(t, sess.StartRecording())
	time.Sleep(100 * time.Millisecond)

	result, err := sess.StopRecording(context.Background(), "t")
	require.Error(t, err)
	require.NotEmpty(t, result.LocalPath, "recording must survive an upload failure")
	assert.Equal(t, cfg.DownloadDir, filepath.Dir(result.LocalPath))

	data, rerr := os.ReadFile(result.LocalPath)
	require.NoError(t, rerr)
	assert.NotEmpty(t, data)
}

func TestSessionStopRecordingWithoutStart(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	require.NoError(t, sess.Join(context.Background()))
	defer sess.Leave(context.Background())

	_, err := sess.StopRecording(context.Background(), "t")
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestSessionLeaveDiscardsRunningRecording(t *testing.T) {
	fb := newFakeBackend(models.User{UserId: "alice"})
	sess := New(fb, media.NewSyntheticSource(), testConfig(t))
	require.NoError(t, sess.Join(context.Background()))
	require.NoError(t, sess.StartRecording())

	require.NoError(t, sess.Leave(context.Background()))
	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Empty(t, fb.uploads, "leave without stop must not upload the recording")
}
