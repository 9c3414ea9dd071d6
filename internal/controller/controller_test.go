package controller

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traloxolcus/soccer-rig/internal/clocksync"
	"github.com/traloxolcus/soccer-rig/internal/config"
	"github.com/traloxolcus/soccer-rig/internal/gates"
	"github.com/traloxolcus/soccer-rig/internal/manifest"
	"github.com/traloxolcus/soccer-rig/internal/pipeline"
	"github.com/traloxolcus/soccer-rig/internal/storage"
	"github.com/traloxolcus/soccer-rig/pkg/api/rigcam"
)

type fixedTelemetry struct {
	sample clocksync.Telemetry
}

func (f fixedTelemetry) Poll() clocksync.Telemetry { return f.sample }

type fixture struct {
	ctrl  *Controller
	cfg   *config.RigConfig
	store *manifest.Store
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.RigConfig{
		CameraID:               "CAM_L",
		BaseDir:                dir,
		Codec:                  "h265",
		BitrateMbps:            30,
		Resolution:             "1920x1080",
		FPS:                    30,
		AudioEnabled:           true,
		DurationMinutesDefault: 110,
		FreeSpaceMinGB:         0.001,
		CleanupIntervalSec:     0,
		Simulate:               true,
		TestRecordingSeconds:   10,
	}
	require.NoError(t, cfg.EnsureDirectories())

	capacity := storage.NewCapacity(cfg.BaseDir)
	store := manifest.NewStore(cfg.ManifestsDir(), cfg.RecordingsDir(), capacity.FreeGB, logger)

	sensors := t.TempDir()
	checker := &gates.Checker{
		CameraDevice:   filepath.Join(sensors, "video0"),
		ThermalPath:    filepath.Join(sensors, "temp"),
		BatteryPath:    filepath.Join(sensors, "capacity"),
		SimulateCamera: true,
	}

	sample := clocksync.Telemetry{Role: "client", OffsetMS: -0.132, Confidence: clocksync.ConfidenceGood}
	ctrl := New(cfg, store, capacity, checker, fixedTelemetry{sample: sample}, pipeline.SimRunner{}, Metrics{}, logger)
	ctrl.testRecDuration = 20 * time.Millisecond

	return &fixture{ctrl: ctrl, cfg: cfg, store: store, dir: dir}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)

	info, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "match-7", CameraID: "CAM_L"})
	require.NoError(t, err)
	assert.Equal(t, "match-7", info.SessionID)
	assert.Equal(t, "CAM_L", info.CameraID)
	assert.Regexp(t, `^match-7_CAM_L_\d{8}_\d{6}\.mp4$`, info.FileName)
	assert.InDelta(t, -0.132, info.OffsetMS, 0.0001)

	active, ok := f.ctrl.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, "match-7", active.SessionID)

	resp, err := f.ctrl.Stop()
	require.NoError(t, err)
	assert.Equal(t, "match-7", resp.SessionID)
	assert.FileExists(t, resp.ManifestPath)

	rec, err := f.store.Find("match-7", "CAM_L")
	require.NoError(t, err)
	assert.Equal(t, manifest.CurrentVersion, rec.ManifestVersion)
	assert.Equal(t, "sha256", rec.Checksum.Algo)
	assert.NotEmpty(t, rec.Checksum.Value)
	assert.False(t, rec.Offloaded)
	require.NotNil(t, rec.EndedAt)

	_, ok = f.ctrl.ActiveSession()
	assert.False(t, ok)
}

func TestStartGeneratesSessionID(t *testing.T) {
	f := newFixture(t)

	info, err := f.ctrl.Start(rigcam.StartRecordingRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, info.SessionID)

	_, err = f.ctrl.Stop()
	require.NoError(t, err)
}

func TestStartRejectsCameraMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{CameraID: "CAM_R"})
	assert.ErrorIs(t, err, ErrCameraMismatch)
}

func TestStartRejectsWhenGatesFail(t *testing.T) {
	f := newFixture(t)
	f.cfg.FreeSpaceMinGB = 1e9

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{})
	require.ErrorIs(t, err, ErrPreconditionFail)
	assert.Contains(t, err.Error(), "Low disk")
}

func TestStopWithoutActiveSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Stop()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestConcurrentStartsSingleWinner(t *testing.T) {
	f := newFixture(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: fmt.Sprintf("s%d", i)})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrSessionActive)
		}
	}
	assert.Equal(t, 1, winners)

	_, err := f.ctrl.Stop()
	require.NoError(t, err)
}

func TestAutoStopFinalizesSession(t *testing.T) {
	f := newFixture(t)
	f.ctrl.targetDuration = 30 * time.Millisecond

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "short"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := f.ctrl.ActiveSession()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := f.store.Find("short", "CAM_L")
	require.NoError(t, err)
	assert.False(t, rec.Offloaded)

	// explicit stop after the timer won observes the empty slot
	_, err = f.ctrl.Stop()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestConfirmOffloadFlow(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "m1"})
	require.NoError(t, err)
	_, err = f.ctrl.Stop()
	require.NoError(t, err)

	rec, err := f.store.Find("m1", "CAM_L")
	require.NoError(t, err)

	confirmed, err := f.ctrl.ConfirmOffload(rigcam.ConfirmOffloadRequest{
		SessionID: "m1",
		CameraID:  "CAM_L",
		File:      rec.FileName,
		Checksum:  rigcam.ChecksumValue{Algo: "sha256", Value: rec.Checksum.Value},
	})
	require.NoError(t, err)
	assert.True(t, confirmed.Offloaded)
}

func TestConfirmOffloadChecksumMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "m2"})
	require.NoError(t, err)
	_, err = f.ctrl.Stop()
	require.NoError(t, err)

	rec, err := f.store.Find("m2", "CAM_L")
	require.NoError(t, err)

	_, err = f.ctrl.ConfirmOffload(rigcam.ConfirmOffloadRequest{
		SessionID: "m2",
		CameraID:  "CAM_L",
		File:      rec.FileName,
		Checksum:  rigcam.ChecksumValue{Algo: "sha256", Value: "deadbeef"},
	})
	assert.ErrorIs(t, err, manifest.ErrChecksumMismatch)

	rec, err = f.store.Find("m2", "CAM_L")
	require.NoError(t, err)
	assert.False(t, rec.Offloaded, "failed confirmation must not flip the flag")
}

func TestConfirmOffloadUnsupportedAlgo(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.ConfirmOffload(rigcam.ConfirmOffloadRequest{
		SessionID: "m3",
		CameraID:  "CAM_L",
		Checksum:  rigcam.ChecksumValue{Algo: "md5", Value: "abc"},
	})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestConfirmOffloadUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.ConfirmOffload(rigcam.ConfirmOffloadRequest{
		SessionID: "ghost",
		CameraID:  "CAM_L",
		Checksum:  rigcam.ChecksumValue{Algo: "sha256", Value: "abc"},
	})
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestDeleteAfterConfirmEvictsImmediately(t *testing.T) {
	f := newFixture(t)
	f.cfg.DeleteAfterConfirm = true

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "m4"})
	require.NoError(t, err)
	_, err = f.ctrl.Stop()
	require.NoError(t, err)

	rec, err := f.store.Find("m4", "CAM_L")
	require.NoError(t, err)
	clip := filepath.Join(f.cfg.RecordingsDir(), rec.FileName)
	assert.FileExists(t, clip)

	_, err = f.ctrl.ConfirmOffload(rigcam.ConfirmOffloadRequest{
		SessionID: "m4",
		CameraID:  "CAM_L",
		File:      rec.FileName,
		Checksum:  rigcam.ChecksumValue{Algo: "sha256", Value: rec.Checksum.Value},
	})
	require.NoError(t, err)

	_, err = os.Stat(clip)
	assert.True(t, os.IsNotExist(err), "offloaded clip should be evicted")
	_, err = f.store.Find("m4", "CAM_L")
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestSelfTestPassesInSimulateMode(t *testing.T) {
	f := newFixture(t)

	resp := f.ctrl.SelfTest()
	assert.True(t, resp.Passed)
	require.Len(t, resp.Details, 5)
	assert.Contains(t, resp.Details[0], "simulate mode")
}

func TestTestRecording(t *testing.T) {
	f := newFixture(t)

	resp, err := f.ctrl.TestRecording()
	require.NoError(t, err)
	assert.True(t, resp.Passed)
	assert.Contains(t, resp.Detail, "captured")

	// test clip must not linger
	entries, err := os.ReadDir(f.cfg.RecordingsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTestRecordingRejectedWhileRecording(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "busy"})
	require.NoError(t, err)

	_, err = f.ctrl.TestRecording()
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = f.ctrl.Stop()
	require.NoError(t, err)
}

func TestListReturnsStoredManifests(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"a", "b"} {
		_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: id})
		require.NoError(t, err)
		_, err = f.ctrl.Stop()
		require.NoError(t, err)
	}

	list, err := f.ctrl.List()
	require.NoError(t, err)
	assert.Len(t, list.Recordings, 2)
	assert.Nil(t, list.Active)

	// an in-flight session rides along with the stored manifests
	_, err = f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "live"})
	require.NoError(t, err)

	list, err = f.ctrl.List()
	require.NoError(t, err)
	assert.Len(t, list.Recordings, 2)
	require.NotNil(t, list.Active)
	assert.Equal(t, "live", list.Active.SessionID)
	assert.GreaterOrEqual(t, list.Active.ElapsedSeconds, 0)

	_, err = f.ctrl.Stop()
	require.NoError(t, err)
}

func TestConfirmOffloadEvictsUnderSpacePressure(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "m5"})
	require.NoError(t, err)
	_, err = f.ctrl.Stop()
	require.NoError(t, err)

	rec, err := f.store.Find("m5", "CAM_L")
	require.NoError(t, err)
	clip := filepath.Join(f.cfg.RecordingsDir(), rec.FileName)
	assert.FileExists(t, clip)

	// free space is now below the minimum, so the confirmed clip is
	// reclaimable even without delete-after-confirm
	f.cfg.FreeSpaceMinGB = 1e9

	_, err = f.ctrl.ConfirmOffload(rigcam.ConfirmOffloadRequest{
		SessionID: "m5",
		CameraID:  "CAM_L",
		File:      rec.FileName,
		Checksum:  rigcam.ChecksumValue{Algo: "sha256", Value: rec.Checksum.Value},
	})
	require.NoError(t, err)

	_, err = os.Stat(clip)
	assert.True(t, os.IsNotExist(err), "offloaded clip should be evicted under space pressure")
	_, err = f.store.Find("m5", "CAM_L")
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestStartDurationOverride(t *testing.T) {
	f := newFixture(t)

	minutes := 1
	info, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "m6", DurationMinutes: &minutes})
	require.NoError(t, err)
	assert.Equal(t, 60, info.TargetSeconds)

	_, err = f.ctrl.Stop()
	require.NoError(t, err)
}

func TestStaleAutoStopLeavesSuccessorAlone(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "first"})
	require.NoError(t, err)
	_, err = f.ctrl.Stop()
	require.NoError(t, err)

	_, err = f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: "second"})
	require.NoError(t, err)

	// a timer left over from the first session must not finalize the second
	f.ctrl.autoStop("first")

	active, ok := f.ctrl.ActiveSession()
	require.True(t, ok, "successor session must survive a stale timer")
	assert.Equal(t, "second", active.SessionID)

	_, err = f.ctrl.Stop()
	require.NoError(t, err)
}

func TestAutoStopRacesExplicitStop(t *testing.T) {
	f := newFixture(t)
	f.ctrl.targetDuration = 5 * time.Millisecond

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("race-%d", i)
		_, err := f.ctrl.Start(rigcam.StartRecordingRequest{SessionID: id})
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := f.ctrl.Stop()
			done <- err
		}()

		err = <-done
		if err != nil {
			assert.ErrorIs(t, err, ErrNoActiveSession)
		}
		require.Eventually(t, func() bool {
			_, ok := f.ctrl.ActiveSession()
			return !ok
		}, 2*time.Second, time.Millisecond)

		// one finalization, one manifest, no matter which stopper won
		_, err = f.store.Find(id, "CAM_L")
		require.NoError(t, err)
	}
}
